package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
)

// SQLiteStore is the embedded-KV Session Store backend: a single flat
// table, key = customer_id + "_" + session_id + "_" + tag_name.
type SQLiteStore struct {
	db           *sql.DB
	masterSecret []byte
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the flat kv table exists.
func NewSQLiteStore(path string, masterSecret []byte) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, newStorageError("open", CodeConnection, err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		tag TEXT NOT NULL,
		value BLOB NOT NULL
	)`); err != nil {
		return nil, newStorageError("migrate", CodeConfig, err)
	}

	return &SQLiteStore{db: db, masterSecret: masterSecret}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, customerID, sessionID string, tag Tag, value any) error {
	start := time.Now()
	plaintext, err := marshalArtifact(tag, value)
	if err != nil {
		return newStorageError("put", CodeTypeMismatch, err)
	}

	sealed, err := seal(s.masterSecret, plaintext)
	if err != nil {
		return newStorageError("put", CodeWrite, err)
	}

	key := Idify(customerID, sessionID, tag)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, tag, value) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(tag), sealed)

	metrics.RecordStoreOperation("sqlite", "put", err == nil, time.Since(start))
	if err != nil {
		return newStorageError("put", CodeWrite, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, customerID, sessionID string, tag Tag, out any) (bool, error) {
	start := time.Now()
	key := Idify(customerID, sessionID, tag)

	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&sealed)
	if err == sql.ErrNoRows {
		metrics.RecordStoreOperation("sqlite", "get", true, time.Since(start))
		return false, nil
	}
	if err != nil {
		metrics.RecordStoreOperation("sqlite", "get", false, time.Since(start))
		return false, newStorageError("get", CodeRead, err)
	}

	plaintext, err := open(s.masterSecret, sealed)
	if err != nil {
		metrics.RecordStoreOperation("sqlite", "get", false, time.Since(start))
		return false, newStorageError("get", CodeRead, err)
	}

	if err := unmarshalArtifact(tag, plaintext, out); err != nil {
		metrics.RecordStoreOperation("sqlite", "get", false, time.Since(start))
		return false, newStorageError("get", CodeTypeMismatch, err)
	}

	metrics.RecordStoreOperation("sqlite", "get", true, time.Since(start))
	return true, nil
}

func (s *SQLiteStore) HasActiveShare(ctx context.Context, customerID string) (bool, error) {
	start := time.Now()
	prefix := customerID + "_"
	suffix := "_" + string(TagParty1MasterKey)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kv
		WHERE tag = ? AND key LIKE ? AND key LIKE ?
	`, string(TagParty1MasterKey), prefix+"%", "%"+suffix).Scan(&count)

	metrics.RecordStoreOperation("sqlite", "has_active_share", err == nil, time.Since(start))
	if err != nil {
		return false, newStorageError("has_active_share", CodeRead, err)
	}

	// LIKE on both ends is a coarse filter; confirm the prefix/suffix frame
	// a tag-only middle section rather than matching a longer key by luck.
	if count == 0 {
		return false, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE tag = ? AND key LIKE ?`, string(TagParty1MasterKey), prefix+"%")
	if err != nil {
		return false, newStorageError("has_active_share", CodeRead, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return false, newStorageError("has_active_share", CodeRead, err)
		}
		rest := strings.TrimPrefix(key, prefix)
		if rest == "_"+string(TagParty1MasterKey) || strings.HasSuffix(rest, suffix) {
			return true, nil
		}
	}
	return false, nil
}
