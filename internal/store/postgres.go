package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
)

// PostgresStore is the remote Session Store backend: one physical table
// per artifact tag, named per tableName (honoring the Party1MasterKey
// exception), row-keyed by (customer_id, session_id) when the tag
// requires a customer scope, else by session_id alone.
type PostgresStore struct {
	db           *sql.DB
	env          string
	masterSecret []byte
}

// NewPostgresStore opens a connection pool against dsn. Per-tag tables are
// created lazily on first Put, not eagerly here.
func NewPostgresStore(dsn, env string, masterSecret []byte) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, newStorageError("open", CodeConnection, err)
	}
	if err := db.Ping(); err != nil {
		return nil, newStorageError("open", CodeConnection, err)
	}
	return &PostgresStore{db: db, env: env, masterSecret: masterSecret}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureTable(ctx context.Context, tag Tag) (string, error) {
	table := pq.QuoteIdentifier(tableName(s.env, tag))
	var ddl string
	if requireCustomerID(tag) {
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			customer_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (customer_id, session_id)
		)`, table)
	} else {
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return "", err
	}
	return table, nil
}

func (s *PostgresStore) Put(ctx context.Context, customerID, sessionID string, tag Tag, value any) error {
	start := time.Now()
	plaintext, err := marshalArtifact(tag, value)
	if err != nil {
		return newStorageError("put", CodeTypeMismatch, err)
	}
	sealed, err := seal(s.masterSecret, plaintext)
	if err != nil {
		return newStorageError("put", CodeWrite, err)
	}

	table, err := s.ensureTable(ctx, tag)
	if err != nil {
		return newStorageError("put", CodeConfig, err)
	}

	if requireCustomerID(tag) {
		_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (customer_id, session_id, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (customer_id, session_id) DO UPDATE SET value = excluded.value, updated_at = now()
		`, table), customerID, sessionID, sealed)
	} else {
		_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (session_id, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (session_id) DO UPDATE SET value = excluded.value, updated_at = now()
		`, table), sessionID, sealed)
	}

	metrics.RecordStoreOperation("postgres", "put", err == nil, time.Since(start))
	if err != nil {
		return newStorageError("put", CodeWrite, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, customerID, sessionID string, tag Tag, out any) (bool, error) {
	start := time.Now()
	table := pq.QuoteIdentifier(tableName(s.env, tag))

	var sealed []byte
	var err error
	if requireCustomerID(tag) {
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE customer_id = $1 AND session_id = $2`, table), customerID, sessionID).Scan(&sealed)
	} else {
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE session_id = $1`, table), sessionID).Scan(&sealed)
	}

	if isMissingTable(err) || err == sql.ErrNoRows {
		metrics.RecordStoreOperation("postgres", "get", true, time.Since(start))
		return false, nil
	}
	if err != nil {
		metrics.RecordStoreOperation("postgres", "get", false, time.Since(start))
		return false, newStorageError("get", CodeRead, err)
	}

	plaintext, err := open(s.masterSecret, sealed)
	if err != nil {
		metrics.RecordStoreOperation("postgres", "get", false, time.Since(start))
		return false, newStorageError("get", CodeRead, err)
	}

	if err := unmarshalArtifact(tag, plaintext, out); err != nil {
		metrics.RecordStoreOperation("postgres", "get", false, time.Since(start))
		return false, newStorageError("get", CodeTypeMismatch, err)
	}

	metrics.RecordStoreOperation("postgres", "get", true, time.Since(start))
	return true, nil
}

func (s *PostgresStore) HasActiveShare(ctx context.Context, customerID string) (bool, error) {
	start := time.Now()
	table := pq.QuoteIdentifier(tableName(s.env, TagParty1MasterKey))

	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE customer_id = $1`, table), customerID).Scan(&count)

	if isMissingTable(err) {
		metrics.RecordStoreOperation("postgres", "has_active_share", true, time.Since(start))
		return false, nil
	}
	metrics.RecordStoreOperation("postgres", "has_active_share", err == nil, time.Since(start))
	if err != nil {
		return false, newStorageError("has_active_share", CodeRead, err)
	}
	return count > 0, nil
}

// isMissingTable reports whether err is Postgres' "relation does not
// exist" error (SQLSTATE 42P01), which means the tag's table was never
// created because nothing was ever Put under it.
func isMissingTable(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "42P01"
}
