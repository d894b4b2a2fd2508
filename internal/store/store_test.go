package store

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "store.db"), []byte("test-master-secret-32-bytes-ok!"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorePutGetRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	want := mpc.Party1Private{X1: big.NewInt(12345), CKey: big.NewInt(999)}
	require.NoError(t, s.Put(ctx, "cust-1", "sess-1", TagParty1Private, want))

	var got mpc.Party1Private
	ok, err := s.Get(ctx, "cust-1", "sess-1", TagParty1Private, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.X1.String(), got.X1.String())
	require.Equal(t, want.CKey.String(), got.CKey.String())
}

func TestSQLiteStoreGetMissingIsNotError(t *testing.T) {
	s := newTestSQLiteStore(t)
	var got mpc.Party1Private
	ok, err := s.Get(context.Background(), "cust-1", "sess-nope", TagParty1Private, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteStorePutRejectsWrongType(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.Put(context.Background(), "cust-1", "sess-1", TagParty1Private, mpc.Party2Public{})
	require.Error(t, err)
}

func TestSQLiteStoreGetRejectsWrongOutType(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "cust-1", "sess-1", TagParty1Private, mpc.Party1Private{X1: big.NewInt(1), CKey: big.NewInt(1)}))

	var wrongOut mpc.Party2Public
	_, err := s.Get(ctx, "cust-1", "sess-1", TagParty1Private, &wrongOut)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unable to cast")
}

func TestSQLiteStoreHasActiveShare(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	has, err := s.HasActiveShare(ctx, "cust-1")
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, s.Put(ctx, "cust-1", "sess-1", TagParty1MasterKey, mpc.MasterKey1{X1: big.NewInt(7)}))

	has, err = s.HasActiveShare(ctx, "cust-1")
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.HasActiveShare(ctx, "cust-2")
	require.NoError(t, err)
	require.False(t, has)
}

func TestTableNameHonorsPartyOneMasterKeyException(t *testing.T) {
	require.Equal(t, "prod_Party1MasterKey", tableName("prod", TagParty1MasterKey))
	require.Equal(t, "prod-gotham-Party2Public", tableName("prod", TagParty2Public))
}

func TestRequireCustomerID(t *testing.T) {
	require.True(t, requireCustomerID(TagParty1MasterKey))
	require.True(t, requireCustomerID(TagAbort))
	require.False(t, requireCustomerID(TagParty2Public))
}
