package store

import (
	"context"
	"database/sql"
	"math/big"
	"path/filepath"
	"testing"

	internaldb "github.com/dextrack/chainsight/internal/db"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/migrations"
	"github.com/dextrack/chainsight/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*IndexStore, *sql.DB) {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "store_test.db")}
	cfg.ApplyDefaults()

	require.NoError(t, migrations.RunMigrations(cfg))

	database, err := internaldb.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s, err := New(database, logger.NewNopLogger(), &internaldb.NoOpMaintenance{})
	require.NoError(t, err)

	return s, database
}

func entry(subject common.Address, height uint64, balance int64, events uint64) Entry {
	return Entry{
		Subject:    subject,
		Height:     height,
		Balance:    big.NewInt(balance),
		EventCount: events,
	}
}

func TestIndexStore_FreshCursorIsGenesis(t *testing.T) {
	s, _ := setupTestStore(t)

	cursor := s.Cursor()
	require.True(t, cursor.IsGenesis())
	require.Equal(t, uint64(0), cursor.Height)
}

func TestIndexStore_ApplyBlockAdvancesCursor(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	subject := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	hash := common.HexToHash("0x01")

	err := s.ApplyBlock(ctx, 10, hash, []Entry{entry(subject, 10, 100, 1)})
	require.NoError(t, err)

	cursor := s.Cursor()
	require.Equal(t, uint64(10), cursor.Height)
	require.Equal(t, hash, cursor.Hash)
	require.False(t, cursor.IsGenesis())

	value, err := s.GetAsOf(ctx, subject, 10)
	require.NoError(t, err)
	require.NotNil(t, value)
	require.Equal(t, "100", value.Balance.String())
	require.Equal(t, uint64(1), value.EventCount)
}

func TestIndexStore_ApplyBlockRejectsWrongHeight(t *testing.T) {
	s, _ := setupTestStore(t)

	subject := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	err := s.ApplyBlock(context.Background(), 10, common.HexToHash("0x01"),
		[]Entry{entry(subject, 11, 100, 1)})
	require.Error(t, err)

	// Nothing committed
	require.True(t, s.Cursor().IsGenesis())
}

func TestIndexStore_GetAsOfResolvesHighestAtOrBelow(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	subject := common.HexToAddress("0xaaaa000000000000000000000000000000000001")

	require.NoError(t, s.ApplyBlock(ctx, 5, common.HexToHash("0x05"), []Entry{entry(subject, 5, 50, 1)}))
	require.NoError(t, s.ApplyBlock(ctx, 6, common.HexToHash("0x06"), nil))
	require.NoError(t, s.ApplyBlock(ctx, 7, common.HexToHash("0x07"), []Entry{entry(subject, 7, 70, 2)}))

	tests := []struct {
		name        string
		height      uint64
		wantBalance string
		wantFound   bool
	}{
		{name: "below first entry", height: 4, wantFound: false},
		{name: "exact first entry", height: 5, wantBalance: "50", wantFound: true},
		{name: "gap resolves to earlier entry", height: 6, wantBalance: "50", wantFound: true},
		{name: "exact second entry", height: 7, wantBalance: "70", wantFound: true},
		{name: "above last entry", height: 100, wantBalance: "70", wantFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := s.GetAsOf(ctx, subject, tt.height)
			require.NoError(t, err)

			if !tt.wantFound {
				require.Nil(t, value)
				return
			}
			require.NotNil(t, value)
			require.Equal(t, tt.wantBalance, value.Balance.String())
		})
	}
}

func TestIndexStore_PutIsIdempotent(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	subject := common.HexToAddress("0xaaaa000000000000000000000000000000000001")

	require.NoError(t, s.Put(ctx, entry(subject, 5, 50, 1)))
	require.NoError(t, s.Put(ctx, entry(subject, 5, 55, 2)))

	value, err := s.GetAsOf(ctx, subject, 5)
	require.NoError(t, err)
	require.Equal(t, "55", value.Balance.String())
	require.Equal(t, uint64(2), value.EventCount)

	var count int64
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM index_entries WHERE subject = ?", subject.Hex()).Scan(&count))
	require.Equal(t, int64(1), count)
}

func TestIndexStore_RollbackTruncatesAboveAncestor(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	alice := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob := common.HexToAddress("0xbbbb000000000000000000000000000000000002")

	require.NoError(t, s.ApplyBlock(ctx, 5, common.HexToHash("0x05"), []Entry{entry(alice, 5, 50, 1)}))
	require.NoError(t, s.ApplyBlock(ctx, 6, common.HexToHash("0x06"), []Entry{entry(bob, 6, 60, 1)}))
	require.NoError(t, s.ApplyBlock(ctx, 7, common.HexToHash("0x07"), []Entry{
		entry(alice, 7, 70, 2),
		entry(bob, 7, 75, 2),
	}))

	ancestorHash := common.HexToHash("0x05")
	require.NoError(t, s.Rollback(ctx, 5, ancestorHash))

	cursor := s.Cursor()
	require.Equal(t, uint64(5), cursor.Height)
	require.Equal(t, ancestorHash, cursor.Hash)

	// Entries above the ancestor are gone for every subject
	aliceValue, err := s.GetAsOf(ctx, alice, 100)
	require.NoError(t, err)
	require.Equal(t, "50", aliceValue.Balance.String())

	bobValue, err := s.GetAsOf(ctx, bob, 100)
	require.NoError(t, err)
	require.Nil(t, bobValue)
}

func TestIndexStore_RollbackThenReapplyMatchesDirectIndexing(t *testing.T) {
	// Indexing prefix+branch directly and indexing prefix+oldBranch, rolling
	// back, then replaying the new branch must produce identical answers.
	ctx := context.Background()
	subject := common.HexToAddress("0xaaaa000000000000000000000000000000000001")

	prefix := []Entry{entry(subject, 1, 10, 1), entry(subject, 2, 20, 2)}
	oldBranch := []Entry{entry(subject, 3, 999, 3), entry(subject, 4, 1000, 4)}
	newBranch := []Entry{entry(subject, 3, 30, 3), entry(subject, 4, 40, 4)}

	apply := func(s *IndexStore, entries []Entry) {
		for _, e := range entries {
			hash := common.BigToHash(big.NewInt(int64(e.Height)))
			require.NoError(t, s.ApplyBlock(ctx, e.Height, hash, []Entry{e}))
		}
	}

	direct, _ := setupTestStore(t)
	apply(direct, prefix)
	apply(direct, newBranch)

	reorged, _ := setupTestStore(t)
	apply(reorged, prefix)
	apply(reorged, oldBranch)
	require.NoError(t, reorged.Rollback(ctx, 2, common.BigToHash(big.NewInt(2))))
	apply(reorged, newBranch)

	for height := uint64(1); height <= 4; height++ {
		want, err := direct.GetAsOf(ctx, subject, height)
		require.NoError(t, err)
		got, err := reorged.GetAsOf(ctx, subject, height)
		require.NoError(t, err)

		require.Equal(t, want.Balance.String(), got.Balance.String(), "height %d", height)
		require.Equal(t, want.EventCount, got.EventCount, "height %d", height)
	}

	require.Equal(t, direct.Cursor().Height, reorged.Cursor().Height)
	require.Equal(t, direct.Cursor().Hash, reorged.Cursor().Hash)
}

func TestIndexStore_GetBatchAsOf(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	alice := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob := common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	carol := common.HexToAddress("0xcccc000000000000000000000000000000000003")

	require.NoError(t, s.ApplyBlock(ctx, 5, common.HexToHash("0x05"), []Entry{
		entry(alice, 5, 50, 1),
		entry(bob, 5, 60, 1),
	}))

	values, err := s.GetBatchAsOf(ctx, []common.Address{alice, bob, carol}, 5)
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.Equal(t, "50", values[alice].Balance.String())
	require.Equal(t, "60", values[bob].Balance.String())
	require.NotContains(t, values, carol)
}

func TestIndexStore_SubjectCount(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	count, err := s.SubjectCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	alice := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob := common.HexToAddress("0xbbbb000000000000000000000000000000000002")

	require.NoError(t, s.ApplyBlock(ctx, 5, common.HexToHash("0x05"), []Entry{
		entry(alice, 5, 50, 1),
		entry(bob, 5, 60, 1),
	}))
	require.NoError(t, s.ApplyBlock(ctx, 6, common.HexToHash("0x06"), []Entry{
		entry(alice, 6, 51, 2),
	}))

	count, err = s.SubjectCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestIndexStore_CursorSurvivesReopen(t *testing.T) {
	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "store_test.db")}
	cfg.ApplyDefaults()
	require.NoError(t, migrations.RunMigrations(cfg))

	database, err := internaldb.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)

	s, err := New(database, logger.NewNopLogger(), &internaldb.NoOpMaintenance{})
	require.NoError(t, err)

	subject := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	hash := common.HexToHash("0xabcd")
	require.NoError(t, s.ApplyBlock(context.Background(), 42, hash, []Entry{entry(subject, 42, 1, 1)}))
	require.NoError(t, database.Close())

	reopened, err := internaldb.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	s2, err := New(reopened, logger.NewNopLogger(), &internaldb.NoOpMaintenance{})
	require.NoError(t, err)

	cursor := s2.Cursor()
	require.Equal(t, uint64(42), cursor.Height)
	require.Equal(t, hash, cursor.Hash)
}
