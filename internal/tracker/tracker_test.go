package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	internaldb "github.com/dextrack/chainsight/internal/db"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/migrations"
	"github.com/dextrack/chainsight/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// fakeHeaderSource serves headers from a fixed map, as a remote node would
// after settling on one branch.
type fakeHeaderSource struct {
	headers map[uint64]*types.Header
	calls   int
}

func (f *fakeHeaderSource) HeaderByHeight(ctx context.Context, height uint64) (*types.Header, error) {
	f.calls++
	header, ok := f.headers[height]
	if !ok {
		return nil, fmt.Errorf("no header at height %d", height)
	}
	return header, nil
}

func setupTestTracker(t *testing.T, src HeaderSource, maxDepth uint64) *Tracker {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "tracker_test.db")}
	cfg.ApplyDefaults()
	require.NoError(t, migrations.RunMigrations(cfg))

	database, err := internaldb.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	trk, err := New(database, src, config.TrackerConfig{MaxDepth: maxDepth},
		logger.NewNopLogger(), &internaldb.NoOpMaintenance{})
	require.NoError(t, err)

	return trk
}

func makeHeader(height uint64, parent common.Hash, seed uint64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(height),
		ParentHash: parent,
		Difficulty: big.NewInt(1),
		GasLimit:   8000000,
		Time:       1000000 + seed,
	}
}

// makeChain builds a linked chain of headers from `from` to `to` inclusive.
// Seed disambiguates branches: two chains with different seeds fork into
// different hashes even at the same heights.
func makeChain(from, to uint64, parent common.Hash, seed uint64) []*types.Header {
	chain := make([]*types.Header, 0, to-from+1)
	for height := from; height <= to; height++ {
		header := makeHeader(height, parent, seed)
		chain = append(chain, header)
		parent = header.Hash()
	}
	return chain
}

func recordChain(t *testing.T, trk *Tracker, chain []*types.Header) {
	t.Helper()
	for _, header := range chain {
		require.NoError(t, trk.Record(context.Background(), header))
	}
}

func headerMap(chains ...[]*types.Header) map[uint64]*types.Header {
	m := make(map[uint64]*types.Header)
	for _, chain := range chains {
		for _, header := range chain {
			m[header.Number.Uint64()] = header
		}
	}
	return m
}

func TestTracker_RecordAndHashAt(t *testing.T) {
	trk := setupTestTracker(t, &fakeHeaderSource{}, 64)
	ctx := context.Background()

	chain := makeChain(10, 12, common.HexToHash("0x09"), 1)
	recordChain(t, trk, chain)

	hash, err := trk.HashAt(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, chain[1].Hash(), hash)

	_, err = trk.HashAt(ctx, 99)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTracker_RecordOverwritesSameHeight(t *testing.T) {
	trk := setupTestTracker(t, &fakeHeaderSource{}, 64)
	ctx := context.Background()

	first := makeHeader(10, common.HexToHash("0x09"), 1)
	second := makeHeader(10, common.HexToHash("0x09"), 2)
	require.NotEqual(t, first.Hash(), second.Hash())

	require.NoError(t, trk.Record(ctx, first))
	require.NoError(t, trk.Record(ctx, second))

	hash, err := trk.HashAt(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, second.Hash(), hash)
}

func TestTracker_EvaluateExtendingHeader(t *testing.T) {
	src := &fakeHeaderSource{}
	trk := setupTestTracker(t, src, 64)
	ctx := context.Background()

	chain := makeChain(10, 12, common.HexToHash("0x09"), 1)
	recordChain(t, trk, chain)

	next := makeHeader(13, chain[2].Hash(), 1)
	require.NoError(t, trk.Evaluate(ctx, next, chain[2].Hash()))
	require.Zero(t, src.calls, "an extending header needs no remote walk-back")
}

func TestTracker_EvaluateDetectsReorg(t *testing.T) {
	// Local chain 1..10 on branch A; remote replaced heights 8..10 with
	// branch B and presents a new head at 11.
	branchA := makeChain(1, 10, common.HexToHash("0x00"), 1)
	ancestor := branchA[6] // height 7
	branchB := makeChain(8, 11, ancestor.Hash(), 2)

	src := &fakeHeaderSource{headers: headerMap(branchA[:7], branchB)}
	trk := setupTestTracker(t, src, 64)
	ctx := context.Background()

	recordChain(t, trk, branchA)

	newHead := branchB[3] // height 11, parent is B's block 10
	err := trk.Evaluate(ctx, newHead, branchA[9].Hash())

	var reorgErr *ReorgDetectedError
	require.ErrorAs(t, err, &reorgErr)
	require.Equal(t, uint64(7), reorgErr.AncestorHeight)
	require.Equal(t, ancestor.Hash(), reorgErr.AncestorHash)
	require.Equal(t, uint64(8), reorgErr.Window.DivergenceHeight)
	require.Equal(t, uint64(11), reorgErr.Window.NewHeadHeight)
	require.Equal(t, uint64(4), reorgErr.Window.Depth())
}

func TestTracker_EvaluateDepthExceeded(t *testing.T) {
	// Remote diverges below everything within the walk-back bound.
	branchA := makeChain(1, 20, common.HexToHash("0x00"), 1)
	branchB := makeChain(1, 21, common.HexToHash("0x00"), 2)

	src := &fakeHeaderSource{headers: headerMap(branchB)}
	trk := setupTestTracker(t, src, 5)
	ctx := context.Background()

	recordChain(t, trk, branchA)

	err := trk.Evaluate(ctx, branchB[20], branchA[19].Hash())

	var depthErr *ReorgDepthExceededError
	require.ErrorAs(t, err, &depthErr)
	require.Equal(t, uint64(5), depthErr.MaxDepth)
	require.Equal(t, uint64(21), depthErr.HeadHeight)
}

func TestTracker_EvaluateSkipsWindowHoles(t *testing.T) {
	// A crash between commit and record leaves height 10 untracked. The
	// walk-back must still find the ancestor below the hole.
	branchA := makeChain(1, 10, common.HexToHash("0x00"), 1)
	ancestor := branchA[8] // height 9
	branchB := makeChain(10, 11, ancestor.Hash(), 2)

	src := &fakeHeaderSource{headers: headerMap(branchA[:9], branchB)}
	trk := setupTestTracker(t, src, 64)
	ctx := context.Background()

	recordChain(t, trk, branchA[:9]) // height 10 never recorded

	err := trk.Evaluate(ctx, branchB[1], branchA[9].Hash())

	var reorgErr *ReorgDetectedError
	require.ErrorAs(t, err, &reorgErr)
	require.Equal(t, uint64(9), reorgErr.AncestorHeight)
	require.Equal(t, ancestor.Hash(), reorgErr.AncestorHash)
}

func TestTracker_TruncateAbove(t *testing.T) {
	trk := setupTestTracker(t, &fakeHeaderSource{}, 64)
	ctx := context.Background()

	chain := makeChain(1, 10, common.HexToHash("0x00"), 1)
	recordChain(t, trk, chain)

	require.NoError(t, trk.TruncateAbove(ctx, 7))

	hash, err := trk.HashAt(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, chain[6].Hash(), hash)

	_, err = trk.HashAt(ctx, 8)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTracker_PruneKeepsWalkBackWindow(t *testing.T) {
	trk := setupTestTracker(t, &fakeHeaderSource{}, 5)
	ctx := context.Background()

	chain := makeChain(1, 20, common.HexToHash("0x00"), 1)
	recordChain(t, trk, chain)

	require.NoError(t, trk.Prune(ctx, 20))

	_, err := trk.HashAt(ctx, 14)
	require.ErrorIs(t, err, sql.ErrNoRows)

	hash, err := trk.HashAt(ctx, 15)
	require.NoError(t, err)
	require.Equal(t, chain[14].Hash(), hash)

	hash, err = trk.HashAt(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, chain[19].Hash(), hash)
}

func TestTracker_PruneNoopNearGenesis(t *testing.T) {
	trk := setupTestTracker(t, &fakeHeaderSource{}, 64)
	ctx := context.Background()

	chain := makeChain(1, 10, common.HexToHash("0x00"), 1)
	recordChain(t, trk, chain)

	require.NoError(t, trk.Prune(ctx, 10))

	hash, err := trk.HashAt(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, chain[0].Hash(), hash)
}
