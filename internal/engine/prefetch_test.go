package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dextrack/chainsight/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPrefetcher_DeliversInOrder(t *testing.T) {
	src := &fakeSource{}
	src.setChain(makeBlocks(1, 5, common.HexToHash("0x00"), 1, nil))

	p := newPrefetcher(src, 2, 5*time.Millisecond, logger.NewNopLogger())
	p.Start(context.Background(), 1)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for height := uint64(1); height <= 5; height++ {
		block, err := p.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, height, block.Height())
	}
}

func TestPrefetcher_WaitsForChainToAdvance(t *testing.T) {
	src := &fakeSource{}
	src.setChain(makeBlocks(1, 2, common.HexToHash("0x00"), 1, nil))

	p := newPrefetcher(src, 2, 5*time.Millisecond, logger.NewNopLogger())
	p.Start(context.Background(), 1)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for height := uint64(1); height <= 2; height++ {
		block, err := p.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, height, block.Height())
	}

	// Height 3 appears only after the prefetcher has caught up
	src.setChain(makeBlocks(1, 3, common.HexToHash("0x00"), 1, nil))

	block, err := p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), block.Height())
}

func TestPrefetcher_ResetDiscardsStaleBlocks(t *testing.T) {
	src := &fakeSource{}
	src.setChain(makeBlocks(1, 10, common.HexToHash("0x00"), 1, nil))

	p := newPrefetcher(src, 4, 5*time.Millisecond, logger.NewNopLogger())
	p.Start(context.Background(), 1)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	block, err := p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.Height())

	// Rollback landed: everything buffered beyond the ancestor is stale
	p.Reset(7)

	block, err = p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), block.Height(), "first post-reset block starts at the replay height")

	block, err = p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(8), block.Height())
}

func TestPrefetcher_ResetReturnsAfterShutdown(t *testing.T) {
	src := &fakeSource{}
	src.setChain(makeBlocks(1, 3, common.HexToHash("0x00"), 1, nil))

	p := newPrefetcher(src, 2, 5*time.Millisecond, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, 1)

	cancel()
	p.Stop()

	// A rollback racing shutdown must not hang the writer: with the fetch
	// loop gone there is no receiver left for the reset signal.
	done := make(chan struct{})
	go func() {
		p.Reset(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reset did not return after the fetch loop exited")
	}
}

func TestPrefetcher_NextHonorsContext(t *testing.T) {
	src := &fakeSource{}

	p := newPrefetcher(src, 2, time.Minute, logger.NewNopLogger())
	p.Start(context.Background(), 1)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
