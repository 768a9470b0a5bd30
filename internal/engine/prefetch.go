package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/source"
	"golang.org/x/sync/errgroup"
)

type fetchResult struct {
	gen   uint64
	block *source.BlockData
	err   error
}

// prefetcher fetches blocks ahead of the writer into a bounded buffer.
// A single background goroutine fetches strictly sequential heights, so
// results arrive in order. On a rollback the writer calls Reset, which bumps
// the generation counter: blocks prefetched on the abandoned branch carry
// the old generation and are discarded by Next instead of being applied.
type prefetcher struct {
	source       source.Source
	log          *logger.Logger
	pollInterval time.Duration

	buffer  chan fetchResult
	resetCh chan uint64
	gen     atomic.Uint64
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

func newPrefetcher(src source.Source, depth int, pollInterval time.Duration, log *logger.Logger) *prefetcher {
	return &prefetcher{
		source:       src,
		log:          log,
		pollInterval: pollInterval,
		buffer:       make(chan fetchResult, depth),
		resetCh:      make(chan uint64),
	}
}

// Start launches the background fetch loop beginning at startHeight.
func (p *prefetcher) Start(ctx context.Context, startHeight uint64) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	p.ctx = ctx

	p.group.Go(func() error {
		p.loop(ctx, startHeight)
		return nil
	})
}

// Stop cancels the fetch loop and waits for it to exit.
func (p *prefetcher) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	_ = p.group.Wait()
}

func (p *prefetcher) loop(ctx context.Context, height uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-p.resetCh:
			height = h
			continue
		default:
		}

		gen := p.gen.Load()

		block, err := p.source.BlockByHeight(ctx, height)
		if errors.Is(err, source.ErrNotFound) {
			// Caught up with the remote head, wait for the chain to advance
			select {
			case <-ctx.Done():
				return
			case h := <-p.resetCh:
				height = h
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case h := <-p.resetCh:
			height = h
			continue
		case p.buffer <- fetchResult{gen: gen, block: block, err: err}:
		}

		if err != nil {
			// Retries are exhausted inside the source, so this is fatal for
			// the writer. Wait for a reset instead of hammering the remote.
			select {
			case <-ctx.Done():
				return
			case h := <-p.resetCh:
				height = h
			}
			continue
		}

		height++
	}
}

// Next blocks until the next in-order result from the current generation is
// available. Results fetched before the latest Reset are silently dropped.
func (p *prefetcher) Next(ctx context.Context) (*source.BlockData, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-p.buffer:
			if result.gen != p.gen.Load() {
				continue
			}
			return result.block, result.err
		}
	}
}

// Reset discards everything prefetched so far and restarts fetching from the
// given height. The fetch loop stops receiving once its context is cancelled,
// so Reset must not block past shutdown.
func (p *prefetcher) Reset(height uint64) {
	p.gen.Add(1)
	select {
	case p.resetCh <- height:
	case <-p.ctx.Done():
	}
}
