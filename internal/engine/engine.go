package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	internalcommon "github.com/dextrack/chainsight/internal/common"
	"github.com/dextrack/chainsight/internal/events"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/metrics"
	"github.com/dextrack/chainsight/internal/source"
	"github.com/dextrack/chainsight/internal/store"
	"github.com/dextrack/chainsight/internal/tracker"
	"github.com/dextrack/chainsight/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// State is the engine's position in the per-block processing cycle.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateDecoding    State = "decoding"
	StateApplying    State = "applying"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
	StateHalted      State = "halted"
)

// Status is a snapshot of the engine for the status endpoint.
type Status struct {
	State        State  `json:"state"`
	CursorHeight uint64 `json:"cursor_height"`
	CursorHash   string `json:"cursor_hash"`
	LastError    string `json:"last_error,omitempty"`
}

// Engine is the single writer. It advances the index one block at a time
// through fetch, decode, apply and commit, and handles reorganizations by
// rolling the store back to the common ancestor and replaying the divergent
// window on the new branch.
type Engine struct {
	cfg     config.EngineConfig
	source  source.Source
	tracker *tracker.Tracker
	store   *store.IndexStore
	log     *logger.Logger

	state    atomic.Pointer[State]
	lastErr  atomic.Pointer[string]
	prefetch *prefetcher
}

// New creates an Engine wiring the source, tracker and store together.
func New(
	cfg config.EngineConfig,
	src source.Source,
	trk *tracker.Tracker,
	st *store.IndexStore,
	log *logger.Logger,
) *Engine {
	e := &Engine{
		cfg:     cfg,
		source:  src,
		tracker: trk,
		store:   st,
		log:     log.WithComponent(internalcommon.ComponentEngine),
	}
	e.setState(StateIdle)

	return e
}

// Status returns the current engine state alongside the committed cursor.
func (e *Engine) Status() Status {
	cursor := e.store.Cursor()
	status := Status{
		State:        *e.state.Load(),
		CursorHeight: cursor.Height,
		CursorHash:   cursor.Hash.Hex(),
	}
	if errStr := e.lastErr.Load(); errStr != nil {
		status.LastError = *errStr
	}

	return status
}

// Run drives the indexing loop until the context is cancelled or a fatal
// error occurs. On a fatal error the engine halts but the process stays up:
// readers keep serving the last committed state.
func (e *Engine) Run(ctx context.Context) error {
	next := e.nextHeight()

	e.log.Infow("indexing engine starting",
		"next_height", next,
		"prefetch_depth", e.cfg.PrefetchDepth,
		"poll_interval", e.cfg.PollInterval.String(),
	)
	metrics.ComponentHealthSet(internalcommon.ComponentEngine, true)

	group, ctx := errgroup.WithContext(ctx)

	if e.cfg.PrefetchDepth > 0 {
		e.prefetch = newPrefetcher(e.source, e.cfg.PrefetchDepth, e.cfg.PollInterval.Duration, e.log)
		e.prefetch.Start(ctx, next)
		defer e.prefetch.Stop()
	}

	group.Go(func() error {
		return e.runWriter(ctx, next)
	})
	group.Go(func() error {
		e.reportLag(ctx)
		return nil
	})

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		e.halt(err)
		return err
	}

	e.setState(StateIdle)
	metrics.ComponentHealthSet(internalcommon.ComponentEngine, false)

	return nil
}

func (e *Engine) runWriter(ctx context.Context, next uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		block, err := e.nextBlock(ctx, next)
		if errors.Is(err, source.ErrNotFound) {
			// Caught up; the chain has not advanced yet
			metrics.IndexingLagSet(0)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval.Duration):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fetch block %d: %w", next, err)
		}

		replayFrom, err := e.processBlock(ctx, block)
		if err != nil {
			return err
		}
		if replayFrom != 0 {
			next = replayFrom
			continue
		}

		next = block.Height() + 1
	}
}

// processBlock runs one block through the cycle. A non-zero replayFrom means
// a reorganization was handled and indexing must resume at that height.
func (e *Engine) processBlock(ctx context.Context, block *source.BlockData) (replayFrom uint64, err error) {
	start := time.Now()
	height := block.Height()
	cursor := e.store.Cursor()

	if !cursor.IsGenesis() && height != cursor.Height+1 {
		return 0, fmt.Errorf("height gap: cursor at %d, fetched block %d", cursor.Height, height)
	}

	if !cursor.IsGenesis() {
		err := e.tracker.Evaluate(ctx, block.Header, cursor.Hash)

		var reorgErr *tracker.ReorgDetectedError
		if errors.As(err, &reorgErr) {
			if err := e.handleReorg(ctx, reorgErr); err != nil {
				return 0, err
			}
			return reorgErr.AncestorHeight + 1, nil
		}
		if err != nil {
			return 0, err
		}
	}

	e.setState(StateDecoding)
	transfers, err := events.DecodeTransfers(block.Logs)
	if err != nil {
		return 0, fmt.Errorf("failed to decode block %d: %w", height, err)
	}

	e.setState(StateApplying)
	entries, err := e.aggregate(ctx, height, transfers)
	if err != nil {
		return 0, err
	}

	if err := e.store.ApplyBlock(ctx, height, block.Header.Hash(), entries); err != nil {
		return 0, err
	}

	if err := e.tracker.Record(ctx, block.Header); err != nil {
		return 0, err
	}
	if err := e.tracker.Prune(ctx, height); err != nil {
		return 0, err
	}

	e.setState(StateCommitted)
	metrics.BlockProcessingTimeLog(time.Since(start))

	e.log.Debugw("block committed",
		"height", height,
		"hash", block.Header.Hash().Hex(),
		"transfers", len(transfers),
		"entries", len(entries),
	)

	return 0, nil
}

// aggregate folds the block's transfers into new per-subject entries on top
// of each subject's state as of the previous height. Reading strictly below
// the applying height keeps replays idempotent.
func (e *Engine) aggregate(ctx context.Context, height uint64, transfers []events.Transfer) ([]store.Entry, error) {
	type delta struct {
		balance *big.Int
		events  uint64
	}
	deltas := make(map[common.Address]*delta)

	touch := func(subject common.Address) *delta {
		d, ok := deltas[subject]
		if !ok {
			d = &delta{balance: new(big.Int)}
			deltas[subject] = d
		}
		return d
	}

	for _, transfer := range transfers {
		from := touch(transfer.From)
		from.balance.Sub(from.balance, transfer.Amount)
		from.events++

		to := touch(transfer.To)
		to.balance.Add(to.balance, transfer.Amount)
		to.events++
	}

	entries := make([]store.Entry, 0, len(deltas))
	for subject, d := range deltas {
		var prevHeight uint64
		if height > 0 {
			prevHeight = height - 1
		}

		previous, err := e.store.GetAsOf(ctx, subject, prevHeight)
		if err != nil {
			return nil, err
		}

		balance := new(big.Int).Set(d.balance)
		eventCount := d.events
		if previous != nil {
			balance.Add(balance, previous.Balance)
			eventCount += previous.EventCount
		}

		entries = append(entries, store.Entry{
			Subject:    subject,
			Height:     height,
			Balance:    balance,
			EventCount: eventCount,
		})
	}

	return entries, nil
}

// handleReorg rolls the store and tracker back to the common ancestor and
// points the prefetcher at the first divergent height.
func (e *Engine) handleReorg(ctx context.Context, reorgErr *tracker.ReorgDetectedError) error {
	e.setState(StateRollingBack)

	e.log.Warnw("handling reorg",
		"divergence_height", reorgErr.Window.DivergenceHeight,
		"new_head_height", reorgErr.Window.NewHeadHeight,
		"ancestor_height", reorgErr.AncestorHeight,
		"depth", reorgErr.Window.Depth(),
	)

	if err := e.store.Rollback(ctx, reorgErr.AncestorHeight, reorgErr.AncestorHash); err != nil {
		return err
	}
	if err := e.tracker.TruncateAbove(ctx, reorgErr.AncestorHeight); err != nil {
		return err
	}

	if e.prefetch != nil {
		e.prefetch.Reset(reorgErr.AncestorHeight + 1)
	}

	e.log.Infow("rollback complete, replaying on new branch",
		"from_height", reorgErr.AncestorHeight+1,
		"to_height", reorgErr.Window.NewHeadHeight,
	)

	return nil
}

func (e *Engine) nextBlock(ctx context.Context, height uint64) (*source.BlockData, error) {
	e.setState(StateFetching)
	if e.prefetch != nil {
		return e.prefetch.Next(ctx)
	}
	return e.source.BlockByHeight(ctx, height)
}

// nextHeight resolves where indexing resumes: one past the committed cursor,
// or the configured start height on a fresh database.
func (e *Engine) nextHeight() uint64 {
	cursor := e.store.Cursor()
	if cursor.IsGenesis() {
		return e.cfg.StartHeight
	}
	return cursor.Height + 1
}

// reportLag periodically polls the remote head to expose how far behind the
// cursor is.
func (e *Engine) reportLag(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval.Duration * 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := e.source.Head(ctx)
			if err != nil {
				continue
			}
			cursor := e.store.Cursor()
			if headHeight := head.Number.Uint64(); headHeight > cursor.Height {
				metrics.IndexingLagSet(headHeight - cursor.Height)
			} else {
				metrics.IndexingLagSet(0)
			}
		}
	}
}

func (e *Engine) setState(state State) {
	e.state.Store(&state)
}

func (e *Engine) halt(err error) {
	e.setState(StateHalted)
	msg := err.Error()
	e.lastErr.Store(&msg)
	metrics.ComponentHealthSet(internalcommon.ComponentEngine, false)
	metrics.ErrorsInc(internalcommon.ComponentEngine, "fatal")
	e.log.Errorw("indexing engine halted", "error", err)
}
