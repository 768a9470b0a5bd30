package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	internalcommon "github.com/dextrack/chainsight/internal/common"
	"github.com/dextrack/chainsight/internal/db"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/metrics"
	"github.com/dextrack/chainsight/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/russross/meddler"
)

// HeaderSource is the subset of the chain source the tracker needs to walk
// backward looking for a common ancestor.
type HeaderSource interface {
	HeaderByHeight(ctx context.Context, height uint64) (*types.Header, error)
}

// TrackedBlock is one row of the local hash window used for reorg detection.
type TrackedBlock struct {
	Height     uint64      `meddler:"height"`
	BlockHash  common.Hash `meddler:"block_hash,hash"`
	ParentHash common.Hash `meddler:"parent_hash,hash"`
}

// Tracker maintains the local view of the canonical chain: a bounded window
// of (height, hash, parent hash) rows ending at the indexed head. It decides
// for every new header whether the chain extended or reorganized, and if it
// reorganized, how far back the branches diverge.
type Tracker struct {
	db          *sql.DB
	source      HeaderSource
	log         *logger.Logger
	maintenance db.Maintenance
	maxDepth    uint64
}

// New creates a Tracker over the given database.
func New(
	database *sql.DB,
	source HeaderSource,
	cfg config.TrackerConfig,
	log *logger.Logger,
	maintenance db.Maintenance,
) (*Tracker, error) {
	t := &Tracker{
		db:          database,
		source:      source,
		log:         log.WithComponent(internalcommon.ComponentTracker),
		maintenance: maintenance,
		maxDepth:    cfg.MaxDepth,
	}

	metrics.ComponentHealthSet(internalcommon.ComponentTracker, true)
	t.log.Infow("chain tracker initialized", "max_depth", t.maxDepth)

	return t, nil
}

// Evaluate decides how the given header relates to the local chain view.
// localParent is the hash the caller holds for height-1, normally the
// committed cursor hash.
//
// A nil return means the header extends the local chain. A
// *ReorgDetectedError means the remote branch replaced locally recorded
// blocks; the error carries the divergence window and the common ancestor
// to roll back to. A *ReorgDepthExceededError means no ancestor was found
// within the configured bound.
//
// Evaluate only reads; recording the header happens in Record after the
// block is committed.
func (t *Tracker) Evaluate(ctx context.Context, header *types.Header, localParent common.Hash) error {
	unlock := t.maintenance.AcquireOperationLock()
	defer unlock()

	height := header.Number.Uint64()
	if height == 0 {
		return nil
	}

	if localParent == header.ParentHash {
		return nil
	}

	t.log.Warnw("parent hash mismatch, walking back for common ancestor",
		"height", height,
		"local_hash", localParent.Hex(),
		"remote_parent", header.ParentHash.Hex(),
	)

	return t.walkBack(ctx, height)
}

// walkBack compares remote and local hashes downward from height-1 until
// they agree, bounded by maxDepth steps below the new head.
func (t *Tracker) walkBack(ctx context.Context, headHeight uint64) error {
	for step := uint64(1); step <= t.maxDepth; step++ {
		if step > headHeight {
			break
		}
		height := headHeight - step

		local, err := t.HashAt(ctx, height)
		if errors.Is(err, sql.ErrNoRows) {
			// A crash between commit and record can leave a hole in the
			// window. Skip it and keep comparing below.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read local hash at height %d: %w", height, err)
		}

		remote, err := t.source.HeaderByHeight(ctx, height)
		if err != nil {
			return fmt.Errorf("failed to fetch remote header at height %d: %w", height, err)
		}

		if remote.Hash() == local {
			window := ReorgWindow{
				DivergenceHeight: height + 1,
				NewHeadHeight:    headHeight,
			}
			ReorgDetectedLog(window.Depth())
			t.log.Warnw("common ancestor found",
				"ancestor_height", height,
				"ancestor_hash", local.Hex(),
				"divergence_height", window.DivergenceHeight,
				"depth", window.Depth(),
			)
			return &ReorgDetectedError{
				Window:         window,
				AncestorHeight: height,
				AncestorHash:   local,
			}
		}
	}

	metrics.ErrorsInc(internalcommon.ComponentTracker, "fatal")
	return &ReorgDepthExceededError{MaxDepth: t.maxDepth, HeadHeight: headHeight}
}

// Record persists the header into the tracked window. Re-recording the same
// height overwrites the previous row, so crash replays are harmless.
func (t *Tracker) Record(ctx context.Context, header *types.Header) error {
	unlock := t.maintenance.AcquireOperationLock()
	defer unlock()

	block := &TrackedBlock{
		Height:     header.Number.Uint64(),
		BlockHash:  header.Hash(),
		ParentHash: header.ParentHash,
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tracked_blocks (height, block_hash, parent_hash)
		VALUES (?, ?, ?)`,
		block.Height, block.BlockHash.Hex(), block.ParentHash.Hex())
	if err != nil {
		return fmt.Errorf("failed to record block %d: %w", block.Height, err)
	}

	return nil
}

// HashAt returns the locally recorded hash at the given height.
// Returns sql.ErrNoRows when the height is outside the tracked window.
func (t *Tracker) HashAt(ctx context.Context, height uint64) (common.Hash, error) {
	var block TrackedBlock
	err := meddler.QueryRow(t.db, &block, "SELECT * FROM tracked_blocks WHERE height = ?", height)
	if err != nil {
		return common.Hash{}, err
	}
	return block.BlockHash, nil
}

// TruncateAbove removes all tracked rows above the given height. Called after
// the index store rolled back, so the local view matches the surviving prefix
// before the divergence window is replayed.
func (t *Tracker) TruncateAbove(ctx context.Context, height uint64) error {
	unlock := t.maintenance.AcquireOperationLock()
	defer unlock()

	result, err := t.db.ExecContext(ctx, "DELETE FROM tracked_blocks WHERE height > ?", height)
	if err != nil {
		return fmt.Errorf("failed to truncate tracked blocks above %d: %w", height, err)
	}

	deleted, _ := result.RowsAffected()
	t.log.Infow("tracked blocks truncated", "above_height", height, "deleted", deleted)

	return nil
}

// Prune drops rows no longer needed for reorg detection: everything more than
// maxDepth below the given head. The window that survives is exactly what
// walkBack can reach.
func (t *Tracker) Prune(ctx context.Context, headHeight uint64) error {
	if headHeight <= t.maxDepth {
		return nil
	}
	keepFrom := headHeight - t.maxDepth

	unlock := t.maintenance.AcquireOperationLock()
	defer unlock()

	result, err := t.db.ExecContext(ctx, "DELETE FROM tracked_blocks WHERE height < ?", keepFrom)
	if err != nil {
		return fmt.Errorf("failed to prune tracked blocks below %d: %w", keepFrom, err)
	}

	if deleted, _ := result.RowsAffected(); deleted > 0 {
		t.log.Debugw("pruned tracked blocks", "keep_from", keepFrom, "deleted", deleted)
	}

	var count int64
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracked_blocks").Scan(&count); err == nil {
		TrackedBlocksSet(count)
	}

	return nil
}
