package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	internalcommon "github.com/dextrack/chainsight/internal/common"
	"github.com/dextrack/chainsight/internal/db"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// Cursor records the highest block height fully indexed and its hash.
// It is published atomically after every block application or rollback;
// readers treat the store as consistent up to the snapshotted height.
type Cursor struct {
	ID        int         `meddler:"id,pk"`
	Height    uint64      `meddler:"height"`
	Hash      common.Hash `meddler:"block_hash,hash"`
	UpdatedAt int64       `meddler:"updated_at"`
}

// IsGenesis reports whether the cursor still holds its freshly-migrated value,
// meaning no block has ever been committed.
func (c Cursor) IsGenesis() bool {
	return c.Height == 0 && c.Hash == (common.Hash{})
}

// Entry is one row of the per-subject sorted log: the aggregate state of a
// subject as of a given height. Entries are append-only in the forward
// direction and truncated on rollback.
type Entry struct {
	Subject    common.Address `meddler:"subject,address"`
	Height     uint64         `meddler:"height"`
	Balance    *big.Int       `meddler:"balance,bigint"`
	EventCount uint64         `meddler:"event_count"`
}

// Value is the aggregate state returned to readers.
type Value struct {
	Balance    *big.Int `json:"balance"`
	EventCount uint64   `json:"event_count"`
}

// IndexStore is the durable, versioned store for derived per-subject indices.
// Exactly one writer (the indexing engine) mutates it; any number of readers
// query it through GetAsOf. Reader/writer consistency during truncation is
// guaranteed by a RWMutex scoped to the truncate path only.
type IndexStore struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance

	// Write lock held only for rollback truncation; plain appends never
	// block readers because committed rows are immutable.
	truncateMu sync.RWMutex

	cursor atomic.Pointer[Cursor]
}

// New creates an IndexStore over the given database and loads the persisted cursor.
func New(database *sql.DB, log *logger.Logger, maintenance db.Maintenance) (*IndexStore, error) {
	s := &IndexStore{
		db:          database,
		log:         log.WithComponent(internalcommon.ComponentStore),
		maintenance: maintenance,
	}

	cursor, err := s.loadCursor()
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}
	s.cursor.Store(cursor)
	metrics.CursorHeightSet(cursor.Height)

	s.log.Infow("index store initialized", "cursor_height", cursor.Height, "cursor_hash", cursor.Hash.Hex())

	return s, nil
}

// Cursor returns a snapshot of the current cursor.
func (s *IndexStore) Cursor() Cursor {
	return *s.cursor.Load()
}

// GetAsOf returns the latest entry for the subject at or below the given
// height, or nil if the subject has no history up to that height.
func (s *IndexStore) GetAsOf(ctx context.Context, subject common.Address, height uint64) (*Value, error) {
	s.truncateMu.RLock()
	defer s.truncateMu.RUnlock()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var entry Entry
	err := meddler.QueryRow(s.db, &entry, `
		SELECT * FROM index_entries
		WHERE subject = ? AND height <= ?
		ORDER BY height DESC LIMIT 1`,
		subject.Hex(), height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &IOError{Op: "get_as_of", Err: err}
	}

	return &Value{Balance: entry.Balance, EventCount: entry.EventCount}, nil
}

// GetBatchAsOf resolves several subjects at the same height under a single
// read lock, so a concurrent rollback cannot land between two lookups of the
// same batch. Subjects without history are absent from the result map.
func (s *IndexStore) GetBatchAsOf(
	ctx context.Context,
	subjects []common.Address,
	height uint64,
) (map[common.Address]*Value, error) {
	s.truncateMu.RLock()
	defer s.truncateMu.RUnlock()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	values := make(map[common.Address]*Value, len(subjects))
	for _, subject := range subjects {
		var entry Entry
		err := meddler.QueryRow(s.db, &entry, `
			SELECT * FROM index_entries
			WHERE subject = ? AND height <= ?
			ORDER BY height DESC LIMIT 1`,
			subject.Hex(), height)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, &IOError{Op: "get_batch_as_of", Err: err}
		}
		values[subject] = &Value{Balance: entry.Balance, EventCount: entry.EventCount}
	}

	return values, nil
}

// Put inserts or overwrites the entry at its exact height. It never merges:
// values are deterministic given the block, so last-write-wins is safe for
// crash replays.
func (s *IndexStore) Put(ctx context.Context, entry Entry) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if err := putEntryTx(s.db, entry); err != nil {
		return &IOError{Op: "put", Err: err}
	}

	metrics.EntriesWrittenInc(1)
	return nil
}

// ApplyBlock writes all entries for a block and advances the cursor to
// (height, hash) in a single transaction. Crash before commit means the
// block is replayed from the source on restart; duplicate puts for the same
// (subject, height) overwrite idempotently.
func (s *IndexStore) ApplyBlock(ctx context.Context, height uint64, hash common.Hash, entries []Entry) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &IOError{Op: "apply_block", Err: err}
	}
	defer rollbackTx(tx, s.log)

	for _, entry := range entries {
		if entry.Height != height {
			return fmt.Errorf("entry for subject %s carries height %d, applying block %d",
				entry.Subject.Hex(), entry.Height, height)
		}
		if err := putEntryTx(tx, entry); err != nil {
			return &IOError{Op: "apply_block", Err: err}
		}
	}

	cursor := &Cursor{
		ID:        1,
		Height:    height,
		Hash:      hash,
		UpdatedAt: time.Now().Unix(),
	}
	if err := meddler.Update(tx, "cursor", cursor); err != nil {
		return &IOError{Op: "apply_block", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &IOError{Op: "apply_block", Err: err}
	}

	// Publish only after the transaction is durable
	s.cursor.Store(cursor)
	metrics.CursorHeightSet(height)
	metrics.EntriesWrittenInc(len(entries))
	metrics.BlocksCommittedInc()

	return nil
}

// Rollback deletes all entries above toHeight across all subjects and resets
// the cursor to (toHeight, toHash) in one transaction. Concurrent readers see
// either the pre- or post-truncation state, never a partial one.
func (s *IndexStore) Rollback(ctx context.Context, toHeight uint64, toHash common.Hash) error {
	s.truncateMu.Lock()
	defer s.truncateMu.Unlock()

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &IOError{Op: "rollback", Err: err}
	}
	defer rollbackTx(tx, s.log)

	result, err := tx.Exec("DELETE FROM index_entries WHERE height > ?", toHeight)
	if err != nil {
		return &IOError{Op: "rollback", Err: err}
	}

	cursor := &Cursor{
		ID:        1,
		Height:    toHeight,
		Hash:      toHash,
		UpdatedAt: time.Now().Unix(),
	}
	if err := meddler.Update(tx, "cursor", cursor); err != nil {
		return &IOError{Op: "rollback", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &IOError{Op: "rollback", Err: err}
	}

	s.cursor.Store(cursor)
	metrics.CursorHeightSet(toHeight)

	deleted, _ := result.RowsAffected()
	s.log.Warnw("index truncated", "to_height", toHeight, "entries_deleted", deleted)

	return nil
}

// SubjectCount returns the number of distinct subjects with at least one entry.
func (s *IndexStore) SubjectCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT subject) FROM index_entries").Scan(&count)
	if err != nil {
		return 0, &IOError{Op: "subject_count", Err: err}
	}
	return count, nil
}

// loadCursor reads the persisted cursor row.
func (s *IndexStore) loadCursor() (*Cursor, error) {
	var cursor Cursor
	if err := meddler.QueryRow(s.db, &cursor, "SELECT * FROM cursor WHERE id = 1"); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// execer covers *sql.DB and *sql.Tx for meddler-free writes.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func putEntryTx(e execer, entry Entry) error {
	balance := entry.Balance
	if balance == nil {
		balance = new(big.Int)
	}

	_, err := e.Exec(`
		INSERT OR REPLACE INTO index_entries (subject, height, balance, event_count)
		VALUES (?, ?, ?, ?)`,
		entry.Subject.Hex(), entry.Height, balance.String(), entry.EventCount)
	return err
}

func rollbackTx(tx *sql.Tx, log *logger.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Errorf("failed to rollback transaction: %v", err)
	}
}
