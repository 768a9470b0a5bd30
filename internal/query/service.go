package query

import (
	"context"

	internalcommon "github.com/dextrack/chainsight/internal/common"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/metrics"
	"github.com/dextrack/chainsight/internal/store"
	"github.com/ethereum/go-ethereum/common"
)

// Result is the answer to a point-in-time lookup. Found is false when the
// subject has no history at or below the resolved height; that is a valid
// answer, not an error.
type Result struct {
	Subject common.Address
	AsOf    uint64
	Found   bool
	Value   *store.Value
}

// Service answers point-in-time queries against the index store. It never
// blocks on the writer: answers reflect the committed cursor at the moment
// the query arrived.
type Service struct {
	store *store.IndexStore
	log   *logger.Logger
}

// New creates a query Service over the given store.
func New(st *store.IndexStore, log *logger.Logger) *Service {
	return &Service{
		store: st,
		log:   log.WithComponent(internalcommon.ComponentQuery),
	}
}

// Query returns the subject's aggregated value as of atHeight. A zero
// atHeight means "as of the current cursor". Heights above the cursor are
// rejected with *OutOfRangeError: the index cannot answer for blocks it has
// not committed.
func (s *Service) Query(ctx context.Context, subject common.Address, atHeight uint64) (*Result, error) {
	height, err := s.resolveHeight(atHeight)
	if err != nil {
		return nil, err
	}

	value, err := s.store.GetAsOf(ctx, subject, height)
	if err != nil {
		metrics.QueryServedInc("error")
		return nil, err
	}

	result := &Result{Subject: subject, AsOf: height}
	if value != nil {
		result.Found = true
		result.Value = value
		metrics.QueryServedInc("hit")
	} else {
		metrics.QueryServedInc("miss")
	}

	return result, nil
}

// QueryBatch resolves several subjects at the same height in one consistent
// snapshot.
func (s *Service) QueryBatch(ctx context.Context, subjects []common.Address, atHeight uint64) ([]*Result, error) {
	height, err := s.resolveHeight(atHeight)
	if err != nil {
		return nil, err
	}

	values, err := s.store.GetBatchAsOf(ctx, subjects, height)
	if err != nil {
		metrics.QueryServedInc("error")
		return nil, err
	}

	results := make([]*Result, len(subjects))
	for i, subject := range subjects {
		result := &Result{Subject: subject, AsOf: height}
		if value, ok := values[subject]; ok {
			result.Found = true
			result.Value = value
			metrics.QueryServedInc("hit")
		} else {
			metrics.QueryServedInc("miss")
		}
		results[i] = result
	}

	return results, nil
}

// CursorHeight returns the height answers are currently served up to.
func (s *Service) CursorHeight() uint64 {
	return s.store.Cursor().Height
}

// resolveHeight validates the requested height against the cursor snapshot.
func (s *Service) resolveHeight(atHeight uint64) (uint64, error) {
	cursor := s.store.Cursor()

	if atHeight == 0 {
		return cursor.Height, nil
	}
	if atHeight > cursor.Height {
		metrics.QueryServedInc("out_of_range")
		return 0, &OutOfRangeError{Requested: atHeight, CursorHeight: cursor.Height}
	}

	return atHeight, nil
}
