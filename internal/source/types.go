package source

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockData bundles a block header with the raw logs emitted in that block.
// Logs are decoded into events by the indexing engine, not here: fetching
// must stay free of interpretation so it can be prefetched concurrently.
type BlockData struct {
	Header *types.Header
	Logs   []types.Log
}

// Height returns the block height of the fetched block.
func (b *BlockData) Height() uint64 {
	return b.Header.Number.Uint64()
}

// Source is the upstream chain interface consumed by the tracker and engine.
type Source interface {
	// BlockByHeight fetches the header and logs for the given height.
	// Returns ErrNotFound if the height is above the remote head, and a
	// *RemoteInconsistentError if the remote claims not to have a height
	// below its own head.
	BlockByHeight(ctx context.Context, height uint64) (*BlockData, error)

	// Head returns the current remote head header.
	Head(ctx context.Context) (*types.Header, error)

	// HeaderByHeight fetches a single header.
	HeaderByHeight(ctx context.Context, height uint64) (*types.Header, error)

	// HeadersByHeights fetches headers for multiple heights in one batch call.
	HeadersByHeights(ctx context.Context, heights []uint64) ([]*types.Header, error)
}
