package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/pkg/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Compile-time check to ensure Client implements the Source interface.
var _ Source = (*Client)(nil)

// Client wraps the upstream RPC client with the fetch operations the indexer
// needs. It is stateless beyond connection handling and the highest head seen,
// and is safe for concurrent use (prefetching relies on this).
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
	cfg config.SourceConfig
	log *logger.Logger

	// highest head height observed, used to flag backwards head reports
	highestHead atomic.Uint64
}

// NewClient creates a new source client connected to the configured endpoint.
func NewClient(ctx context.Context, cfg config.SourceConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
		cfg: cfg,
		log: log,
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Head returns the current remote head header.
// A head below the highest previously observed one yields ErrStaleHead,
// which is retried with backoff rather than treated as a reorg.
func (c *Client) Head(ctx context.Context) (*types.Header, error) {
	var header *types.Header

	err := retryWithBackoff(ctx, c.cfg.Retry, "head", func() error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		start := time.Now()
		h, err := c.eth.HeaderByNumber(callCtx, nil)
		RequestLog("head", time.Since(start), err)
		if err != nil {
			return err
		}

		height := h.Number.Uint64()
		if highest := c.highestHead.Load(); height < highest {
			return fmt.Errorf("%w: got %d, previously saw %d", ErrStaleHead, height, highest)
		}
		c.highestHead.Store(height)
		RemoteHeadSet(height)

		header = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	return header, nil
}

// HeaderByHeight fetches a single header by height.
func (c *Client) HeaderByHeight(ctx context.Context, height uint64) (*types.Header, error) {
	var header *types.Header

	err := retryWithBackoff(ctx, c.cfg.Retry, "header_by_height", func() error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		start := time.Now()
		h, err := c.eth.HeaderByNumber(callCtx, new(big.Int).SetUint64(height))
		RequestLog("header_by_height", time.Since(start), err)
		if errors.Is(err, ethereum.NotFound) {
			return c.classifyNotFound(ctx, height)
		}
		if err != nil {
			return err
		}

		header = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	return header, nil
}

// BlockByHeight fetches the header and logs for the given height.
// Logs are fetched by block hash, pinning the result to the exact block
// the header describes even if the chain reorganizes between the two calls.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*BlockData, error) {
	header, err := c.HeaderByHeight(ctx, height)
	if err != nil {
		return nil, err
	}

	blockHash := header.Hash()
	var logs []types.Log

	err = retryWithBackoff(ctx, c.cfg.Retry, "logs_by_block", func() error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		start := time.Now()
		fetched, err := c.eth.FilterLogs(callCtx, ethereum.FilterQuery{BlockHash: &blockHash})
		RequestLog("logs_by_block", time.Since(start), err)
		if err != nil {
			return err
		}

		logs = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &BlockData{Header: header, Logs: logs}, nil
}

// HeadersByHeights fetches headers for multiple heights in batched calls.
func (c *Client) HeadersByHeights(ctx context.Context, heights []uint64) ([]*types.Header, error) {
	const maxBatch = 100
	var allResults []*types.Header

	for i := 0; i < len(heights); i += maxBatch {
		end := min(i+maxBatch, len(heights))
		chunk := heights[i:end]

		batch := make([]rpc.BatchElem, len(chunk))
		results := make([]*types.Header, len(chunk))

		for j, height := range chunk {
			batch[j] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(height), false}, // false = don't include transactions
				Result: &results[j],
			}
		}

		err := retryWithBackoff(ctx, c.cfg.Retry, "headers_batch", func() error {
			callCtx, cancel := c.callContext(ctx)
			defer cancel()

			start := time.Now()
			err := c.rpc.BatchCallContext(callCtx, batch)
			RequestLog("headers_batch", time.Since(start), err)
			if err != nil {
				return err
			}

			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// classifyNotFound distinguishes "height not mined yet" from a remote node
// that claims a head above a height it cannot serve. The latter is fatal.
func (c *Client) classifyNotFound(ctx context.Context, height uint64) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	head, err := c.eth.HeaderByNumber(callCtx, nil)
	if err != nil {
		// Cannot classify; surface NotFound and let the caller retry later
		return ErrNotFound
	}

	remoteHead := head.Number.Uint64()
	if height <= remoteHead {
		return &RemoteInconsistentError{Height: height, RemoteHead: remoteHead}
	}

	return ErrNotFound
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout.Duration <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout.Duration)
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(height uint64) string {
	return fmt.Sprintf("0x%x", height)
}
