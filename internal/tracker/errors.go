package tracker

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ReorgWindow is the half-open description of a detected reorganization:
// every height in [DivergenceHeight, NewHeadHeight] must be re-indexed on
// the new branch.
type ReorgWindow struct {
	DivergenceHeight uint64
	NewHeadHeight    uint64
}

// Depth returns the number of heights that diverged.
func (w ReorgWindow) Depth() uint64 {
	return w.NewHeadHeight - w.DivergenceHeight + 1
}

// ReorgDetectedError is returned when the remote chain has replaced blocks
// the local view already recorded. AncestorHeight and AncestorHash identify
// the last block shared by both branches; the index must roll back to it
// before replaying the window.
type ReorgDetectedError struct {
	Window         ReorgWindow
	AncestorHeight uint64
	AncestorHash   common.Hash
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("reorg detected: divergence at height %d, new head %d, common ancestor %d (%s)",
		e.Window.DivergenceHeight, e.Window.NewHeadHeight, e.AncestorHeight, e.AncestorHash.Hex())
}

// ReorgDepthExceededError is returned when no common ancestor is found within
// the configured walk-back bound. Recovering automatically would require
// rewinding past the retained history, so this error is fatal.
type ReorgDepthExceededError struct {
	MaxDepth   uint64
	HeadHeight uint64
}

func (e *ReorgDepthExceededError) Error() string {
	return fmt.Sprintf("no common ancestor within %d blocks of height %d, manual re-sync required",
		e.MaxDepth, e.HeadHeight)
}
