package source

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested height is above the remote head.
// It is the caller's signal to wait for the chain to advance.
var ErrNotFound = errors.New("block not found")

// ErrStaleHead is returned when the remote reports a head below one it
// previously reported. Per the upstream contract this is a transient
// condition (load-balanced nodes answering out of sync), never a reorg.
var ErrStaleHead = errors.New("remote head went backwards")

// RemoteInconsistentError is returned when the remote reports NotFound for a
// height at or below its own head. This signals corrupted remote state and is fatal.
type RemoteInconsistentError struct {
	Height     uint64
	RemoteHead uint64
}

func (e *RemoteInconsistentError) Error() string {
	return fmt.Sprintf("remote node has head %d but no block at height %d", e.RemoteHead, e.Height)
}
