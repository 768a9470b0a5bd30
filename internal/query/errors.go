package query

import "fmt"

// OutOfRangeError is returned when a query asks for a height above the
// committed cursor. It is a user-visible error, not an indexing failure.
type OutOfRangeError struct {
	Requested    uint64
	CursorHeight uint64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("height %d is above the indexed cursor %d", e.Requested, e.CursorHeight)
}
