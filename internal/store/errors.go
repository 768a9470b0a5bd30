package store

import "fmt"

// IOError is returned when the underlying storage fails. It is fatal for the
// indexing engine: skipping a height would silently corrupt all downstream
// aggregates, so forward progress halts while the last committed height stays
// readable.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("index store %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
