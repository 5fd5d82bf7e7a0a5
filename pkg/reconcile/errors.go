package reconcile

import "fmt"

// FatalError aborts a run: the input or the store is unusable. A CLI maps it
// to a non-zero exit.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// PersistenceError is a single row that could not be written. It is logged
// and counted; the run goes on.
type PersistenceError struct {
	ExternalID   int64
	LocationType string
	Err          error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d/%s: %v", e.ExternalID, e.LocationType, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
