package audit

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("scan record not found")
	ErrConflict      = errors.New("scan record already has a different action")
	ErrInvalidAction = errors.New("invalid user action")
)

// PersistenceError reports a storage failure. The assessment it concerns is
// still valid and must still be returned to the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
