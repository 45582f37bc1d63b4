package engine

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyText    = errors.New("text is empty")
	ErrTextTooLarge = errors.New("text exceeds the maximum size")
	ErrInvalidText  = errors.New("text is not valid UTF-8")
)

// ValidationError rejects input before it reaches detection.
type ValidationError struct {
	Err   error
	Size  int
	Limit int
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrTextTooLarge) {
		return fmt.Sprintf("%v: %d bytes (limit %d)", e.Err, e.Size, e.Limit)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
