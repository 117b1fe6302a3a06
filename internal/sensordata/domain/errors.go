package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not_found")
	ErrInvalidInput = errors.New("invalid_input")
	ErrStorage      = errors.New("storage_failure")
)

// Error is a caller-visible outcome carrying a human readable message.
// It unwraps to ErrNotFound or ErrInvalidInput.
type Error struct {
	Kind  error
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidInput(field, msg string) error {
	return &Error{Kind: ErrInvalidInput, Field: field, Msg: msg}
}

// StorageFailure marks err as an environment failure of the durable substrate.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// AsError returns the domain error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var dErr *Error
	if errors.As(err, &dErr) && dErr != nil {
		return dErr, true
	}
	return nil, false
}
