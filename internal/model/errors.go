package model

import (
	"errors"
	"fmt"
)

// Shared error taxonomy for ledger and engine operations. Callers check these
// with errors.Is after unwrapping.
var (
	// ErrNotFound: a lookup by id found nothing in cache or store.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: an operation targeted an entity whose current status
	// forbids it (e.g. closing an already closed position).
	ErrInvalidState = errors.New("invalid state")

	// ErrExecution: the execution venue rejected or failed a quote/swap call.
	ErrExecution = errors.New("execution failed")
)

// ParseError reports an unknown canonical token for an enumerated field.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unknown %s token %q", e.Field, e.Value)
}
