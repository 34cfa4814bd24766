package domain

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the kind of errors detected while building models:
// malformed trees, unsupported precision structures, unmet rule preconditions.
var ErrConfiguration = errors.New("configuration error")

// ErrNumerical is the kind of errors detected while computing values:
// non-positive-definite matrices, NaN or Inf gradients.
var ErrNumerical = errors.New("numerical error")

// ErrProtocol is the kind of errors caused by misuse of the caching protocol,
// such as restoring without a prior store or an unexpected change notifier.
var ErrProtocol = errors.New("protocol error")

// ErrCheckpointNotFound is returned when a checkpoint cannot be found in the store.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrNotFound is returned when a named statistic or trait does not exist.
var ErrNotFound = errors.New("not found")

// Error is a fatal failure of one of the kinds above.
// Op names the operation that failed (e.g. "accumulate", "cholesky").
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// Configurationf builds an ErrConfiguration error.
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Numericalf builds an ErrNumerical error.
func Numericalf(op, format string, args ...any) error {
	return &Error{Kind: ErrNumerical, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Protocolf builds an ErrProtocol error.
func Protocolf(op, format string, args ...any) error {
	return &Error{Kind: ErrProtocol, Op: op, Msg: fmt.Sprintf(format, args...)}
}
