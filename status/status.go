// Package status defines the error taxonomy shared by the data handle
// registry and the reconciler: transient contention, absent entities,
// fatal corruption and passthrough I/O failures.
package status

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a handle could not be acquired without blocking,
// e.g. a non-blocking exclusive lock attempt lost a race, or a caller
// requested non-exclusive access while the handle carries SPECIAL flags.
var ErrBusy = errors.New("kvengine: busy")

// ErrNotFound is the ENOENT-equivalent exposed by handle.Get. The metadata
// catalog's NOT_FOUND is remapped to this at the handle boundary.
var ErrNotFound = errors.New("kvengine: not found")

// ErrClosed is returned by operations attempted against a handle or writer
// that has already been torn down.
var ErrClosed = errors.New("kvengine: closed")

// CorruptionError reports an illegal page type or invariant violation.
// It is always fatal: callers should abort the operation rather than retry.
type CorruptionError struct {
	Addr uint32
	Msg  string
}

func (e *CorruptionError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("kvengine: corruption at addr %d: %s", e.Addr, e.Msg)
	}
	return "kvengine: corruption: " + e.Msg
}

// Corrupt constructs a CorruptionError for the given disk address. Pass 0
// when no single address is implicated.
func Corrupt(addr uint32, format string, args ...interface{}) error {
	return &CorruptionError{Addr: addr, Msg: fmt.Sprintf(format, args...)}
}

// IOError wraps an I/O failure from the block writer or catalog collaborator
// without altering its identity for errors.Is/errors.As.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("kvengine: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// WrapIO wraps err as an IOError tagged with the operation name, or returns
// nil if err is nil.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

// IsTransient reports whether err represents contention that a caller may
// legitimately retry (BUSY), as opposed to a terminal failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy)
}
