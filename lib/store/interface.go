package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore applies notices to an index of messages.
// Write operations return a *Error (nil on success).
type IStore interface {
	// See applies one notice. Applying the same notice twice leaves the index
	// as applying it once.
	See(ctx context.Context, n notice.Notice) error
	// Heap returns the indexed messages.
	Heap() *heap.Heap
	// Applied returns the number of notices applied successfully.
	Applied() uint64
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and the optional cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Wrap creates a new store error with a cause.
func Wrap(code RetCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Permanent reports whether retrying err cannot succeed.
func Permanent(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == RetCInvalidNotice
	}
	return errors.Is(err, notice.ErrInvalid) || errors.Is(err, notice.ErrNoDependants)
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess        RetCode = iota // 0: Notice applied successfully.
	RetCInternalError                 // 1: Failed due to an internal error.
	RetCInvalidNotice                 // 2: The notice failed validation.
	RetCUnknownMessage                // 3: The notice refers to a message that is not indexed yet.
	RetCBackfillFailed                // 4: Fetching from the source failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidNotice:
		return "InvalidNotice"
	case RetCUnknownMessage:
		return "UnknownMessage"
	case RetCBackfillFailed:
		return "BackfillFailed"
	default:
		return "Unknown"
	}
}
