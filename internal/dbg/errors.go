package dbg

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
)

// Error is an operator mistake. Its message is shown as is; the kind tells
// callers which errdefs class it belongs to.
type Error struct {
	Msg  string
	kind error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.kind
}

func Errorf(kind error, format string, a ...any) error {
	return &Error{Msg: fmt.Sprintf(format, a...), kind: kind}
}

func NotFound(format string, a ...any) error {
	return Errorf(errdefs.ErrNotFound, format, a...)
}

func InvalidArgument(format string, a ...any) error {
	return Errorf(errdefs.ErrInvalidArgument, format, a...)
}

func OutOfRange(format string, a ...any) error {
	return Errorf(errdefs.ErrOutOfRange, format, a...)
}

func FailedPrecondition(format string, a ...any) error {
	return Errorf(errdefs.ErrFailedPrecondition, format, a...)
}

// ErrCancelled is returned when the operator interrupts a wait.
var ErrCancelled error = &Error{Msg: "Cancelled", kind: context.Canceled}
