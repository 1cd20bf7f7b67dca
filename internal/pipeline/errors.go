package pipeline

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// Error kinds returned by engine operations. Match them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
)

// Error describes a failed engine operation.
type Error struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Op is the operation that failed, e.g. "transition".
	Op string
	// Ref is the item involved, if any.
	Ref models.ItemRef
	Msg string
	// Err is an underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configError(op string, ref models.ItemRef, err error) error {
	return &Error{Kind: ErrConfiguration, Op: op, Ref: ref, Err: err}
}

func validationError(op string, ref models.ItemRef, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Ref: ref, Msg: fmt.Sprintf(format, args...)}
}

func conflictError(op string, ref models.ItemRef, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Ref: ref, Msg: fmt.Sprintf(format, args...)}
}

func notFoundError(op string, ref models.ItemRef, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Ref: ref, Msg: fmt.Sprintf(format, args...)}
}
