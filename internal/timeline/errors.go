package timeline

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork      = errors.New("network failure")
	ErrValidation   = errors.New("validation failure")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error carries one of the sentinel kinds above together with the operation
// that failed. errors.Is matches against Kind; errors.As can reach Err.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	kind := "error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	switch {
	case e.Op != "" && msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, kind, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, kind)
	case msg != "":
		return fmt.Sprintf("%s: %s", kind, msg)
	default:
		return kind
	}
}

func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}
