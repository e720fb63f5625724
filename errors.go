package toolloop

import (
	"errors"
	"fmt"
)

// Sentinel errors for toolloop. Use errors.Is to check.
var (
	ErrToolNotRegistered = errors.New("tool not registered")
	ErrToolDisabled      = errors.New("tool disabled")
	ErrMissingParameter  = errors.New("missing required parameter")
	ErrTypeMismatch      = errors.New("parameter type mismatch")
	ErrValidation        = errors.New("validation failed")
	ErrInvocationLimit   = errors.New("maximum tool invocations reached")
	ErrInvalidDefinition = errors.New("invalid tool definition")
)

// ArgumentError reports a problem with the arguments of a tool call. Its message is
// sent back to the model so it can correct the call.
// Err wraps a sentinel (ErrMissingParameter, ErrTypeMismatch, ErrValidation) for errors.Is.
type ArgumentError struct {
	Param    string
	Expected ParamType
	Reason   string
	Err      error
}

func (e *ArgumentError) Error() string {
	switch {
	case errors.Is(e.Err, ErrMissingParameter):
		return fmt.Sprintf("missing required parameter: %s", e.Param)
	case errors.Is(e.Err, ErrTypeMismatch):
		return fmt.Sprintf("parameter %s: expected %s", e.Param, e.Expected)
	}
	return fmt.Sprintf("invalid arguments: %s", e.Reason)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned (or a panic raised) by a tool handler.
type HandlerError struct {
	Tool string
	Err  error
}

func (e *HandlerError) Error() string { return e.Err.Error() }

func (e *HandlerError) Unwrap() error { return e.Err }

// IsArgumentError returns true if err is or wraps an ArgumentError.
func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

// IsHandlerError returns true if err is or wraps a HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}

// panicError wraps a recovered panic value; used by Dispatcher.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
