package toolloop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentError(t *testing.T) {
	tests := []struct {
		name   string
		err    *ArgumentError
		expect string
	}{
		{"missing", &ArgumentError{Param: "text", Err: ErrMissingParameter}, "missing required parameter: text"},
		{"mismatch", &ArgumentError{Param: "n", Expected: Number, Err: ErrTypeMismatch}, "parameter n: expected number"},
		{"validation", &ArgumentError{Reason: "bad enum", Err: ErrValidation}, "invalid arguments: bad enum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.err.Error())
			assert.ErrorIs(t, tt.err, tt.err.Err)
		})
	}
}

func TestHandlerError(t *testing.T) {
	inner := errors.New("db connection refused")
	err := &HandlerError{Tool: "search", Err: inner}
	assert.Equal(t, "db connection refused", err.Error())
	assert.Same(t, inner, err.Unwrap())
}

func TestErrorsIs_As(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		is        bool
		asArg     bool
		asHandler bool
	}{
		{"ArgumentError direct", &ArgumentError{Param: "x", Err: ErrMissingParameter}, ErrMissingParameter, true, true, false},
		{"HandlerError direct", &HandlerError{Err: ErrToolDisabled}, ErrToolDisabled, true, false, true},
		{"wrapped ArgumentError", wrapErr{err: &ArgumentError{Reason: "y", Err: ErrValidation}}, ErrValidation, true, true, false},
		{"wrapped HandlerError", wrapErr{err: &HandlerError{Err: errors.New("boom")}}, ErrValidation, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.is, errors.Is(tt.err, tt.target), "errors.Is")
			assert.Equal(t, tt.asArg, IsArgumentError(tt.err), "IsArgumentError")
			assert.Equal(t, tt.asHandler, IsHandlerError(tt.err), "IsHandlerError")
		})
	}
}

func TestPanicError(t *testing.T) {
	err := &panicError{p: "oops"}
	require.Equal(t, "panic: oops", err.Error())
}

type wrapErr struct {
	err error
}

func (e wrapErr) Error() string {
	if e.err == nil {
		return ""
	}
	return "wrap: " + e.err.Error()
}
func (e wrapErr) Unwrap() error { return e.err }
