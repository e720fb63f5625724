// Package builtin provides general-purpose tools: time, arithmetic and text helpers.
package builtin

import (
	"fmt"
	"time"

	"github.com/tgsearchbot/toolloop"
)

const (
	categoryTime = "time"
	categoryMath = "math"
	categoryText = "text"
)

// Option configures the builtin tools.
type Option func(*options)

type options struct {
	now      func() time.Time
	maxSteps uint64
}

// WithClock replaces time.Now (for tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithMaxSteps bounds the work the calculator may do per expression.
func WithMaxSteps(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, maxSteps: 100_000}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Entries returns every builtin tool, enabled.
func Entries(opts ...Option) []toolloop.Entry {
	o := newOptions(opts)
	return []toolloop.Entry{
		currentTimeTool(o),
		formatTimeTool(),
		calculatorTool(o),
		mathFunctionTool(),
		textStatsTool(),
		base64Tool(),
	}
}

// Register adds every builtin tool to reg.
func Register(reg *toolloop.Registry, opts ...Option) error {
	if err := reg.RegisterAll(Entries(opts...)...); err != nil {
		return fmt.Errorf("builtin: %w", err)
	}
	return nil
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func num(args map[string]any, key string) float64 {
	f, _ := args[key].(float64)
	return f
}
