package toolloop

import (
	"context"
	"log/slog"
	"time"
)

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	logger *slog.Logger
}

// WithRegistryLogger sets the logger used for registration events.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	timeout       time.Duration
	recoverPanics bool
	logger        *slog.Logger
	onBefore      func(context.Context, Invocation)
	onAfter       func(context.Context, Invocation, InvocationResult, time.Duration)
}

// WithDefaultTimeout sets the per-call handler timeout. Zero disables it.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.timeout = d
	}
}

// WithRecoverPanics enables panic recovery around handlers (the panic becomes a failed result).
func WithRecoverPanics(enable bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.recoverPanics = enable
	}
}

// WithDispatchLogger sets the logger used for dispatch events.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.logger = logger
	}
}

// WithOnBeforeInvoke sets a hook called before each handler runs.
func WithOnBeforeInvoke(fn func(context.Context, Invocation)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterInvoke sets a hook called after each invocation (success or failure).
func WithOnAfterInvoke(fn func(context.Context, Invocation, InvocationResult, time.Duration)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onAfter = fn
	}
}

// InvokerOption configures the tool-invocation middleware.
type InvokerOption func(*invokerOptions)

type invokerOptions struct {
	maxInvocations int
	reportUnknown  bool
	marker         string
	logger         *slog.Logger
	dispatcher     *Dispatcher
}

// DefaultMaxToolInvocations bounds model calls per top-level request.
const DefaultMaxToolInvocations = 5

// DefaultToolMarker is the token emitted on a stream before tool calls are dispatched.
const DefaultToolMarker = "\n\n[executing tool calls...]\n"

// WithMaxToolInvocations sets how many model calls one top-level request may make.
// Values below 1 are ignored.
func WithMaxToolInvocations(n int) InvokerOption {
	return func(o *invokerOptions) {
		if n > 0 {
			o.maxInvocations = n
		}
	}
}

// WithReportUnknownTools makes the loop report calls to unregistered tools back to the model
// as failed results instead of dropping them silently. It only applies when the same response
// also contains at least one registered call.
func WithReportUnknownTools() InvokerOption {
	return func(o *invokerOptions) {
		o.reportUnknown = true
	}
}

// WithToolMarker replaces the marker token emitted on streams before dispatch.
func WithToolMarker(marker string) InvokerOption {
	return func(o *invokerOptions) {
		o.marker = marker
	}
}

// WithInvokerLogger sets the logger used by the orchestration loop.
func WithInvokerLogger(logger *slog.Logger) InvokerOption {
	return func(o *invokerOptions) {
		o.logger = logger
	}
}

// WithDispatcher supplies a preconfigured Dispatcher (timeouts, hooks). By default the
// middleware builds one over its registry with default options.
func WithDispatcher(d *Dispatcher) InvokerOption {
	return func(o *invokerOptions) {
		o.dispatcher = d
	}
}
