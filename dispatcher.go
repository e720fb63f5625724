package toolloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Dispatcher validates and runs parsed tool calls against a Registry.
// Invoke never panics and never returns an error: every problem becomes a failed result.
type Dispatcher struct {
	registry *Registry
	opts     dispatcherOptions
}

// NewDispatcher creates a Dispatcher over reg. Panic recovery is on by default.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	o := dispatcherOptions{recoverPanics: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Dispatcher{registry: reg, opts: o}
}

// Registry returns the registry the dispatcher looks tools up in.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke runs one call:
//  1. unknown tool → "tool not registered"
//  2. disabled tool → "tool disabled"
//  3. missing required parameter → "missing required parameter: <name>"
//  4. type mismatch → "parameter <name>: expected <type>"; schema violations → "invalid arguments: ..."
//  5. handler error or panic → failure carrying its message
//  6. otherwise success with the handler's return value.
//
// The handler does not run unless steps 1-4 pass.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) (res InvocationResult) {
	start := time.Now()
	defer func() {
		dur := time.Since(start)
		if res.IsSuccess {
			d.opts.logger.DebugContext(ctx, "tool invocation succeeded",
				"tool", inv.ToolName, "invocation_id", inv.InvocationID, "duration", dur)
		} else {
			d.opts.logger.WarnContext(ctx, "tool invocation failed",
				"tool", inv.ToolName, "invocation_id", inv.InvocationID, "duration", dur, "error", res.ErrorMessage)
		}
		if d.opts.onAfter != nil {
			d.opts.onAfter(ctx, inv, res, dur)
		}
	}()

	tool, ok := d.registry.Lookup(inv.ToolName)
	if !ok {
		return failedResult(inv, ErrToolNotRegistered)
	}
	if !tool.Definition.Enabled {
		return failedResult(inv, ErrToolDisabled)
	}
	args, err := coerceArguments(tool.Definition, inv.Arguments)
	if err != nil {
		return failedResult(inv, err)
	}
	if tool.schema != nil {
		if err := validateAgainstSchema(tool.schema, args); err != nil {
			return failedResult(inv, err)
		}
	}

	d.opts.logger.DebugContext(ctx, "invoking tool",
		"tool", inv.ToolName, "invocation_id", inv.InvocationID, "args", argsForLog(args))
	if d.opts.onBefore != nil {
		d.opts.onBefore(ctx, inv)
	}

	value, err := d.runHandler(ctx, tool, args)
	if err != nil {
		return failedResult(inv, &HandlerError{Tool: inv.ToolName, Err: err})
	}
	return InvocationResult{
		InvocationID: inv.InvocationID,
		ToolName:     inv.ToolName,
		IsSuccess:    true,
		Result:       value,
	}
}

func (d *Dispatcher) runHandler(ctx context.Context, tool Tool, args map[string]any) (value any, err error) {
	if d.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.timeout)
		defer cancel()
	}
	if d.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				value = nil
				err = &panicError{p: p}
			}
		}()
	}
	return tool.Handler(ctx, args)
}

// InvokeAll runs calls one after another in the given order and returns one result per call.
// It stops early only when ctx is done; the remaining calls then fail with the context error.
func (d *Dispatcher) InvokeAll(ctx context.Context, invs []Invocation) []InvocationResult {
	results := make([]InvocationResult, 0, len(invs))
	for _, inv := range invs {
		if err := ctx.Err(); err != nil {
			results = append(results, failedResult(inv, err))
			continue
		}
		results = append(results, d.Invoke(ctx, inv))
	}
	return results
}

func failedResult(inv Invocation, err error) InvocationResult {
	return InvocationResult{
		InvocationID: inv.InvocationID,
		ToolName:     inv.ToolName,
		ErrorMessage: err.Error(),
		Err:          err,
	}
}

// String renders the result the way it is reported back to the model.
func (r InvocationResult) String() string {
	if r.IsSuccess {
		return fmt.Sprintf("tool %s succeeded:\n%s", r.ToolName, renderResult(r.Result))
	}
	return fmt.Sprintf("tool %s execution failed: %s", r.ToolName, r.ErrorMessage)
}
