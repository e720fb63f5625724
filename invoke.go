package toolloop

import (
	"context"
	"log/slog"
)

// WithToolInvocation returns the middleware that runs the tool loop: it advertises the
// enabled tools in the system prompt, parses tool calls out of each model answer,
// dispatches them and feeds the results back until the model answers without tool calls.
//
// One top-level request makes at most WithMaxToolInvocations model calls (default 5).
// When the last allowed call still asks for tools, the result is a failed Response with
// ErrorMessage "maximum tool invocations reached".
func WithToolInvocation(reg *Registry, opts ...InvokerOption) Middleware {
	o := invokerOptions{
		maxInvocations: DefaultMaxToolInvocations,
		marker:         DefaultToolMarker,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.dispatcher == nil {
		o.dispatcher = NewDispatcher(reg, WithDispatchLogger(o.logger))
	}
	return func(next Service) Service {
		return &toolInvoker{
			serviceBase: serviceBase{next: next},
			registry:    reg,
			dispatcher:  o.dispatcher,
			opts:        o,
		}
	}
}

type toolInvoker struct {
	serviceBase
	registry   *Registry
	dispatcher *Dispatcher
	opts       invokerOptions
}

// enhance appends the tool advertisement to the system prompt when any tool is enabled.
func (t *toolInvoker) enhance(req Request) Request {
	defs := t.registry.ListEnabled()
	if len(defs) == 0 {
		return req
	}
	return withToolPrompt(req, ToolPrompt(defs))
}

func (t *toolInvoker) Execute(ctx context.Context, req Request) (Response, error) {
	return t.executeWithLimit(ctx, t.enhance(req), 0)
}

// executeWithLimit loops model call → parse → dispatch. calls counts model calls made so far.
func (t *toolInvoker) executeWithLimit(ctx context.Context, req Request, calls int) (Response, error) {
	for {
		resp, err := t.next.Execute(ctx, req)
		calls++
		if err != nil {
			return resp, err
		}
		invs, ok := t.detect(resp.Text, resp)
		if !ok {
			return resp, nil
		}
		if calls >= t.opts.maxInvocations {
			return t.limitExceeded(ctx, req), nil
		}
		t.opts.logger.InfoContext(ctx, "tool calls detected",
			"request_id", req.RequestID, "count", len(invs), "iteration", calls)
		req, err = t.dispatch(ctx, req, resp.Text, invs)
		if err != nil {
			return Response{}, err
		}
	}
}

func (t *toolInvoker) limitExceeded(ctx context.Context, req Request) Response {
	t.opts.logger.WarnContext(ctx, "maximum tool invocations reached",
		"request_id", req.RequestID, "max", t.opts.maxInvocations)
	return FailureResponse(req, ErrInvocationLimit.Error())
}

// detect parses tool calls from text. Failed or empty responses never carry calls.
func (t *toolInvoker) detect(text string, resp Response) ([]Invocation, bool) {
	if !resp.IsSuccess || text == "" {
		return nil, false
	}
	if !t.opts.reportUnknown {
		return ParseToolCalls(text, t.registry.Has)
	}
	scanned, found := ScanToolCalls(text, t.registry.Has)
	if !found {
		return nil, false
	}
	invs := make([]Invocation, len(scanned))
	for i, c := range scanned {
		invs[i] = c.Invocation
	}
	return invs, true
}

// dispatch runs invs in order and returns the continuation request: the history extended
// with the assistant answer and one user message holding all results.
func (t *toolInvoker) dispatch(ctx context.Context, req Request, text string, invs []Invocation) (Request, error) {
	results := t.dispatcher.InvokeAll(ctx, invs)
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	return req.WithHistory(AssistantMessage(text), UserMessage(FormatToolResults(results))), nil
}

func (t *toolInvoker) ExecuteStream(ctx context.Context, req Request) (*Stream, error) {
	req = t.enhance(req)
	inner, err := t.next.ExecuteStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return t.forward(ctx, req, inner), nil
}
