// Package toolloopotel adds OpenTelemetry tracing to toolloop services and tool dispatch.
package toolloopotel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tgsearchbot/toolloop"
)

const instrumentationName = "github.com/tgsearchbot/toolloop/ext/toolloopotel"

// Attribute keys recorded on spans.
const (
	AttrRequestID  = attribute.Key("toolloop.request_id")
	AttrModel      = attribute.Key("toolloop.model")
	AttrProvider   = attribute.Key("toolloop.provider")
	AttrSuccess    = attribute.Key("toolloop.success")
	AttrToolName   = attribute.Key("toolloop.tool.name")
	AttrToolCallID = attribute.Key("toolloop.tool.invocation_id")
)

// Option configures tracing.
type Option func(*config)

type config struct {
	provider trace.TracerProvider
}

// WithTracerProvider sets the provider. Default is otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.provider = tp
		}
	}
}

func tracer(opts []Option) trace.Tracer {
	c := config{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&c)
	}
	return c.provider.Tracer(instrumentationName)
}

// Middleware traces every Service operation. Chain it outermost to cover the whole tool loop,
// or innermost to get one span per model call.
func Middleware(opts ...Option) toolloop.Middleware {
	t := tracer(opts)
	return func(next toolloop.Service) toolloop.Service {
		return &tracingService{next: next, tracer: t}
	}
}

type tracingService struct {
	next   toolloop.Service
	tracer trace.Tracer
}

func requestAttrs(req toolloop.Request) trace.SpanStartOption {
	return trace.WithAttributes(
		AttrRequestID.String(req.RequestID),
		AttrModel.String(req.Model),
		AttrProvider.String(req.Backend.Provider),
	)
}

func (s *tracingService) Execute(ctx context.Context, req toolloop.Request) (toolloop.Response, error) {
	ctx, span := s.tracer.Start(ctx, "toolloop.execute", requestAttrs(req), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	resp, err := s.next.Execute(ctx, req)
	finish(span, resp, err)
	return resp, err
}

func (s *tracingService) ExecuteStream(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error) {
	ctx, span := s.tracer.Start(ctx, "toolloop.execute_stream", requestAttrs(req), trace.WithSpanKind(trace.SpanKindClient))
	stream, err := s.next.ExecuteStream(ctx, req)
	if err != nil {
		finish(span, toolloop.Response{}, err)
		span.End()
		return nil, err
	}
	go func() {
		<-stream.Done()
		resp, err := stream.Result()
		finish(span, resp, err)
		span.End()
	}()
	return stream, nil
}

func (s *tracingService) Embed(ctx context.Context, text, model string, cfg toolloop.BackendConfig) ([]float32, error) {
	ctx, span := s.tracer.Start(ctx, "toolloop.embed", trace.WithAttributes(
		AttrModel.String(model), AttrProvider.String(cfg.Provider), attribute.Int("toolloop.input_length", len(text))))
	defer span.End()
	vec, err := s.next.Embed(ctx, text, model, cfg)
	recordError(span, err)
	return vec, err
}

func (s *tracingService) ListModels(ctx context.Context, cfg toolloop.BackendConfig) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "toolloop.list_models", trace.WithAttributes(AttrProvider.String(cfg.Provider)))
	defer span.End()
	models, err := s.next.ListModels(ctx, cfg)
	recordError(span, err)
	span.SetAttributes(attribute.Int("toolloop.model_count", len(models)))
	return models, err
}

func (s *tracingService) HealthCheck(ctx context.Context, cfg toolloop.BackendConfig) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "toolloop.health_check", trace.WithAttributes(AttrProvider.String(cfg.Provider)))
	defer span.End()
	ok, err := s.next.HealthCheck(ctx, cfg)
	recordError(span, err)
	span.SetAttributes(AttrSuccess.Bool(ok))
	return ok, err
}

func finish(span trace.Span, resp toolloop.Response, err error) {
	if err != nil {
		recordError(span, err)
		return
	}
	span.SetAttributes(AttrSuccess.Bool(resp.IsSuccess))
	if !resp.IsSuccess {
		span.SetStatus(codes.Error, resp.ErrorMessage)
	}
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// DispatcherOptions returns the hooks that record one span per tool invocation.
// Pass them to toolloop.NewDispatcher.
func DispatcherOptions(opts ...Option) []toolloop.DispatcherOption {
	t := tracer(opts)
	return []toolloop.DispatcherOption{
		toolloop.WithOnAfterInvoke(func(ctx context.Context, inv toolloop.Invocation, res toolloop.InvocationResult, d time.Duration) {
			end := time.Now()
			_, span := t.Start(ctx, "toolloop.tool "+inv.ToolName,
				trace.WithTimestamp(end.Add(-d)),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					AttrToolName.String(inv.ToolName),
					AttrToolCallID.String(inv.InvocationID),
					AttrSuccess.Bool(res.IsSuccess),
				))
			if !res.IsSuccess {
				if res.Err != nil {
					span.RecordError(res.Err)
				}
				span.SetStatus(codes.Error, res.ErrorMessage)
			}
			span.End(trace.WithTimestamp(end))
		}),
	}
}
