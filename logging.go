package toolloop

import (
	"context"
	"log/slog"
	"time"
)

// WithLogging returns a middleware that logs start, end, duration and errors of every
// operation. Errors are logged and returned unchanged.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Service) Service {
		return &loggingService{serviceBase: serviceBase{next: next}, logger: logger}
	}
}

type loggingService struct {
	serviceBase
	logger *slog.Logger
}

func (l *loggingService) Execute(ctx context.Context, req Request) (Response, error) {
	l.logger.InfoContext(ctx, "model request start",
		"request_id", req.RequestID, "model", req.Model, "messages", len(req.History))
	start := time.Now()
	resp, err := l.next.Execute(ctx, req)
	l.logResult(ctx, "model request", req, resp, err, time.Since(start))
	return resp, err
}

func (l *loggingService) ExecuteStream(ctx context.Context, req Request) (*Stream, error) {
	l.logger.InfoContext(ctx, "model stream start",
		"request_id", req.RequestID, "model", req.Model, "messages", len(req.History))
	start := time.Now()
	s, err := l.next.ExecuteStream(ctx, req)
	if err != nil {
		l.logger.ErrorContext(ctx, "model stream error",
			"request_id", req.RequestID, "duration", time.Since(start), "error", err)
		return nil, err
	}
	return s.then(func(resp Response, err error) (Response, error) {
		l.logResult(ctx, "model stream", req, resp, err, time.Since(start))
		return resp, err
	}), nil
}

func (l *loggingService) logResult(ctx context.Context, op string, req Request, resp Response, err error, dur time.Duration) {
	switch {
	case err != nil:
		l.logger.ErrorContext(ctx, op+" error",
			"request_id", req.RequestID, "duration", dur, "error", err)
	case !resp.IsSuccess:
		l.logger.WarnContext(ctx, op+" failed",
			"request_id", req.RequestID, "duration", dur, "error", resp.ErrorMessage)
	default:
		l.logger.InfoContext(ctx, op+" end",
			"request_id", req.RequestID, "duration", dur, "text_length", len(resp.Text))
	}
}

func (l *loggingService) Embed(ctx context.Context, text, model string, cfg BackendConfig) ([]float32, error) {
	l.logger.DebugContext(ctx, "embed start", "model", model, "backend", cfg.Name, "text_length", len(text))
	start := time.Now()
	vec, err := l.next.Embed(ctx, text, model, cfg)
	if err != nil {
		l.logger.ErrorContext(ctx, "embed error", "model", model, "duration", time.Since(start), "error", err)
		return vec, err
	}
	l.logger.DebugContext(ctx, "embed end", "model", model, "duration", time.Since(start), "dimensions", len(vec))
	return vec, nil
}

func (l *loggingService) ListModels(ctx context.Context, cfg BackendConfig) ([]string, error) {
	l.logger.DebugContext(ctx, "list models start", "backend", cfg.Name)
	start := time.Now()
	models, err := l.next.ListModels(ctx, cfg)
	if err != nil {
		l.logger.ErrorContext(ctx, "list models error", "backend", cfg.Name, "duration", time.Since(start), "error", err)
		return models, err
	}
	l.logger.DebugContext(ctx, "list models end", "backend", cfg.Name, "duration", time.Since(start), "count", len(models))
	return models, nil
}

func (l *loggingService) HealthCheck(ctx context.Context, cfg BackendConfig) (bool, error) {
	l.logger.DebugContext(ctx, "health check start", "backend", cfg.Name)
	start := time.Now()
	ok, err := l.next.HealthCheck(ctx, cfg)
	if err != nil {
		l.logger.ErrorContext(ctx, "health check error", "backend", cfg.Name, "duration", time.Since(start), "error", err)
		return ok, err
	}
	l.logger.DebugContext(ctx, "health check end", "backend", cfg.Name, "duration", time.Since(start), "healthy", ok)
	return ok, nil
}
