package toolloop

import "context"

// Service is a model-execution backend. Implementations return a failed Response (not an
// error) for backend-reported problems and reserve errors for cancellation and misuse.
type Service interface {
	Execute(ctx context.Context, req Request) (Response, error)
	// ExecuteStream starts a streamed call. The caller must drain Tokens (or cancel ctx)
	// for the stream to complete.
	ExecuteStream(ctx context.Context, req Request) (*Stream, error)
	Embed(ctx context.Context, text, model string, cfg BackendConfig) ([]float32, error)
	ListModels(ctx context.Context, cfg BackendConfig) ([]string, error)
	HealthCheck(ctx context.Context, cfg BackendConfig) (bool, error)
}

// Middleware wraps a Service with cross-cutting behavior (logging, tool invocation, limits).
type Middleware func(Service) Service

// Chain applies mws to base. The first middleware is the outermost: it sees the request
// first and the response last.
func Chain(base Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			base = mws[i](base)
		}
	}
	return base
}

// serviceBase forwards every operation to next; decorators embed it and override
// what they change.
type serviceBase struct{ next Service }

func (b serviceBase) Execute(ctx context.Context, req Request) (Response, error) {
	return b.next.Execute(ctx, req)
}

func (b serviceBase) ExecuteStream(ctx context.Context, req Request) (*Stream, error) {
	return b.next.ExecuteStream(ctx, req)
}

func (b serviceBase) Embed(ctx context.Context, text, model string, cfg BackendConfig) ([]float32, error) {
	return b.next.Embed(ctx, text, model, cfg)
}

func (b serviceBase) ListModels(ctx context.Context, cfg BackendConfig) ([]string, error) {
	return b.next.ListModels(ctx, cfg)
}

func (b serviceBase) HealthCheck(ctx context.Context, cfg BackendConfig) (bool, error) {
	return b.next.HealthCheck(ctx, cfg)
}
