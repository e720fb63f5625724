package toolloop

import "context"

// WithMaxConcurrency returns a middleware that allows at most n model calls in flight
// (Execute, ExecuteStream and Embed). A streamed call holds its slot until the stream
// resolves. Callers wait for a slot until ctx is done. n < 1 disables the limit.
func WithMaxConcurrency(n int) Middleware {
	return func(next Service) Service {
		if n < 1 {
			return next
		}
		return &limitService{serviceBase: serviceBase{next: next}, sem: make(chan struct{}, n)}
	}
}

type limitService struct {
	serviceBase
	sem chan struct{}
}

func (l *limitService) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitService) release() { <-l.sem }

func (l *limitService) Execute(ctx context.Context, req Request) (Response, error) {
	if err := l.acquire(ctx); err != nil {
		return Response{}, err
	}
	defer l.release()
	return l.next.Execute(ctx, req)
}

func (l *limitService) ExecuteStream(ctx context.Context, req Request) (*Stream, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	s, err := l.next.ExecuteStream(ctx, req)
	if err != nil {
		l.release()
		return nil, err
	}
	return s.then(func(resp Response, err error) (Response, error) {
		l.release()
		return resp, err
	}), nil
}

func (l *limitService) Embed(ctx context.Context, text, model string, cfg BackendConfig) ([]float32, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.next.Embed(ctx, text, model, cfg)
}
