package toolloop

import (
	"context"
	"strings"
	"sync"
)

// Stream is a streamed model call: a token channel plus a completion that resolves
// once, after the token channel has been closed.
//
// Producers create it with NewStream, send on their channel, close it, then call the
// returned resolve function exactly once (later calls are ignored). Consumers range over
// Tokens and then read Result, or use Wait/Collect.
type Stream struct {
	tokens <-chan string
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	resp Response
	err  error
}

// NewStream returns a stream over tokens holding a streaming placeholder for req,
// and the function that resolves it.
func NewStream(req Request, tokens <-chan string) (*Stream, func(Response, error)) {
	s := &Stream{
		tokens: tokens,
		done:   make(chan struct{}),
		resp:   StreamingResponse(req),
	}
	return s, s.resolve
}

func (s *Stream) resolve(resp Response, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.resp, s.err = resp, err
		s.mu.Unlock()
		close(s.done)
	})
}

// Tokens returns the token channel. It is closed when the producer is finished.
func (s *Stream) Tokens() <-chan string { return s.tokens }

// Done is closed when the stream has resolved.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Result returns the terminal response, or the streaming placeholder if the stream
// has not resolved yet.
func (s *Stream) Result() (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp, s.err
}

// Wait blocks until the stream resolves or ctx is done. It does not read tokens.
func (s *Stream) Wait(ctx context.Context) (Response, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Collect drains the tokens, waits for completion and returns the concatenated text.
func (s *Stream) Collect(ctx context.Context) (string, Response, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), Response{}, ctx.Err()
		case tok, ok := <-s.tokens:
			if !ok {
				resp, err := s.Wait(ctx)
				return b.String(), resp, err
			}
			b.WriteString(tok)
		}
	}
}

// then returns a stream sharing s's tokens whose completion is fn applied to s's result.
func (s *Stream) then(fn func(Response, error) (Response, error)) *Stream {
	next := &Stream{
		tokens: s.tokens,
		done:   make(chan struct{}),
	}
	next.resp, next.err = s.Result()
	go func() {
		<-s.done
		next.resolve(fn(s.Result()))
	}()
	return next
}

// send delivers tok on out unless ctx is done first.
func send(ctx context.Context, out chan<- string, tok string) error {
	select {
	case out <- tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamText returns a stream that yields tokens and then resolves with resp.
// It is meant for backends and tests that already hold the whole answer.
func StreamText(ctx context.Context, req Request, resp Response, tokens ...string) *Stream {
	out := make(chan string)
	s, resolve := NewStream(req, out)
	go func() {
		for _, tok := range tokens {
			if err := send(ctx, out, tok); err != nil {
				close(out)
				resolve(Response{}, err)
				return
			}
		}
		close(out)
		resolve(resp, nil)
	}()
	return s
}
