package toolloop

import (
	"context"
	"strings"
)

// forward relays tokens of inner to a new outer stream. When a finished inner stream
// holds tool calls it emits the marker, dispatches them and continues with a fresh inner
// stream, within the same model-call bound as Execute. The outer stream resolves after
// the last inner one, or with ctx.Err() as soon as ctx is done.
func (t *toolInvoker) forward(ctx context.Context, req Request, inner *Stream) *Stream {
	out := make(chan string)
	outer, resolve := NewStream(req, out)
	go func() {
		resp, err := t.pump(ctx, req, inner, out)
		close(out)
		resolve(resp, err)
	}()
	return outer
}

func (t *toolInvoker) pump(ctx context.Context, req Request, inner *Stream, out chan<- string) (Response, error) {
	for calls := 1; ; calls++ {
		text, err := relay(ctx, inner, out)
		if err != nil {
			return Response{}, err
		}
		resp, err := inner.Wait(ctx)
		if err != nil {
			return resp, err
		}
		invs, ok := t.detect(text, resp)
		if !ok {
			return resp, nil
		}
		if calls >= t.opts.maxInvocations {
			return t.limitExceeded(ctx, req), nil
		}
		t.opts.logger.InfoContext(ctx, "tool calls detected in stream",
			"request_id", req.RequestID, "count", len(invs), "iteration", calls)
		if err := send(ctx, out, t.opts.marker); err != nil {
			return Response{}, err
		}
		req, err = t.dispatch(ctx, req, text, invs)
		if err != nil {
			return Response{}, err
		}
		inner, err = t.next.ExecuteStream(ctx, req)
		if err != nil {
			return Response{}, err
		}
	}
}

// relay forwards every token of inner to out as it arrives and returns the full text.
func relay(ctx context.Context, inner *Stream, out chan<- string) (string, error) {
	var buf strings.Builder
	tokens := inner.Tokens()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case tok, ok := <-tokens:
			if !ok {
				return buf.String(), nil
			}
			buf.WriteString(tok)
			if err := send(ctx, out, tok); err != nil {
				return "", err
			}
		}
	}
}
