// Package testutil provides test helpers for toolloop (e.g. MockService).
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/tgsearchbot/toolloop"
)

// MockService is a scripted toolloop.Service for tests.
type MockService struct {
	// Replies scripts Execute: call i answers Replies[i], the last reply repeats.
	Replies []string
	// Tokens scripts ExecuteStream: call i streams Tokens[i] and succeeds with their
	// concatenation. Without Tokens, the matching reply is streamed as one token.
	Tokens [][]string
	// ExecuteFn, when set, replaces the scripted Execute behavior.
	ExecuteFn func(ctx context.Context, req toolloop.Request) (toolloop.Response, error)
	// StreamFn, when set, replaces the scripted ExecuteStream behavior.
	StreamFn func(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error)
	// Vector is returned by Embed.
	Vector []float32
	// Models is returned by ListModels.
	Models []string
	// Unhealthy makes HealthCheck report false.
	Unhealthy bool
	// Err is returned by Embed, ListModels and HealthCheck when set.
	Err error

	mu       sync.Mutex
	requests []toolloop.Request
}

var _ toolloop.Service = (*MockService)(nil)

// Requests returns the requests seen by Execute and ExecuteStream, in call order.
func (m *MockService) Requests() []toolloop.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]toolloop.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many model calls (Execute or ExecuteStream) were made.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockService) record(req toolloop.Request) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return len(m.requests) - 1
}

func (m *MockService) reply(i int) string {
	if len(m.Replies) == 0 {
		return ""
	}
	return m.Replies[min(i, len(m.Replies)-1)]
}

// Execute answers with the scripted reply.
func (m *MockService) Execute(ctx context.Context, req toolloop.Request) (toolloop.Response, error) {
	i := m.record(req)
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return toolloop.Response{}, err
	}
	return toolloop.SuccessResponse(req, m.reply(i)), nil
}

// ExecuteStream streams the scripted tokens.
func (m *MockService) ExecuteStream(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error) {
	i := m.record(req)
	if m.StreamFn != nil {
		return m.StreamFn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tokens []string
	switch {
	case len(m.Tokens) > 0:
		tokens = m.Tokens[min(i, len(m.Tokens)-1)]
	default:
		tokens = []string{m.reply(i)}
	}
	resp := toolloop.SuccessResponse(req, strings.Join(tokens, ""))
	return toolloop.StreamText(ctx, req, resp, tokens...), nil
}

// Embed returns Vector.
func (m *MockService) Embed(_ context.Context, _, _ string, _ toolloop.BackendConfig) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vector, nil
}

// ListModels returns Models.
func (m *MockService) ListModels(_ context.Context, _ toolloop.BackendConfig) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Models, nil
}

// HealthCheck reports !Unhealthy.
func (m *MockService) HealthCheck(_ context.Context, _ toolloop.BackendConfig) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return !m.Unhealthy, nil
}
