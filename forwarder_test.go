package toolloop_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgsearchbot/toolloop"
	"github.com/tgsearchbot/toolloop/testutil"
)

func drain(t *testing.T, s *toolloop.Stream) ([]string, toolloop.Response, error) {
	t.Helper()
	var tokens []string
	for tok := range s.Tokens() {
		tokens = append(tokens, tok)
	}
	resp, err := s.Wait(context.Background())
	return tokens, resp, err
}

func TestForwarder_NoToolCallRelaysExactly(t *testing.T) {
	inner := []string{"Hel", "lo", ", ", "world", "!"}
	base := &testutil.MockService{Tokens: [][]string{inner}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(testutil.NewTestRegistry(testutil.EchoTool())))

	s, err := svc.ExecuteStream(context.Background(), toolloop.NewRequest("m"))
	require.NoError(t, err)
	tokens, resp, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, inner, tokens)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, "Hello, world!", resp.Text)
	assert.Equal(t, 1, base.Calls())
}

func TestForwarder_SplicesContinuation(t *testing.T) {
	base := &testutil.MockService{Tokens: [][]string{
		{"Checking. ", "<Echo><text>", "hi</text>", "</Echo>"},
		{"Echo ", "said hi."},
	}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(testutil.NewTestRegistry(testutil.EchoTool())))

	s, err := svc.ExecuteStream(context.Background(), toolloop.NewRequest("m", toolloop.UserMessage("q")))
	require.NoError(t, err)
	tokens, resp, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Checking. ", "<Echo><text>", "hi</text>", "</Echo>",
		toolloop.DefaultToolMarker,
		"Echo ", "said hi.",
	}, tokens)
	assert.Equal(t, "Echo said hi.", resp.Text)
	require.Equal(t, 2, base.Calls())

	history := base.Requests()[1].History
	require.Len(t, history, 3)
	assert.Equal(t, "Checking. <Echo><text>hi</text></Echo>", history[1].Text)
	assert.Contains(t, history[2].Text, "tool Echo succeeded:\nhi")
}

func TestForwarder_CustomMarker(t *testing.T) {
	base := &testutil.MockService{Tokens: [][]string{{"<Echo><text>x</text></Echo>"}, {"ok"}}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(
		testutil.NewTestRegistry(testutil.EchoTool()), toolloop.WithToolMarker("[tools]")))
	s, err := svc.ExecuteStream(context.Background(), toolloop.NewRequest("m"))
	require.NoError(t, err)
	tokens, _, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"<Echo><text>x</text></Echo>", "[tools]", "ok"}, tokens)
}

func TestForwarder_Limit(t *testing.T) {
	base := &testutil.MockService{Tokens: [][]string{{"<Echo><text>x</text></Echo>"}}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(
		testutil.NewTestRegistry(testutil.EchoTool()), toolloop.WithMaxToolInvocations(2)))
	s, err := svc.ExecuteStream(context.Background(), toolloop.NewRequest("m"))
	require.NoError(t, err)
	tokens, resp, err := drain(t, s)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, "maximum tool invocations reached", resp.ErrorMessage)
	assert.Equal(t, 2, base.Calls())
	assert.Equal(t, []string{"<Echo><text>x</text></Echo>", toolloop.DefaultToolMarker, "<Echo><text>x</text></Echo>"}, tokens)
}

func TestForwarder_FailedInnerForwarded(t *testing.T) {
	base := &testutil.MockService{StreamFn: func(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error) {
		return toolloop.StreamText(ctx, req, toolloop.FailureResponse(req, "quota"), "<Echo><text>x</text></Echo>"), nil
	}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(testutil.NewTestRegistry(testutil.EchoTool())))
	s, err := svc.ExecuteStream(context.Background(), toolloop.NewRequest("m"))
	require.NoError(t, err)
	_, resp, err := drain(t, s)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, "quota", resp.ErrorMessage)
	assert.Equal(t, 1, base.Calls())
}

func TestForwarder_InnerStartError(t *testing.T) {
	boom := errors.New("dial failed")
	calls := 0
	base := &testutil.MockService{StreamFn: func(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error) {
		calls++
		if calls == 1 {
			return toolloop.StreamText(ctx, req, toolloop.SuccessResponse(req, "<Echo><text>x</text></Echo>"), "<Echo><text>x</text></Echo>"), nil
		}
		return nil, boom
	}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(testutil.NewTestRegistry(testutil.EchoTool())))

	s, err := svc.ExecuteStream(context.Background(), toolloop.NewRequest("m"))
	require.NoError(t, err)
	_, _, err = drain(t, s)
	assert.ErrorIs(t, err, boom)

	calls = 1
	_, err = svc.ExecuteStream(context.Background(), toolloop.NewRequest("m"))
	assert.ErrorIs(t, err, boom)
}

func TestForwarder_CancelClosesOuterStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := &testutil.MockService{StreamFn: func(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error) {
		out := make(chan string)
		s, resolve := toolloop.NewStream(req, out)
		go func() {
			for {
				select {
				case out <- "tok":
				case <-ctx.Done():
					close(out)
					resolve(toolloop.Response{}, ctx.Err())
					return
				}
			}
		}()
		return s, nil
	}}
	svc := toolloop.Chain(base, toolloop.WithToolInvocation(testutil.NewTestRegistry(testutil.EchoTool())))

	s, err := svc.ExecuteStream(ctx, toolloop.NewRequest("m"))
	require.NoError(t, err)
	assert.Equal(t, "tok", <-s.Tokens())
	cancel()

	for range s.Tokens() {
	}
	resp, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resp.IsSuccess)
}
