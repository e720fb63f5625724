package toolloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoDispatcher(t *testing.T, opts ...DispatcherOption) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDef(), echoHandler))
	return NewDispatcher(reg, opts...), reg
}

func TestDispatcher_EchoScenario(t *testing.T) {
	d, reg := newEchoDispatcher(t)
	calls, found := reg.ParseToolCalls("<Echo><text>hi</text></Echo>")
	require.True(t, found)
	res := d.Invoke(context.Background(), calls[0])
	assert.True(t, res.IsSuccess)
	assert.Equal(t, "hi", res.Result)
	assert.Equal(t, calls[0].InvocationID, res.InvocationID)
	assert.Equal(t, "Echo", res.ToolName)
	assert.Empty(t, res.ErrorMessage)
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d, _ := newEchoDispatcher(t)
	res := d.Invoke(context.Background(), NewInvocation("missing", nil))
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "tool not registered", res.ErrorMessage)
	assert.ErrorIs(t, res.Err, ErrToolNotRegistered)
}

func TestDispatcher_DisabledTool(t *testing.T) {
	d, reg := newEchoDispatcher(t)
	require.NoError(t, reg.SetEnabled("Echo", false))
	res := d.Invoke(context.Background(), NewInvocation("Echo", map[string]any{"text": "x"}))
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "tool disabled", res.ErrorMessage)
	assert.ErrorIs(t, res.Err, ErrToolDisabled)
}

func TestDispatcher_MissingRequiredSkipsHandler(t *testing.T) {
	var called atomic.Bool
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolDefinition{
		Name:    "pair",
		Enabled: true,
		Parameters: []ToolParameterSpec{
			{Name: "first", Type: String, Required: true},
			{Name: "second", Type: String, Required: true},
		},
	}, func(context.Context, map[string]any) (any, error) {
		called.Store(true)
		return nil, nil
	}))
	res := NewDispatcher(reg).Invoke(context.Background(), NewInvocation("pair", nil))
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "missing required parameter: first", res.ErrorMessage)
	assert.ErrorIs(t, res.Err, ErrMissingParameter)
	assert.False(t, called.Load())
}

func TestDispatcher_TypeMismatch(t *testing.T) {
	var called atomic.Bool
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolDefinition{
		Name:       "add",
		Enabled:    true,
		Parameters: []ToolParameterSpec{{Name: "n", Type: Number, Required: true}},
	}, func(context.Context, map[string]any) (any, error) {
		called.Store(true)
		return nil, nil
	}))
	res := NewDispatcher(reg).Invoke(context.Background(), NewInvocation("add", map[string]any{"n": "seven"}))
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "parameter n: expected number", res.ErrorMessage)
	assert.ErrorIs(t, res.Err, ErrTypeMismatch)
	assert.False(t, called.Load())
}

func TestDispatcher_CoercesArguments(t *testing.T) {
	var got map[string]any
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolDefinition{
		Name:    "typed",
		Enabled: true,
		Parameters: []ToolParameterSpec{
			{Name: "s", Type: String, Required: true},
			{Name: "n", Type: Number, Required: true},
			{Name: "b", Type: Boolean, Required: true},
			{Name: "o", Type: Object, Required: true},
			{Name: "a", Type: Array, Required: true},
			{Name: "unit", Type: String, Default: "c", Enum: []string{"c", "f"}},
		},
	}, func(_ context.Context, args map[string]any) (any, error) {
		got = args
		return "ok", nil
	}))
	res := NewDispatcher(reg).Invoke(context.Background(), NewInvocation("typed", map[string]any{
		"s":     "text",
		"n":     " 3.5 ",
		"b":     "true",
		"o":     `{"k": [1, "two"]}`,
		"a":     `["x", 2]`,
		"extra": "kept",
	}))
	require.True(t, res.IsSuccess, res.ErrorMessage)
	assert.Equal(t, map[string]any{
		"s":     "text",
		"n":     3.5,
		"b":     true,
		"o":     map[string]any{"k": []any{1.0, "two"}},
		"a":     []any{"x", 2.0},
		"unit":  "c",
		"extra": "kept",
	}, got)
}

func TestDispatcher_EnumViolation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(weatherDef(), func(context.Context, map[string]any) (any, error) {
		return "sunny", nil
	}))
	d := NewDispatcher(reg)
	res := d.Invoke(context.Background(), NewInvocation("weather", map[string]any{"location": "Oslo", "unit": "k"}))
	assert.False(t, res.IsSuccess)
	assert.ErrorIs(t, res.Err, ErrValidation)
	assert.Contains(t, res.ErrorMessage, "invalid arguments:")

	res = d.Invoke(context.Background(), NewInvocation("weather", map[string]any{"location": "Oslo", "unit": "f"}))
	assert.True(t, res.IsSuccess)
}

func TestDispatcher_HandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("upstream unavailable")
	require.NoError(t, reg.Register(ToolDefinition{Name: "fail", Enabled: true}, func(context.Context, map[string]any) (any, error) {
		return nil, boom
	}))
	res := NewDispatcher(reg).Invoke(context.Background(), NewInvocation("fail", nil))
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "upstream unavailable", res.ErrorMessage)
	assert.ErrorIs(t, res.Err, boom)
	assert.True(t, IsHandlerError(res.Err))
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolDefinition{Name: "panic", Enabled: true}, func(context.Context, map[string]any) (any, error) {
		panic("oops")
	}))
	var res InvocationResult
	require.NotPanics(t, func() {
		res = NewDispatcher(reg).Invoke(context.Background(), NewInvocation("panic", nil))
	})
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "panic: oops", res.ErrorMessage)
}

func TestDispatcher_Timeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolDefinition{Name: "slow", Enabled: true}, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	res := NewDispatcher(reg, WithDefaultTimeout(5*time.Millisecond)).Invoke(context.Background(), NewInvocation("slow", nil))
	assert.False(t, res.IsSuccess)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestDispatcher_Hooks(t *testing.T) {
	var before, after atomic.Int32
	var lastDur time.Duration
	d, _ := newEchoDispatcher(t,
		WithOnBeforeInvoke(func(context.Context, Invocation) { before.Add(1) }),
		WithOnAfterInvoke(func(_ context.Context, _ Invocation, _ InvocationResult, dur time.Duration) {
			after.Add(1)
			lastDur = dur
		}),
	)
	d.Invoke(context.Background(), NewInvocation("Echo", map[string]any{"text": "x"}))
	d.Invoke(context.Background(), NewInvocation("Echo", nil))
	assert.Equal(t, int32(1), before.Load(), "before runs only when the handler runs")
	assert.Equal(t, int32(2), after.Load(), "after runs for every invocation")
	assert.GreaterOrEqual(t, lastDur, time.Duration(0))
}

func TestDispatcher_InvokeAllInOrder(t *testing.T) {
	var order []string
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDef(), func(_ context.Context, args map[string]any) (any, error) {
		order = append(order, args["text"].(string))
		return args["text"], nil
	}))
	d := NewDispatcher(reg)
	invs := []Invocation{
		NewInvocation("Echo", map[string]any{"text": "1"}),
		NewInvocation("missing", nil),
		NewInvocation("Echo", map[string]any{"text": "3"}),
	}
	results := d.InvokeAll(context.Background(), invs)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"1", "3"}, order)
	for i, r := range results {
		assert.Equal(t, invs[i].InvocationID, r.InvocationID)
	}
	assert.False(t, results[1].IsSuccess)
}

func TestDispatcher_InvokeAllCanceled(t *testing.T) {
	d, _ := newEchoDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := d.InvokeAll(ctx, []Invocation{NewInvocation("Echo", map[string]any{"text": "x"})})
	require.Len(t, results, 1)
	assert.False(t, results[0].IsSuccess)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestInvocationResult_String(t *testing.T) {
	ok := InvocationResult{ToolName: "Echo", IsSuccess: true, Result: "hi"}
	assert.Equal(t, "tool Echo succeeded:\nhi", ok.String())
	fail := InvocationResult{ToolName: "Echo", ErrorMessage: "tool disabled"}
	assert.Equal(t, "tool Echo execution failed: tool disabled", fail.String())
}
