package toolloop

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDef() ToolDefinition {
	return ToolDefinition{
		Name:        "Echo",
		Description: "Echo text back",
		Enabled:     true,
		Parameters:  []ToolParameterSpec{{Name: "text", Type: String, Required: true}},
	}
}

func echoHandler(_ context.Context, args map[string]any) (any, error) {
	return args["text"], nil
}

func TestRegistry_RegisterLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDef(), echoHandler))

	tool, ok := reg.Lookup("Echo")
	require.True(t, ok)
	assert.Equal(t, "Echo", tool.Definition.Name)
	assert.NotNil(t, tool.Handler)
	assert.True(t, reg.Has("Echo"))

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
	assert.False(t, reg.Has("missing"))
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		name string
		def  ToolDefinition
		h    Handler
	}{
		{"nil handler", echoDef(), nil},
		{"empty name", ToolDefinition{}, echoHandler},
		{"unnamed parameter", ToolDefinition{Name: "t", Parameters: []ToolParameterSpec{{Type: String}}}, echoHandler},
		{"bad type", ToolDefinition{Name: "t", Parameters: []ToolParameterSpec{{Name: "x", Type: "integer"}}}, echoHandler},
		{"duplicate parameter", ToolDefinition{Name: "t", Parameters: []ToolParameterSpec{
			{Name: "x", Type: String}, {Name: "x", Type: Number},
		}}, echoHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.def, tt.h)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
	assert.Empty(t, reg.List())
}

func TestRegistry_ReplaceLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	reg := NewRegistry(WithRegistryLogger(logger))
	require.NoError(t, reg.Register(echoDef(), echoHandler))
	assert.NotContains(t, buf.String(), "replacing")

	def := echoDef()
	def.Description = "second"
	require.NoError(t, reg.Register(def, echoHandler))
	assert.Contains(t, buf.String(), "replacing existing tool")

	tool, ok := reg.Lookup("Echo")
	require.True(t, ok)
	assert.Equal(t, "second", tool.Definition.Description)
	assert.Len(t, reg.List(), 1)
}

func TestRegistry_ListEnabledSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		def := ToolDefinition{Name: name, Enabled: name != "mid"}
		require.NoError(t, reg.Register(def, echoHandler))
	}
	var names []string
	for _, d := range reg.ListEnabled() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
	assert.Len(t, reg.List(), 3)
	assert.Equal(t, "alpha", reg.List()[0].Name)
}

func TestRegistry_SetEnabledUnregister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDef(), echoHandler))

	require.NoError(t, reg.SetEnabled("Echo", false))
	assert.Empty(t, reg.ListEnabled())
	assert.True(t, reg.Has("Echo"))

	err := reg.SetEnabled("missing", true)
	assert.ErrorIs(t, err, ErrToolNotRegistered)

	assert.True(t, reg.Unregister("Echo"))
	assert.False(t, reg.Unregister("Echo"))
	assert.False(t, reg.Has("Echo"))
}

func TestRegistry_ParametersAreCopied(t *testing.T) {
	reg := NewRegistry()
	def := echoDef()
	require.NoError(t, reg.Register(def, echoHandler))
	def.Parameters[0].Name = "mutated"
	tool, _ := reg.Lookup("Echo")
	assert.Equal(t, "text", tool.Definition.Parameters[0].Name)
}

func TestRegistry_RegisterAll(t *testing.T) {
	reg := NewRegistry()
	err := reg.RegisterAll(
		Entry{Definition: echoDef(), Handler: echoHandler},
		Entry{Definition: ToolDefinition{}, Handler: echoHandler},
		Entry{Definition: ToolDefinition{Name: "other", Enabled: true}, Handler: echoHandler},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.True(t, reg.Has("Echo"))
	assert.True(t, reg.Has("other"))
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.MustRegister(ToolDefinition{}, echoHandler) })
}

func TestRegistry_ConcurrentRegisterLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDef(), echoHandler))
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			def := echoDef()
			def.Description = fmt.Sprintf("v%d", i)
			_ = reg.Register(def, echoHandler)
		})
		wg.Go(func() {
			tool, ok := reg.Lookup("Echo")
			if assert.True(t, ok) {
				assert.NotNil(t, tool.Handler)
				assert.Len(t, tool.Definition.Parameters, 1)
			}
		})
	}
	wg.Wait()
}

func TestRegistry_ParseToolCalls(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDef(), echoHandler))
	calls, found := reg.ParseToolCalls("<Echo><text>hi</text></Echo><Nope><x>1</x></Nope>")
	require.True(t, found)
	require.Len(t, calls, 1)
	assert.Equal(t, "Echo", calls[0].ToolName)
}
