package testutil

import (
	"context"

	"github.com/tgsearchbot/toolloop"
)

// NewTestRegistry returns a Registry holding entries. It panics on an invalid entry.
func NewTestRegistry(entries ...toolloop.Entry) *toolloop.Registry {
	reg := toolloop.NewRegistry()
	for _, e := range entries {
		reg.MustRegister(e.Definition, e.Handler)
	}
	return reg
}

// EchoTool is the entry for Echo(text: string, required), which returns its text argument.
func EchoTool() toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "Echo",
			Description: "Echo the given text back",
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "text", Type: toolloop.String, Required: true, Description: "text to echo"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}
