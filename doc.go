// Package toolloop turns free-text model output into tool calls and runs the
// call → dispatch → continue loop around a pluggable model backend.
//
// # Overview
//
// Models that lack native function calling are told, through the system prompt, to emit
// tool calls as small markup blocks inside their answer. This package finds those blocks,
// validates and coerces their arguments against the registered definitions, runs the
// handlers and feeds the results back to the model until it answers without tool calls.
//
// Pipeline: ToolDefinition + Handler → Registry → Service chain (WithLogging,
// WithToolInvocation) → model answer → ParseToolCalls → Dispatcher.Invoke →
// FormatToolResults → next model call.
//
// # Key concepts
//
//   - Wire format: <ToolName><param>value</param></ToolName> or
//     <tool name="ToolName"><parameters>…</parameters></tool>, optionally fenced,
//     several per answer, CDATA for raw payloads.
//   - Never throw: malformed markup is "no call"; dispatch problems become failed
//     InvocationResults that the model reads as "tool X execution failed: …".
//   - Bounded loop: one top-level request makes at most WithMaxToolInvocations model calls.
//   - Streaming: tokens are relayed as they arrive; tool calls found at the end of a stream
//     splice in a continuation stream after DefaultToolMarker.
//
// # Example
//
//	reg := toolloop.NewRegistry()
//	reg.MustRegister(toolloop.ToolDefinition{
//	    Name: "Echo", Description: "Echo text back", Enabled: true,
//	    Parameters: []toolloop.ToolParameterSpec{{Name: "text", Type: toolloop.String, Required: true}},
//	}, func(_ context.Context, args map[string]any) (any, error) {
//	    return args["text"], nil
//	})
//	svc := toolloop.Chain(backend, toolloop.WithLogging(logger), toolloop.WithToolInvocation(reg))
//	resp, err := svc.Execute(ctx, toolloop.NewRequest("gpt-4o-mini", toolloop.UserMessage("say hi")))
package toolloop
