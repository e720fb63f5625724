package toolloop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolPrompt builds the tool advertisement appended to the system prompt. Output is
// deterministic for a given definition list (ListEnabled already sorts by name).
func ToolPrompt(defs []ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You can use the following tools to help answer the question:\n\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		if len(d.Parameters) == 0 {
			b.WriteString("  Parameters: none\n")
			continue
		}
		params := make([]string, len(d.Parameters))
		for i, p := range d.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			params[i] = fmt.Sprintf("%s: %s (%s)", p.Name, p.Type, req)
			if len(p.Enum) > 0 {
				params[i] += " one of [" + strings.Join(p.Enum, ", ") + "]"
			}
		}
		b.WriteString("  Parameters: " + strings.Join(params, ", ") + "\n")
	}
	b.WriteString(`
To call a tool, reply with a block in one of these forms:

<ToolName><param>value</param></ToolName>

<tool name="ToolName">
  <parameters>
    <param>value</param>
    <json_param><![CDATA[{"raw": "payload"}]]></json_param>
  </parameters>
</tool>

Wrap values containing markup, JSON or newlines in CDATA. You may call several tools in one
reply. The results will be sent back to you; then continue answering the user's question.`)
	return b.String()
}

// withToolPrompt appends prompt to the request's system prompt.
func withToolPrompt(req Request, prompt string) Request {
	if req.SystemPrompt == "" {
		return req.WithSystemPrompt(prompt)
	}
	return req.WithSystemPrompt(req.SystemPrompt + "\n\n" + prompt)
}

// FormatToolResults renders results, in order, as the single user message fed back to the model.
func FormatToolResults(results []InvocationResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.String()
	}
	return "Tool results:\n" + strings.Join(parts, "\n\n") +
		"\n\nContinue answering the user's question based on the tool results above."
}

// renderResult turns a handler return value into text: strings verbatim, nil as
// "no return value", anything else as indented JSON.
func renderResult(v any) string {
	switch x := v.(type) {
	case nil:
		return "no return value"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case []byte:
		return string(x)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
