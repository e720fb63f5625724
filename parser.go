package toolloop

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
)

const (
	wrapperTag      = "toolloop_calls"
	maxWrapperDepth = 4
)

var (
	thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fenceRe      = regexp.MustCompile("(?s)```[\\w+-]*[ \\t]*\\r?\\n?(.*?)```")
	entityRefRe  = regexp.MustCompile(`^&(?:[A-Za-z][A-Za-z0-9]*|#[0-9]+|#x[0-9A-Fa-f]+);`)

	errUnbalanced = errors.New("unbalanced markup")
)

// ScannedCall is a tool-shaped block found in model output. Registered is false for
// blocks naming a tool the lookup did not know.
type ScannedCall struct {
	Invocation
	Registered bool
}

// ParseToolCalls scans model output for embedded tool calls and returns those naming a
// known tool, in document order. found is false when there are none, including when the
// markup is malformed. It never panics on bad input.
//
// Accepted shapes, optionally inside a markdown fence and surrounded by prose:
//
//	<ToolName><param>value</param></ToolName>
//	<tool name="ToolName"><parameters><param>value</param></parameters></tool>
//
// Several blocks may follow each other or sit inside a wrapper element. Values may be
// wrapped in CDATA and are returned verbatim as strings.
func ParseToolCalls(text string, known func(name string) bool) (calls []Invocation, found bool) {
	scanned, _ := ScanToolCalls(text, known)
	for _, c := range scanned {
		if c.Registered {
			calls = append(calls, c.Invocation)
		}
	}
	return calls, len(calls) > 0
}

// ScanToolCalls is like ParseToolCalls but also returns blocks that look like tool calls
// to unknown tools. found reports whether at least one registered call is present.
func ScanToolCalls(text string, known func(name string) bool) (calls []ScannedCall, found bool) {
	if known == nil {
		known = func(string) bool { return false }
	}
	cleaned := prepare(text)
	doc, ok := markupSpan(cleaned)
	if !ok {
		return nil, false
	}
	s := scanner{known: known}
	if nodes, err := parseBlock(doc); err == nil {
		s.collect(nodes, 0)
	} else {
		// Stray angle brackets in the prose: parse each candidate block on its own.
		for _, block := range candidateBlocks(cleaned, known) {
			if nodes, err := parseBlock(block); err == nil {
				s.collect(nodes, 0)
			}
		}
	}
	for _, c := range s.calls {
		if c.Registered {
			return s.calls, true
		}
	}
	return s.calls, false
}

// CleanResponse strips <think>…</think> reasoning blocks and surrounding whitespace.
func CleanResponse(text string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
}

// prepare drops reasoning blocks, invalid UTF-8 and markdown fences from model output.
func prepare(text string) string {
	s := CleanResponse(strings.ToValidUTF8(text, "\uFFFD"))
	return stripFences(s)
}

// markupSpan narrows s down to the span that may hold tool markup.
func markupSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '<')
	end := strings.LastIndexByte(s, '>')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// stripFences replaces the text with the contents of its fenced blocks when a fence opens
// before any markup. Fences inside markup (e.g. inside a CDATA payload) are left alone.
func stripFences(s string) string {
	fence := strings.Index(s, "```")
	if fence < 0 {
		return s
	}
	if lt := strings.IndexByte(s, '<'); lt >= 0 && lt < fence {
		return s
	}
	matches := fenceRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		// Unterminated fence: drop the opening line only.
		rest := s[fence+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			return rest[nl+1:]
		}
		return rest
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m[1])
	}
	return strings.Join(parts, "\n")
}

// parseBlock parses doc as a sequence of sibling elements.
func parseBlock(doc string) ([]*xmlNode, error) {
	root, err := parseTree(wrap(doc))
	if err != nil {
		return nil, err
	}
	if len(root.children) != 1 {
		return nil, errUnbalanced
	}
	return root.children[0].children, nil
}

// candidateBlocks cuts s into the blocks that open with a known tool name, <tool name=...>
// or <tool_name>, each up to its matching close tag, in document order. Blocks without a
// close tag are skipped.
func candidateBlocks(s string, known func(string) bool) []string {
	var blocks []string
	for i := 0; i < len(s); {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			break
		}
		start := i + lt
		name := tagName(s[start+1:])
		if name == "" || !(known(name) || name == "tool" || name == "tool_name") {
			i = start + 1
			continue
		}
		end, ok := closeTag(s, start, name)
		if !ok {
			i = start + 1
			continue
		}
		blocks = append(blocks, s[start:end])
		i = end
	}
	return blocks
}

// tagName returns the element name at the start of s, or "" when s does not start one.
func tagName(s string) string {
	n := 0
	for n < len(s) {
		c := s[n]
		if c == '_' || c == '-' || c == '.' || c == ':' ||
			'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || n > 0 && '0' <= c && c <= '9' {
			n++
			continue
		}
		break
	}
	if n == 0 || n == len(s) {
		return ""
	}
	switch s[n] {
	case '>', ' ', '\t', '\n', '\r', '/':
		return s[:n]
	}
	return ""
}

// closeTag returns the offset just past the close tag matching the element name opened at
// start. Nested elements of the same name are counted and CDATA sections are skipped.
func closeTag(s string, start int, name string) (int, bool) {
	open, closing := "<"+name, "</"+name+">"
	depth := 0
	for i := start; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "<![CDATA["):
			end := strings.Index(s[i:], "]]>")
			if end < 0 {
				return 0, false
			}
			i += end + 3
		case strings.HasPrefix(s[i:], closing):
			depth--
			i += len(closing)
			if depth == 0 {
				return i, true
			}
		case strings.HasPrefix(s[i:], open) && tagName(s[i+1:]) == name:
			gt := strings.IndexByte(s[i:], '>')
			if gt < 0 {
				return 0, false
			}
			if s[i+gt-1] != '/' {
				depth++
			} else if depth == 0 {
				return i + gt + 1, true
			}
			i += gt + 1
		default:
			i++
		}
	}
	return 0, false
}

func wrap(doc string) string {
	return "<" + wrapperTag + ">" + escapeBareAmpersands(doc) + "</" + wrapperTag + ">"
}

// escapeBareAmpersands turns '&' that does not start an entity reference into &amp;,
// leaving CDATA sections untouched. Models write "R&D" far more often than "R&amp;D".
func escapeBareAmpersands(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "<![CDATA[") {
			end := strings.Index(s[i:], "]]>")
			if end < 0 {
				b.WriteString(s[i:])
				break
			}
			b.WriteString(s[i : i+end+3])
			i += end + 3
			continue
		}
		if s[i] == '&' && !entityRefRe.MatchString(s[i:]) {
			b.WriteString("&amp;")
			i++
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	// value is the concatenated character data of the node and its descendants.
	value strings.Builder
}

func (n *xmlNode) attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// parseTree decodes doc strictly into a node tree under a synthetic document node.
func parseTree(doc string) (*xmlNode, error) {
	d := xml.NewDecoder(strings.NewReader(doc))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	root := &xmlNode{}
	stack := []*xmlNode{root}
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: slices.Clone(t.Attr)}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 1 {
				return nil, errUnbalanced
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			for _, n := range stack[1:] {
				n.value.Write(t)
			}
		}
	}
	if len(stack) != 1 {
		return nil, errUnbalanced
	}
	return root, nil
}

type scanner struct {
	known func(string) bool
	calls []ScannedCall
}

func (s *scanner) collect(nodes []*xmlNode, depth int) {
	for _, n := range nodes {
		if s.matchTool(n) {
			continue
		}
		if depth < maxWrapperDepth && isWrapper(n) {
			s.collect(n.children, depth+1)
			continue
		}
		if len(n.children) > 0 {
			// Shaped like a flat call with parameters, but the name is not registered.
			s.add(n.name, n, false)
		}
	}
}

// matchTool recognises n as a tool block. The attributed form is checked first so it wins
// over a flat-form reading of the same element.
func (s *scanner) matchTool(n *xmlNode) bool {
	if n.name == "tool" {
		if name, ok := n.attr("name"); ok {
			container := n.child("parameters")
			if container == nil {
				container = n
			}
			s.add(name, container, s.known(name))
			return true
		}
	}
	if s.known(n.name) {
		s.add(n.name, n, true)
		return true
	}
	if n.name == "tool_name" && len(n.children) == 1 && s.known(n.children[0].name) {
		inner := n.children[0]
		s.add(inner.name, inner, true)
		return true
	}
	return false
}

func (s *scanner) add(name string, container *xmlNode, registered bool) {
	args := make(map[string]any, len(container.children))
	for _, c := range container.children {
		key := c.name
		if c.name == "parameter" {
			if k, ok := c.attr("name"); ok && k != "" {
				key = k
			}
		}
		args[key] = c.value.String()
	}
	s.calls = append(s.calls, ScannedCall{Invocation: NewInvocation(name, args), Registered: registered})
}

// isWrapper reports whether n only groups other blocks: it has child elements and none of
// them is a leaf carrying text (which would make n a call with parameters).
func isWrapper(n *xmlNode) bool {
	if len(n.children) == 0 {
		return false
	}
	for _, c := range n.children {
		if len(c.children) == 0 && strings.TrimSpace(c.value.String()) != "" {
			return false
		}
	}
	return true
}

// FormatToolCall renders inv in flat form. Keys are sorted; values that contain markup
// characters are wrapped in CDATA, non-string values are JSON-encoded.
// ParseToolCalls(FormatToolCall(inv)) yields the same tool name and string arguments.
func FormatToolCall(inv Invocation) string {
	var b strings.Builder
	b.WriteString("<" + inv.ToolName + ">")
	keys := make([]string, 0, len(inv.Arguments))
	for k := range inv.Arguments {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "<%s>%s</%s>", k, formatValue(inv.Arguments[k]), k)
	}
	b.WriteString("</" + inv.ToolName + ">")
	return b.String()
}

// FormatToolCalls renders several calls as sibling blocks.
func FormatToolCalls(invs []Invocation) string {
	parts := make([]string, len(invs))
	for i, inv := range invs {
		parts[i] = FormatToolCall(inv)
	}
	return strings.Join(parts, "\n")
}

func formatValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case nil:
		return ""
	default:
		data, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprint(x)
		} else {
			s = string(data)
		}
	}
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	return "<![CDATA[" + strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>") + "]]>"
}
