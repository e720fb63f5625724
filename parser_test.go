package toolloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownNames(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

type call struct {
	name string
	args map[string]any
}

func simplify(invs []Invocation) []call {
	out := make([]call, len(invs))
	for i, inv := range invs {
		out[i] = call{name: inv.ToolName, args: inv.Arguments}
	}
	return out
}

func TestParseToolCalls_FlatForm(t *testing.T) {
	calls, found := ParseToolCalls("<T><a>1</a></T>", knownNames("T"))
	require.True(t, found)
	require.Len(t, calls, 1)
	assert.Equal(t, "T", calls[0].ToolName)
	assert.Equal(t, map[string]any{"a": "1"}, calls[0].Arguments)
	assert.NotEmpty(t, calls[0].InvocationID)
}

func TestParseToolCalls_AttributedForm(t *testing.T) {
	known := knownNames("search")
	tests := []struct {
		name string
		text string
	}{
		{"with parameters", `<tool name="search"><parameters><query>go</query><limit>5</limit></parameters></tool>`},
		{"without parameters", `<tool name="search"><query>go</query><limit>5</limit></tool>`},
		{"named parameters", `<tool name="search"><parameters><parameter name="query">go</parameter><parameter name="limit">5</parameter></parameters></tool>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, found := ParseToolCalls(tt.text, known)
			require.True(t, found)
			assert.Equal(t, []call{{"search", map[string]any{"query": "go", "limit": "5"}}}, simplify(calls))
		})
	}
}

func TestParseToolCalls_AttributedFormWins(t *testing.T) {
	// "tool" is itself a registered name; the name attribute still decides.
	calls, found := ParseToolCalls(`<tool name="Echo"><text>x</text></tool>`, knownNames("tool", "Echo"))
	require.True(t, found)
	assert.Equal(t, []call{{"Echo", map[string]any{"text": "x"}}}, simplify(calls))
}

func TestParseToolCalls_UnknownDropped(t *testing.T) {
	text := "<Nope><x>1</x></Nope>\n<Echo><text>hi</text></Echo>\n<tool name=\"Missing\"><y>2</y></tool>"
	calls, found := ParseToolCalls(text, knownNames("Echo"))
	require.True(t, found)
	assert.Equal(t, []call{{"Echo", map[string]any{"text": "hi"}}}, simplify(calls))

	calls, found = ParseToolCalls("<Nope><x>1</x></Nope>", knownNames("Echo"))
	assert.False(t, found)
	assert.Empty(t, calls)
}

func TestParseToolCalls_CDATAVerbatim(t *testing.T) {
	payload := "{\"query\": \"say \\\"hi\\\"\",\n  \"tags\": [\"<b>\", \"a&b\"]}"
	text := "<tool name=\"store\"><parameters><doc><![CDATA[" + payload + "]]></doc></parameters></tool>"
	calls, found := ParseToolCalls(text, knownNames("store"))
	require.True(t, found)
	require.Len(t, calls, 1)
	assert.Equal(t, payload, calls[0].Arguments["doc"])
}

func TestParseToolCalls_FencedEqualsUnfenced(t *testing.T) {
	known := knownNames("Echo", "search")
	plain := "<Echo><text>hi</text></Echo>\n<tool name=\"search\"><query>go</query></tool>"
	fences := []string{
		"```xml\n" + plain + "\n```",
		"```\n" + plain + "\n```",
		"Here you go:\n```xml\n" + plain + "\n```\nThanks.",
		"```xml\n" + plain,
	}
	want, found := ParseToolCalls(plain, known)
	require.True(t, found)
	for _, text := range fences {
		got, found := ParseToolCalls(text, known)
		require.True(t, found, text)
		assert.Equal(t, simplify(want), simplify(got), text)
	}
}

func TestParseToolCalls_MultipleRootsInOrder(t *testing.T) {
	text := `<B><n>1</n></B><A><n>2</n></A><B><n>3</n></B>`
	calls, found := ParseToolCalls(text, knownNames("A", "B"))
	require.True(t, found)
	assert.Equal(t, []call{
		{"B", map[string]any{"n": "1"}},
		{"A", map[string]any{"n": "2"}},
		{"B", map[string]any{"n": "3"}},
	}, simplify(calls))
}

func TestParseToolCalls_Wrapper(t *testing.T) {
	text := `<tool_calls>
  <Echo><text>one</text></Echo>
  <Nope><q>x</q></Nope>
  <tool name="Echo"><parameters><text>two</text></parameters></tool>
</tool_calls>`
	calls, found := ParseToolCalls(text, knownNames("Echo"))
	require.True(t, found)
	assert.Equal(t, []call{
		{"Echo", map[string]any{"text": "one"}},
		{"Echo", map[string]any{"text": "two"}},
	}, simplify(calls))
}

func TestParseToolCalls_LegacyToolNameWrapper(t *testing.T) {
	calls, found := ParseToolCalls(`<tool_name><Echo><text>x</text></Echo></tool_name>`, knownNames("Echo"))
	require.True(t, found)
	assert.Equal(t, []call{{"Echo", map[string]any{"text": "x"}}}, simplify(calls))
}

func TestParseToolCalls_SurroundingProse(t *testing.T) {
	text := "Let me check that for you.\n\n<Echo><text>hi</text></Echo>\n\nOne moment."
	calls, found := ParseToolCalls(text, knownNames("Echo"))
	require.True(t, found)
	assert.Equal(t, []call{{"Echo", map[string]any{"text": "hi"}}}, simplify(calls))
}

func TestParseToolCalls_AngleBracketsInProse(t *testing.T) {
	known := knownNames("Echo", "Now")
	tests := []struct {
		name string
		text string
		want []call
	}{
		{"less-than before call", "If x < 5 then call <Echo><text>hi</text></Echo>", []call{{"Echo", map[string]any{"text": "hi"}}}},
		{"html tag after call", "<Echo><text>hi</text></Echo>\nNote: use <br> tags", []call{{"Echo", map[string]any{"text": "hi"}}}},
		{"several blocks keep order", "a > b: <Now/> then <tool name=\"Echo\"><parameters><text>x</text></parameters></tool> and <Echo><text>y</text></Echo> <i>", []call{
			{"Now", map[string]any{}},
			{"Echo", map[string]any{"text": "x"}},
			{"Echo", map[string]any{"text": "y"}},
		}},
		{"close tag inside CDATA", "1 < 2 <Echo><text><![CDATA[</Echo>]]></text></Echo>", []call{{"Echo", map[string]any{"text": "</Echo>"}}}},
		{"nested same name", "x < y <Echo><text><Echo>in</Echo></text></Echo>", []call{{"Echo", map[string]any{"text": "in"}}}},
		{"malformed block skipped", "3 < 4 <Echo><text>bad</Echo> <Echo><text>ok</text></Echo>", []call{{"Echo", map[string]any{"text": "ok"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, found := ParseToolCalls(tt.text, known)
			require.True(t, found)
			assert.Equal(t, tt.want, simplify(calls))
		})
	}
}

func TestParseToolCalls_InvalidUTF8(t *testing.T) {
	calls, found := ParseToolCalls("\xff\xfe<Echo><text>\xff</text></Echo>", knownNames("Echo"))
	require.True(t, found)
	require.Len(t, calls, 1)
	assert.Equal(t, "\uFFFD", calls[0].Arguments["text"])
}

func TestParseToolCalls_ThinkBlockIgnored(t *testing.T) {
	known := knownNames("Echo")
	_, found := ParseToolCalls("<think>maybe <Echo><text>x</text></Echo></think>No tools needed.", known)
	assert.False(t, found)

	calls, found := ParseToolCalls("<think>need echo</think>\n<Echo><text>x</text></Echo>", known)
	require.True(t, found)
	assert.Len(t, calls, 1)
}

func TestParseToolCalls_NoCallsOrMalformed(t *testing.T) {
	known := knownNames("Echo")
	inputs := []string{
		"",
		"just an answer",
		"<Echo><text>hi</Echo>",
		"<Echo><text>hi</text>",
		"</Echo>",
		"<Echo text='x'",
		"2 < 3 and <Echo><text>x</Echo>",
		"a <b> tag and <Echo><text>x</text>",
		"<![CDATA[unterminated",
		"```xml\n```",
		"<<<>>>",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			calls, found := ParseToolCalls(in, known)
			assert.False(t, found, in)
			assert.Empty(t, calls, in)
		})
	}
}

func TestParseToolCalls_EmptyAndNestedValues(t *testing.T) {
	calls, found := ParseToolCalls(`<Now></Now><Echo><text><b>bold</b> text</text></Echo>`, knownNames("Now", "Echo"))
	require.True(t, found)
	assert.Equal(t, []call{
		{"Now", map[string]any{}},
		{"Echo", map[string]any{"text": "bold text"}},
	}, simplify(calls))
}

func TestParseToolCalls_BareAmpersandAndEntities(t *testing.T) {
	calls, found := ParseToolCalls(`<Echo><text>R&D &amp; QA &lt;3</text></Echo>`, knownNames("Echo"))
	require.True(t, found)
	assert.Equal(t, "R&D & QA <3", calls[0].Arguments["text"])
}

func TestParseToolCalls_NilKnown(t *testing.T) {
	calls, found := ParseToolCalls("<Echo><text>x</text></Echo>", nil)
	assert.False(t, found)
	assert.Empty(t, calls)
}

func TestScanToolCalls_ReportsUnknown(t *testing.T) {
	text := "<Echo><text>hi</text></Echo><Nope><x>1</x></Nope>"
	scanned, found := ScanToolCalls(text, knownNames("Echo"))
	require.True(t, found)
	require.Len(t, scanned, 2)
	assert.Equal(t, "Echo", scanned[0].ToolName)
	assert.True(t, scanned[0].Registered)
	assert.Equal(t, "Nope", scanned[1].ToolName)
	assert.False(t, scanned[1].Registered)
	assert.Equal(t, map[string]any{"x": "1"}, scanned[1].Arguments)

	scanned, found = ScanToolCalls("<Nope><x>1</x></Nope>", knownNames("Echo"))
	assert.False(t, found)
	assert.Len(t, scanned, 1)
}

func TestFormatToolCall_RoundTrip(t *testing.T) {
	known := knownNames("search", "store")
	original := []Invocation{
		NewInvocation("search", map[string]any{"query": "go generics", "limit": "5"}),
		NewInvocation("store", map[string]any{"doc": "{\"a\": \"<b>\"}\nline & more ]]> end"}),
		NewInvocation("search", map[string]any{}),
	}
	text := FormatToolCalls(original)
	first, found := ParseToolCalls(text, known)
	require.True(t, found)
	assert.Equal(t, simplify(original), simplify(first))

	second, found := ParseToolCalls(FormatToolCalls(first), known)
	require.True(t, found)
	assert.Equal(t, simplify(first), simplify(second))
}

func TestFormatToolCall_NonStringValues(t *testing.T) {
	out := FormatToolCall(NewInvocation("T", map[string]any{"n": 2, "tags": []string{"a"}, "none": nil}))
	assert.Equal(t, `<T><n>2</n><none></none><tags>["a"]</tags></T>`, out)
}

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, "answer", CleanResponse("<think>\nhmm\n</think>\n  answer  "))
	assert.Equal(t, "a b", CleanResponse("a <THINK>x</THINK>b"))
}
