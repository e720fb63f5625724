package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tgsearchbot/toolloop"
)

type textStats struct {
	Characters        int `json:"characters"`
	CharactersNoSpace int `json:"characters_no_spaces"`
	Words             int `json:"words"`
	Lines             int `json:"lines"`
	Sentences         int `json:"sentences"`
	Paragraphs        int `json:"paragraphs"`
}

func textStatsTool() toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "text_stats",
			Description: "Count characters, words, lines, sentences and paragraphs in a text",
			Category:    categoryText,
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "text", Type: toolloop.String, Required: true},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return computeStats(str(args, "text")), nil
		},
	}
}

func computeStats(text string) textStats {
	st := textStats{
		Characters: utf8.RuneCountInString(text),
		Words:      len(strings.Fields(text)),
	}
	for _, r := range text {
		if !unicode.IsSpace(r) {
			st.CharactersNoSpace++
		}
	}
	if text == "" {
		return st
	}
	st.Lines = strings.Count(text, "\n") + 1
	st.Sentences = countSentences(text)
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) != "" {
			st.Paragraphs++
		}
	}
	return st
}

// countSentences counts runs of terminal punctuation that follow some non-space text.
func countSentences(text string) int {
	n := 0
	pending := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if pending {
				n++
				pending = false
			}
		case !unicode.IsSpace(r):
			pending = true
		}
	}
	if pending {
		n++
	}
	return n
}

type base64Result struct {
	Operation string `json:"operation"`
	Result    string `json:"result"`
}

func base64Tool() toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "base64_encode_decode",
			Description: "Encode text to base64 or decode base64 to text",
			Category:    categoryText,
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "text", Type: toolloop.String, Required: true},
				{Name: "operation", Type: toolloop.String, Required: true, Enum: []string{"encode", "decode"}},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			text := str(args, "text")
			op := str(args, "operation")
			switch op {
			case "encode":
				return base64Result{Operation: op, Result: base64.StdEncoding.EncodeToString([]byte(text))}, nil
			case "decode":
				raw, err := decodeBase64(strings.TrimSpace(text))
				if err != nil {
					return nil, err
				}
				if !utf8.Valid(raw) {
					return nil, fmt.Errorf("decoded data is not valid UTF-8 text")
				}
				return base64Result{Operation: op, Result: string(raw)}, nil
			}
			return nil, fmt.Errorf("unknown operation %q", op)
		},
	}
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 input")
}
