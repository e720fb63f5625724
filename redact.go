package toolloop

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	maxLogStringChars = 500
	maxLogJSONBytes   = 4 * 1024
)

var sensitiveKeyParts = []string{"token", "secret", "password", "api_key", "apikey", "authorization", "bearer", "cookie"}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// truncateForLog cuts s to at most max bytes without splitting a rune.
func truncateForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

func sanitizeForLog(v any, key string) any {
	if isSensitiveKey(key) {
		return "[redacted]"
	}
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = sanitizeForLog(vv, k)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = sanitizeForLog(vv, "")
		}
		return out
	case string:
		return truncateForLog(x, maxLogStringChars)
	default:
		return v
	}
}

// argsForLog renders tool arguments for a log record with secrets redacted and long
// values truncated.
func argsForLog(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(sanitizeForLog(args, ""))
	if err != nil {
		return ""
	}
	return truncateForLog(string(b), maxLogJSONBytes)
}
