package toolloop

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// coerceArguments checks required parameters in declaration order, converts supplied
// values to their declared types and fills defaults of omitted optional parameters.
// Arguments that are not declared pass through unchanged. The input map is not modified.
func coerceArguments(def ToolDefinition, args map[string]any) (map[string]any, error) {
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			return nil, &ArgumentError{Param: p.Name, Expected: p.Type, Err: ErrMissingParameter}
		}
	}

	out := make(map[string]any, len(args)+len(def.Parameters))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range def.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Default != nil {
				out[p.Name] = normalizeJSON(p.Default)
			} else {
				delete(out, p.Name)
			}
			continue
		}
		cv, ok := coerceValue(p.Type, v)
		if !ok {
			return nil, &ArgumentError{Param: p.Name, Expected: p.Type, Err: ErrTypeMismatch}
		}
		out[p.Name] = cv
	}
	return out, nil
}

// coerceValue converts v to the JSON-shaped Go value of type t:
// string, float64, bool, map[string]any or []any.
func coerceValue(t ParamType, v any) (any, bool) {
	switch t {
	case String:
		return coerceString(v)
	case Number:
		return coerceNumber(v)
	case Boolean:
		return coerceBool(v)
	case Object:
		return coerceStructured(v, func(x any) bool { _, ok := x.(map[string]any); return ok })
	case Array:
		return coerceStructured(v, func(x any) bool { _, ok := x.([]any); return ok })
	}
	return nil, false
}

func coerceString(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool, float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return fmt.Sprint(x), true
	}
	return nil, false
}

func coerceNumber(v any) (any, bool) {
	var f float64
	switch x := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, false
		}
		f = parsed
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, false
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

func coerceBool(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

// coerceStructured decodes a JSON string, or normalizes an already structured value,
// and accepts the result only if want reports the expected shape.
func coerceStructured(v any, want func(any) bool) (any, bool) {
	var decoded any
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &decoded); err != nil {
			return nil, false
		}
	} else {
		decoded = normalizeJSON(v)
	}
	if !want(decoded) {
		return nil, false
	}
	return decoded, true
}

// normalizeJSON round-trips v through encoding/json so typed Go values become the
// generic shapes schema validation expects. Values that cannot be encoded are returned as-is.
func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
