package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/tgsearchbot/toolloop"
)

type calculation struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

func calculatorTool(o options) toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name: "calculator",
			Description: "Evaluate an arithmetic expression. Supports + - * / // % and parentheses; " +
				"functions sqrt, pow, log, exp, sin, cos, tan, floor, ceil, round and the constants pi and e",
			Category: categoryMath,
			Enabled:  true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "expression", Type: toolloop.String, Required: true, Description: "expression to evaluate, e.g. (2 + 3) * pow(2, 8)"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			expr := strings.TrimSpace(str(args, "expression"))
			v, err := evaluate(ctx, expr, o.maxSteps)
			if err != nil {
				return nil, err
			}
			return calculation{Expression: expr, Result: v}, nil
		},
	}
}

// evalEnv exposes the starlark math module both as math.* and as bare names.
var evalEnv = func() starlark.StringDict {
	env := starlark.StringDict{"math": starlarkmath.Module}
	for name, member := range starlarkmath.Module.Members {
		env[name] = member
	}
	return env
}()

func evaluate(ctx context.Context, expr string, maxSteps uint64) (float64, error) {
	if expr == "" {
		return 0, errors.New("empty expression")
	}
	thread := &starlark.Thread{Name: "calculator"}
	thread.SetMaxExecutionSteps(maxSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "expression", expr, evalEnv)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return 0, fmt.Errorf("evaluate %q: %s", expr, evalErr.Msg)
		}
		return 0, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("expression %q is not numeric (got %s)", expr, v.Type())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expression %q has no finite result", expr)
	}
	return f, nil
}

type mathResult struct {
	Function string  `json:"function"`
	Input    float64 `json:"input"`
	Unit     string  `json:"unit,omitempty"`
	Result   float64 `json:"result"`
}

var mathFunctions = []string{"sin", "cos", "tan", "log", "ln", "sqrt", "abs", "round", "floor", "ceil"}

func mathFunctionTool() toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "math_function",
			Description: "Apply a single math function to a number",
			Category:    categoryMath,
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "function", Type: toolloop.String, Required: true, Enum: mathFunctions},
				{Name: "value", Type: toolloop.Number, Required: true},
				{Name: "unit", Type: toolloop.String, Description: "angle unit for trigonometric functions", Enum: []string{"radian", "degree"}, Default: "radian"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			fn := str(args, "function")
			x := num(args, "value")
			unit := str(args, "unit")
			r, err := applyMath(fn, x, unit)
			if err != nil {
				return nil, err
			}
			out := mathResult{Function: fn, Input: x, Result: r}
			if isTrig(fn) {
				out.Unit = unit
			}
			return out, nil
		},
	}
}

func isTrig(fn string) bool {
	return fn == "sin" || fn == "cos" || fn == "tan"
}

func applyMath(fn string, x float64, unit string) (float64, error) {
	if isTrig(fn) && unit == "degree" {
		x = x * math.Pi / 180
	}
	var r float64
	switch fn {
	case "sin":
		r = math.Sin(x)
	case "cos":
		r = math.Cos(x)
	case "tan":
		r = math.Tan(x)
	case "log":
		if x <= 0 {
			return 0, fmt.Errorf("log of non-positive value %v", x)
		}
		r = math.Log10(x)
	case "ln":
		if x <= 0 {
			return 0, fmt.Errorf("ln of non-positive value %v", x)
		}
		r = math.Log(x)
	case "sqrt":
		if x < 0 {
			return 0, fmt.Errorf("sqrt of negative value %v", x)
		}
		r = math.Sqrt(x)
	case "abs":
		r = math.Abs(x)
	case "round":
		r = math.Round(x)
	case "floor":
		r = math.Floor(x)
	case "ceil":
		r = math.Ceil(x)
	default:
		return 0, fmt.Errorf("unknown function %q", fn)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%s(%v) has no finite result", fn, x)
	}
	return r, nil
}
