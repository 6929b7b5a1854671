package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SyntaxError reports an expression that cannot be decoded.
type SyntaxError struct {
	Op     string
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Op == "" {
		return "expression: " + e.Reason
	}
	return fmt.Sprintf("expression %q: %s", e.Op, e.Reason)
}

// Unmarshal decodes a JSON expression. JSON null decodes to a nil Expr.
func Unmarshal(data []byte) (Expr, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding expression: %w", err)
	}
	return Parse(v)
}

// Parse converts a decoded JSON value (as produced by encoding/json into an
// any) to an expression tree. Scalars become literals.
func Parse(v any) (Expr, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return parseArray(t)
	case map[string]any:
		return nil, &SyntaxError{Reason: "bare objects must be wrapped in [\"literal\", ...]"}
	}
	return Literal(v), nil
}

func parseArray(a []any) (Expr, error) {
	if len(a) == 0 {
		return nil, &SyntaxError{Reason: "empty array"}
	}
	op, ok := a[0].(string)
	if !ok {
		return nil, &SyntaxError{Reason: "first element must be an operator name"}
	}
	args := a[1:]

	switch op {
	case "literal":
		if len(args) != 1 {
			return nil, arity(op, "1")
		}
		return Literal(args[0]), nil

	case "get", "has", "feature-state":
		if len(args) != 1 {
			return nil, arity(op, "1")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, &SyntaxError{Op: op, Reason: "argument must be a string"}
		}
		switch op {
		case "get":
			return Get(name), nil
		case "has":
			return Has(name), nil
		}
		return State(name), nil

	case "!":
		if len(args) != 1 {
			return nil, arity(op, "1")
		}
		x, err := parseOperand(op, args[0])
		if err != nil {
			return nil, err
		}
		return Not(x), nil

	case "boolean":
		if len(args) < 1 || len(args) > 2 {
			return nil, arity(op, "1 or 2")
		}
		x, err := parseOperand(op, args[0])
		if err != nil {
			return nil, err
		}
		fallback := false
		if len(args) == 2 {
			b, ok := args[1].(bool)
			if !ok {
				return nil, &SyntaxError{Op: op, Reason: "fallback must be a boolean"}
			}
			fallback = b
		}
		return Boolean(x, fallback), nil

	case "all", "any":
		xs := make([]Expr, 0, len(args))
		for _, arg := range args {
			x, err := parseOperand(op, arg)
			if err != nil {
				return nil, err
			}
			xs = append(xs, x)
		}
		if op == "all" {
			return All(xs...), nil
		}
		return Any(xs...), nil

	case "in":
		if len(args) != 2 {
			return nil, arity(op, "2")
		}
		needle, err := parseOperand(op, args[0])
		if err != nil {
			return nil, err
		}
		haystack, err := parseOperand(op, args[1])
		if err != nil {
			return nil, err
		}
		return In(needle, haystack), nil

	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		if len(args) != 2 {
			return nil, arity(op, "2")
		}
		l, err := parseOperand(op, args[0])
		if err != nil {
			return nil, err
		}
		r, err := parseOperand(op, args[1])
		if err != nil {
			return nil, err
		}
		return Compare(op, l, r), nil

	case "case":
		if len(args) < 3 || len(args)%2 == 0 {
			return nil, arity(op, "an odd number (>= 3)")
		}
		branches := make([]Branch, 0, len(args)/2)
		for i := 0; i+1 < len(args); i += 2 {
			cond, err := parseOperand(op, args[i])
			if err != nil {
				return nil, err
			}
			out, err := parseOperand(op, args[i+1])
			if err != nil {
				return nil, err
			}
			branches = append(branches, When(cond, out))
		}
		fallback, err := parseOperand(op, args[len(args)-1])
		if err != nil {
			return nil, err
		}
		return Case(fallback, branches...), nil

	case "step":
		if len(args) < 2 || len(args)%2 != 0 {
			return nil, arity(op, "an even number (>= 2)")
		}
		input, err := parseOperand(op, args[0])
		if err != nil {
			return nil, err
		}
		base, err := parseOperand(op, args[1])
		if err != nil {
			return nil, err
		}
		stops := make([]Stop, 0, (len(args)-2)/2)
		for i := 2; i+1 < len(args); i += 2 {
			t, ok := toNumber(args[i])
			if !ok {
				return nil, &SyntaxError{Op: op, Reason: "stop thresholds must be numbers"}
			}
			if n := len(stops); n > 0 && t <= stops[n-1].Threshold {
				return nil, &SyntaxError{Op: op, Reason: "stop thresholds must be strictly ascending"}
			}
			out, err := parseOperand(op, args[i+1])
			if err != nil {
				return nil, err
			}
			stops = append(stops, At(t, out))
		}
		return Step(input, base, stops...), nil
	}

	return nil, &SyntaxError{Op: op, Reason: "unknown operator"}
}

func parseOperand(op string, v any) (Expr, error) {
	x, err := Parse(v)
	if err != nil {
		return nil, err
	}
	if x == nil {
		return Literal(nil), nil
	}
	return x, nil
}

func arity(op, want string) error {
	return &SyntaxError{Op: op, Reason: "expects " + want + " argument(s)"}
}
