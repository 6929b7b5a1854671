// Package expr implements data-driven styling expressions.
//
// An expression is a small tree of case/step/comparison nodes evaluated per
// rendered feature against its property map and its transient feature state.
// Trees encode to (and decode from) the array form understood by Mapbox GL
// style documents, e.g.
//
//	["case", ["boolean", ["feature-state", "hover"], false], 1, 0.5]
//
// so the same value drives both server-side resolution and the browser map.
package expr

import (
	"encoding/json"
	"strings"
)

// Context is the evaluation input for a single feature.
type Context struct {
	Properties map[string]any
	State      map[string]any
}

// Expr is a node in an expression tree.
type Expr interface {
	// Eval evaluates the node against a feature context.
	Eval(ctx Context) any
	encode() any
}

// Encode returns the array form of e (nil for a nil expression).
func Encode(e Expr) any {
	if e == nil {
		return nil
	}
	return e.encode()
}

// Marshal encodes e as JSON. A nil expression marshals to null.
func Marshal(e Expr) ([]byte, error) {
	return json.Marshal(Encode(e))
}

// Matches reports whether a filter accepts the context. A nil filter accepts
// everything; otherwise the filter must evaluate to boolean true.
func Matches(filter Expr, ctx Context) bool {
	if filter == nil {
		return true
	}
	b, ok := filter.Eval(ctx).(bool)
	return ok && b
}

// ---------------------------------------------------------------------------
// Leaves
// ---------------------------------------------------------------------------

// LiteralExpr is a constant value.
type LiteralExpr struct{ Value any }

// Literal returns a constant expression.
func Literal(v any) *LiteralExpr { return &LiteralExpr{Value: v} }

func (e *LiteralExpr) Eval(Context) any { return e.Value }

func (e *LiteralExpr) encode() any {
	switch e.Value.(type) {
	case []any, []string, map[string]any:
		return []any{"literal", e.Value}
	}
	return e.Value
}

// MarshalJSON implements json.Marshaler.
func (e *LiteralExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// GetExpr reads a feature property; a missing property yields nil.
type GetExpr struct{ Property string }

// Get returns an expression reading the named property.
func Get(property string) *GetExpr { return &GetExpr{Property: property} }

func (e *GetExpr) Eval(ctx Context) any { return ctx.Properties[e.Property] }
func (e *GetExpr) encode() any          { return []any{"get", e.Property} }

// MarshalJSON implements json.Marshaler.
func (e *GetExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// HasExpr tests for the presence of a property.
type HasExpr struct{ Property string }

// Has returns an expression testing whether the property exists.
func Has(property string) *HasExpr { return &HasExpr{Property: property} }

func (e *HasExpr) Eval(ctx Context) any {
	_, ok := ctx.Properties[e.Property]
	return ok
}
func (e *HasExpr) encode() any { return []any{"has", e.Property} }

// MarshalJSON implements json.Marshaler.
func (e *HasExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// StateExpr reads a transient feature-state flag.
type StateExpr struct{ Key string }

// State returns an expression reading the named feature-state key.
func State(key string) *StateExpr { return &StateExpr{Key: key} }

func (e *StateExpr) Eval(ctx Context) any { return ctx.State[e.Key] }
func (e *StateExpr) encode() any          { return []any{"feature-state", e.Key} }

// MarshalJSON implements json.Marshaler.
func (e *StateExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// ---------------------------------------------------------------------------
// Logic
// ---------------------------------------------------------------------------

// NotExpr negates a boolean expression. Non-boolean operands count as false.
type NotExpr struct{ X Expr }

// Not returns the negation of x.
func Not(x Expr) *NotExpr { return &NotExpr{X: x} }

func (e *NotExpr) Eval(ctx Context) any {
	b, _ := e.X.Eval(ctx).(bool)
	return !b
}
func (e *NotExpr) encode() any { return []any{"!", e.X.encode()} }

// MarshalJSON implements json.Marshaler.
func (e *NotExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// BooleanExpr asserts a boolean, substituting Fallback for anything else.
type BooleanExpr struct {
	X        Expr
	Fallback bool
}

// Boolean returns x when it evaluates to a bool, fallback otherwise.
func Boolean(x Expr, fallback bool) *BooleanExpr { return &BooleanExpr{X: x, Fallback: fallback} }

func (e *BooleanExpr) Eval(ctx Context) any {
	if b, ok := e.X.Eval(ctx).(bool); ok {
		return b
	}
	return e.Fallback
}
func (e *BooleanExpr) encode() any { return []any{"boolean", e.X.encode(), e.Fallback} }

// MarshalJSON implements json.Marshaler.
func (e *BooleanExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// AllExpr is true when every operand is true.
type AllExpr struct{ Xs []Expr }

// All returns the conjunction of xs.
func All(xs ...Expr) *AllExpr { return &AllExpr{Xs: xs} }

func (e *AllExpr) Eval(ctx Context) any {
	for _, x := range e.Xs {
		if b, ok := x.Eval(ctx).(bool); !ok || !b {
			return false
		}
	}
	return true
}
func (e *AllExpr) encode() any { return append([]any{"all"}, encodeAll(e.Xs)...) }

// MarshalJSON implements json.Marshaler.
func (e *AllExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// AnyExpr is true when at least one operand is true.
type AnyExpr struct{ Xs []Expr }

// Any returns the disjunction of xs.
func Any(xs ...Expr) *AnyExpr { return &AnyExpr{Xs: xs} }

func (e *AnyExpr) Eval(ctx Context) any {
	for _, x := range e.Xs {
		if b, ok := x.Eval(ctx).(bool); ok && b {
			return true
		}
	}
	return false
}
func (e *AnyExpr) encode() any { return append([]any{"any"}, encodeAll(e.Xs)...) }

// MarshalJSON implements json.Marshaler.
func (e *AnyExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// InExpr tests substring containment when Haystack is a string and
// membership when it is an array. Anything else is false.
type InExpr struct {
	Needle   Expr
	Haystack Expr
}

// In returns an expression testing whether needle occurs in haystack.
func In(needle, haystack Expr) *InExpr { return &InExpr{Needle: needle, Haystack: haystack} }

func (e *InExpr) Eval(ctx Context) any {
	needle := e.Needle.Eval(ctx)
	switch h := e.Haystack.Eval(ctx).(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []any:
		for _, v := range h {
			if equal(v, needle) {
				return true
			}
		}
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, v := range h {
			if v == s {
				return true
			}
		}
	}
	return false
}
func (e *InExpr) encode() any { return []any{"in", e.Needle.encode(), e.Haystack.encode()} }

// MarshalJSON implements json.Marshaler.
func (e *InExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Comparison operators.
const (
	OpEq = "=="
	OpNe = "!="
	OpGt = ">"
	OpGe = ">="
	OpLt = "<"
	OpLe = "<="
)

// CompareExpr compares two operands. Ordering operators require both sides to
// be numbers or both to be strings; mismatched or missing operands are false.
type CompareExpr struct {
	Op          string
	Left, Right Expr
}

// Compare returns a comparison node.
func Compare(op string, left, right Expr) *CompareExpr {
	return &CompareExpr{Op: op, Left: left, Right: right}
}

// Gt is shorthand for Compare(OpGt, Get(property), Literal(v)).
func Gt(property string, v float64) *CompareExpr { return Compare(OpGt, Get(property), Literal(v)) }

// Lt is shorthand for Compare(OpLt, Get(property), Literal(v)).
func Lt(property string, v float64) *CompareExpr { return Compare(OpLt, Get(property), Literal(v)) }

func (e *CompareExpr) Eval(ctx Context) any {
	l, r := e.Left.Eval(ctx), e.Right.Eval(ctx)
	switch e.Op {
	case OpEq:
		return equal(l, r)
	case OpNe:
		return !equal(l, r)
	}
	c, ok := order(l, r)
	if !ok {
		return false
	}
	switch e.Op {
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	}
	return false
}
func (e *CompareExpr) encode() any { return []any{e.Op, e.Left.encode(), e.Right.encode()} }

// MarshalJSON implements json.Marshaler.
func (e *CompareExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// ---------------------------------------------------------------------------
// Branching
// ---------------------------------------------------------------------------

// Branch is one condition/output pair of a case expression.
type Branch struct {
	When Expr
	Then Expr
}

// When builds a Branch.
func When(cond, then Expr) Branch { return Branch{When: cond, Then: then} }

// CaseExpr yields the output of the first branch whose condition is true,
// or Else when none match. Branch order is significant.
type CaseExpr struct {
	Branches []Branch
	Else     Expr
}

// Case returns a case node.
func Case(fallback Expr, branches ...Branch) *CaseExpr {
	return &CaseExpr{Branches: branches, Else: fallback}
}

func (e *CaseExpr) Eval(ctx Context) any {
	for _, b := range e.Branches {
		if ok, _ := b.When.Eval(ctx).(bool); ok {
			return b.Then.Eval(ctx)
		}
	}
	return e.Else.Eval(ctx)
}

func (e *CaseExpr) encode() any {
	out := []any{"case"}
	for _, b := range e.Branches {
		out = append(out, b.When.encode(), b.Then.encode())
	}
	return append(out, e.Else.encode())
}

// MarshalJSON implements json.Marshaler.
func (e *CaseExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// Stop is one threshold/output pair of a step expression.
type Stop struct {
	Threshold float64
	Output    Expr
}

// At builds a Stop.
func At(threshold float64, output Expr) Stop { return Stop{Threshold: threshold, Output: output} }

// StepExpr yields the output of the highest stop whose threshold does not
// exceed the numeric input, or Base below the first stop. Stops must be in
// strictly ascending threshold order. A non-numeric input yields Base.
type StepExpr struct {
	Input Expr
	Base  Expr
	Stops []Stop
}

// Step returns a step node.
func Step(input, base Expr, stops ...Stop) *StepExpr {
	return &StepExpr{Input: input, Base: base, Stops: stops}
}

func (e *StepExpr) Eval(ctx Context) any {
	n, ok := toNumber(e.Input.Eval(ctx))
	out := e.Base
	if ok {
		for _, s := range e.Stops {
			if n < s.Threshold {
				break
			}
			out = s.Output
		}
	}
	return out.Eval(ctx)
}

func (e *StepExpr) encode() any {
	out := []any{"step", e.Input.encode(), e.Base.encode()}
	for _, s := range e.Stops {
		out = append(out, s.Threshold, s.Output.encode())
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (e *StepExpr) MarshalJSON() ([]byte, error) { return json.Marshal(e.encode()) }

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func encodeAll(xs []Expr) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x.encode()
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Number converts an evaluated value to float64.
func Number(v any) (float64, bool) { return toNumber(v) }

func equal(a, b any) bool {
	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	}
	return false
}

func order(a, b any) (int, bool) {
	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}
