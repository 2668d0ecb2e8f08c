package graph

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// stateEnv is the evaluation environment exposed to router condition expressions.
// It wraps State so that expressions can write `state.get("plan_confirmed", false)`
// as specified in spec.md §6, without granting attribute writes or function calls
// beyond this single accessor. expr-lang resolves methods by reflection, which only
// sees exported names, so Get is capitalized; conditionSyntaxAlias rewrites the
// lowercase spelling from the authoring surface before compilation.
type stateEnv struct {
	State State
}

// Get implements the one allowed method call in the predicate language: property
// access with a default, mirroring Python's dict.get semantics.
func (e stateEnv) Get(key string, def any) any {
	if v, ok := e.State[key]; ok {
		return v
	}
	return def
}

// conditionSyntaxAlias rewrites the authoring-facing `state.get(` spelling (spec.md
// §6) to the exported `state.Get(` method expr-lang can actually reach via
// reflection. It is deliberately a literal substring replace, not a parser: the
// predicate language has exactly one accessor, so there is nothing else to alias.
func conditionSyntaxAlias(raw string) string {
	return strings.ReplaceAll(raw, "state.get(", "state.Get(")
}

// CompiledCondition is a router edge condition compiled to a sandboxed, side-effect
// free predicate form (spec.md §4.1 step 5, §6).
type CompiledCondition struct {
	raw      string
	isDefault bool
	program  *vm.Program
}

// compileCondition parses a router condition string into a CompiledCondition. The
// literal token "default" (or an empty condition) compiles to an always-match
// fallback. Any other string is compiled via expr-lang/expr, which permits only
// boolean/comparison operators, membership tests, attribute access through
// `state.get`, and literal values — no function calls beyond `get`, no attribute
// writes, no side effects.
func compileCondition(raw string) (*CompiledCondition, error) {
	if raw == "" || raw == "default" {
		return &CompiledCondition{raw: raw, isDefault: true}, nil
	}

	program, err := expr.Compile(conditionSyntaxAlias(raw), expr.Env(stateEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid router condition %q: %w", raw, err)
	}
	return &CompiledCondition{raw: raw, program: program}, nil
}

// Eval evaluates the condition against the given state. The always-match fallback
// never evaluates the expr program.
func (c *CompiledCondition) Eval(state State) (bool, error) {
	if c.isDefault {
		return true, nil
	}
	out, err := expr.Run(c.program, stateEnv{State: state})
	if err != nil {
		return false, fmt.Errorf("condition %q evaluation failed: %w", c.raw, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", c.raw)
	}
	return b, nil
}

// IsDefault reports whether this condition is the always-match fallback.
func (c *CompiledCondition) IsDefault() bool { return c.isDefault }

// Raw returns the original, uncompiled condition string.
func (c *CompiledCondition) Raw() string { return c.raw }
