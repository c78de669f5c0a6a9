// internal/rules/evaluate.go
package rules

import (
	"github.com/solatis/cascade/internal/types"
)

/*
 * Condition and rule evaluation.
 *
 * Evaluation flow per condition:
 *   1. Read the field's current value from the working view (absent -> null)
 *   2. Resolve the operand, skipped for operators that never read it
 *   3. Compare using the operator table of the field's declared type
 *
 * Operand resolution by source kind:
 *   - literal:    the text as-is
 *   - field:      working view lookup, null if absent
 *   - expression: numeric result; a null result makes the condition false
 *   - sql:        lookup in the caller-resolved bag, null if absent
 *
 * Policy handling:
 *   - Coercion failure: condition is false
 *   - Expression failure: condition is false
 *   - Unknown source kind: read as literal
 *
 * Short-circuit semantics: AND stops at the first false condition, OR at the
 * first true one. Conditions are pure, so cost ordering from compilation
 * never changes the outcome.
 */

// Evaluation carries the two bags a rule can read from.
// Working is the caller's values overlaid with computed values so far.
// Resolved holds caller-resolved sql results; the engine never runs queries.
type Evaluation struct {
	Working  types.ValueBag
	Resolved types.ValueBag
}

// resolveSource reads a value source.
// The second result is false when an expression evaluates to null.
func (ev *Evaluation) resolveSource(source types.ValueSource, expr *Expr) (types.Value, bool) {
	switch source.Kind {
	case types.SourceField:
		return ev.Working.Get(types.FieldID(source.Value)), true
	case types.SourceExpression:
		if expr == nil {
			return types.Null(), false
		}
		f, ok := expr.Eval(ev.Working)
		if !ok {
			return types.Null(), false
		}
		return types.Number(f), true
	case types.SourceSQL:
		return ev.Resolved.Get(types.FieldID(source.Value)), true
	default:
		return types.String(source.Value), true
	}
}

// EvaluateCondition decides one compiled condition. Never panics.
func (ev *Evaluation) EvaluateCondition(cond *CompiledCondition) bool {
	value := ev.Working.Get(cond.Field)

	operand := types.Null()
	if needsOperand(cond.Operator) {
		v, ok := ev.resolveSource(cond.Source, cond.Expr)
		if !ok {
			return false
		}
		operand = v
	}
	return Compare(cond.Type, cond.Operator, value, operand)
}

// RuleSatisfied combines a rule's conditions. Zero conditions is true.
func (ev *Evaluation) RuleSatisfied(rule *CompiledRule) bool {
	if len(rule.Conditions) == 0 {
		return true
	}

	if rule.Connector == types.ConnectorOr {
		for i := range rule.Conditions {
			if ev.EvaluateCondition(&rule.Conditions[i]) {
				return true
			}
		}
		return false
	}

	for i := range rule.Conditions {
		if !ev.EvaluateCondition(&rule.Conditions[i]) {
			return false
		}
	}
	return true
}

// EvaluateCondition compiles and evaluates a single condition against values.
// Convenience for callers that do not hold a Program.
func EvaluateCondition(cond types.Condition, declared types.DeclaredType, values types.ValueBag) bool {
	p := &Program{fields: map[types.FieldID]types.DeclaredType{cond.Field: declared}}
	cc := p.compileCondition(cond)
	ev := &Evaluation{Working: values}
	return ev.EvaluateCondition(&cc)
}
