// internal/rules/cost.go
package rules

import "github.com/solatis/cascade/internal/types"

/*
 * Cost model for condition evaluation.
 *
 * Cost formula: source_cost + (operator_cost * type_multiplier)
 *
 * Conditions are pure, so within one rule they may be evaluated in any order
 * without changing the result. Compile orders them by ascending cost to get
 * the most out of AND/OR short-circuiting: a literal equality check runs
 * before an expression that walks the working view.
 *
 * Rules themselves are never reordered. Rule order decides last-write-wins
 * for assignments.
 */

const (
	// Operand resolution costs
	CostSourceLiteral    = 0
	CostSourceField      = 256
	CostSourceSQL        = 512
	CostSourceExpression = 1024

	// Additional cost per field referenced by an expression
	CostExpressionField = 64

	// Operator base costs
	CostPresence   = 1
	CostEquality   = 5
	CostOrdering   = 7
	CostSubstring  = 10
	CostMembership = 12

	// Declared type multipliers
	MultiplierBoolean = 1
	MultiplierNumber  = 4
	MultiplierDate    = 8
	MultiplierString  = 48
	MultiplierArray   = 64
)

// CalculateConditionCost computes the evaluation cost of one condition.
// op must already be normalized; expr is nil unless the source parsed.
func CalculateConditionCost(declared types.DeclaredType, op string, source types.ValueSource, expr *Expr) int {
	cost := 0
	if needsOperand(op) {
		cost = sourceCost(source, expr)
	}
	return cost + operatorCost(op)*typeMultiplier(declared)
}

func sourceCost(source types.ValueSource, expr *Expr) int {
	switch source.Kind {
	case types.SourceField:
		return CostSourceField
	case types.SourceSQL:
		return CostSourceSQL
	case types.SourceExpression:
		if expr == nil {
			// Fails closed without touching the working view.
			return CostSourceLiteral
		}
		return CostSourceExpression + CostExpressionField*len(expr.fields)
	default:
		return CostSourceLiteral
	}
}

func operatorCost(op string) int {
	switch op {
	case OpIsEmpty, OpIsNotEmpty, OpIsTrue, OpIsFalse:
		return CostPresence
	case OpEquals, OpNotEquals:
		return CostEquality
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpIsAfter, OpIsBefore:
		return CostOrdering
	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return CostSubstring
	default:
		return CostEquality
	}
}

func typeMultiplier(declared types.DeclaredType) int {
	switch effectiveType(declared) {
	case types.TypeBoolean:
		return MultiplierBoolean
	case types.TypeNumber:
		return MultiplierNumber
	case types.TypeDate:
		return MultiplierDate
	case types.TypeArray:
		return MultiplierArray
	default:
		return MultiplierString
	}
}
