// internal/rules/operators.go
package rules

import (
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Operator comparison logic.
 *
 * The operator table is keyed by the field's declared type. Both sides are
 * read through Coerce for that type before comparison:
 *
 *   - string:  equals, not_equals, contains, not_contains, starts_with,
 *              ends_with, is_empty, is_not_empty (case-sensitive)
 *   - number:  equals, not_equals, greater_than, greater_than_or_equal,
 *              less_than, less_than_or_equal, is_empty, is_not_empty
 *   - boolean: is_true, is_false
 *   - date:    equals, is_after, is_before, is_empty, is_not_empty
 *   - array:   contains, not_contains, is_empty, is_not_empty
 *
 * Resolution order for an operator name:
 *   1. normalize aliases ("==", "gt", "after", ...)
 *   2. valid for the declared type: compare
 *   3. known for some other type: configuration error, false
 *   4. unknown everywhere: raw string equality of both sides
 *
 * Step 4 keeps legacy operator names from breaking a cascade.
 */

// Canonical operator names.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpContains           = "contains"
	OpNotContains        = "not_contains"
	OpStartsWith         = "starts_with"
	OpEndsWith           = "ends_with"
	OpIsEmpty            = "is_empty"
	OpIsNotEmpty         = "is_not_empty"
	OpGreaterThan        = "greater_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThan           = "less_than"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpIsTrue             = "is_true"
	OpIsFalse            = "is_false"
	OpIsAfter            = "is_after"
	OpIsBefore           = "is_before"
)

type opSet map[string]struct{}

func newOpSet(ops ...string) opSet {
	s := make(opSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

// operatorTable lists the operators valid for each declared type.
var operatorTable = map[types.DeclaredType]opSet{
	types.TypeString: newOpSet(OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty),
	types.TypeNumber: newOpSet(OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpIsEmpty, OpIsNotEmpty),
	types.TypeBoolean: newOpSet(OpIsTrue, OpIsFalse),
	types.TypeDate:    newOpSet(OpEquals, OpIsAfter, OpIsBefore, OpIsEmpty, OpIsNotEmpty),
	types.TypeArray:   newOpSet(OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty),
}

// knownOperators is the union of every type's operators.
var knownOperators = func() opSet {
	all := make(opSet)
	for _, ops := range operatorTable {
		for op := range ops {
			all[op] = struct{}{}
		}
	}
	return all
}()

// NormalizeOperator maps aliases to canonical operator names.
// Unrecognized names are returned lowercased and trimmed.
func NormalizeOperator(op string) string {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "==", "=", "eq", "equals", "equal":
		return OpEquals
	case "!=", "<>", "neq", "not_equals", "not_equal":
		return OpNotEquals
	case "contains":
		return OpContains
	case "not_contains", "does_not_contain":
		return OpNotContains
	case "starts_with", "startswith":
		return OpStartsWith
	case "ends_with", "endswith":
		return OpEndsWith
	case "is_empty", "empty":
		return OpIsEmpty
	case "is_not_empty", "not_empty":
		return OpIsNotEmpty
	case ">", "gt", "greater_than":
		return OpGreaterThan
	case ">=", "gte", "greater_than_or_equal":
		return OpGreaterThanOrEqual
	case "<", "lt", "less_than":
		return OpLessThan
	case "<=", "lte", "less_than_or_equal":
		return OpLessThanOrEqual
	case "is_true", "true":
		return OpIsTrue
	case "is_false", "false":
		return OpIsFalse
	case "is_after", "after":
		return OpIsAfter
	case "is_before", "before":
		return OpIsBefore
	default:
		return strings.ToLower(strings.TrimSpace(op))
	}
}

// effectiveType maps undeclared or unsupported types to string.
func effectiveType(declared types.DeclaredType) types.DeclaredType {
	if declared.Valid() {
		return declared
	}
	return types.TypeString
}

// OperatorValid reports whether op (already normalized) is valid for declared.
func OperatorValid(declared types.DeclaredType, op string) bool {
	_, ok := operatorTable[effectiveType(declared)][op]
	return ok
}

// OperatorKnown reports whether op (already normalized) is valid for any type.
func OperatorKnown(op string) bool {
	_, ok := knownOperators[op]
	return ok
}

// needsOperand reports whether op compares against the right-hand side.
func needsOperand(op string) bool {
	switch op {
	case OpIsEmpty, OpIsNotEmpty, OpIsTrue, OpIsFalse:
		return false
	}
	return true
}

// Compare applies op to the field value and the resolved operand.
// op must already be normalized.
func Compare(declared types.DeclaredType, op string, value, operand types.Value) bool {
	declared = effectiveType(declared)
	if !OperatorValid(declared, op) {
		if OperatorKnown(op) {
			return false
		}
		return value.Text() == operand.Text()
	}

	switch declared {
	case types.TypeNumber:
		return compareNumber(op, value, operand)
	case types.TypeBoolean:
		return compareBoolean(op, value)
	case types.TypeDate:
		return compareDate(op, value, operand)
	case types.TypeArray:
		return compareArray(op, value, operand)
	default:
		return compareText(op, value, operand)
	}
}

// compareText implements string operators. Null reads as "".
func compareText(op string, value, operand types.Value) bool {
	left := value.Text()
	right := operand.Text()
	switch op {
	case OpEquals:
		return left == right
	case OpNotEquals:
		return left != right
	case OpContains:
		return strings.Contains(left, right)
	case OpNotContains:
		return !strings.Contains(left, right)
	case OpStartsWith:
		return strings.HasPrefix(left, right)
	case OpEndsWith:
		return strings.HasSuffix(left, right)
	case OpIsEmpty:
		return isBlank(value)
	case OpIsNotEmpty:
		return !isBlank(value)
	default:
		return false
	}
}

// compareNumber implements numeric operators.
// An unparsable field value makes every comparison false, including not_equals.
func compareNumber(op string, value, operand types.Value) bool {
	switch op {
	case OpIsEmpty:
		return isBlank(value)
	case OpIsNotEmpty:
		return !isBlank(value)
	}

	lv, err := Coerce(value, types.TypeNumber)
	if err != nil {
		return false
	}
	rv, err := Coerce(operand, types.TypeNumber)
	if err != nil {
		return false
	}
	left, _ := lv.Num()
	right, _ := rv.Num()

	switch op {
	case OpEquals:
		return left == right
	case OpNotEquals:
		return left != right
	case OpGreaterThan:
		return left > right
	case OpGreaterThanOrEqual:
		return left >= right
	case OpLessThan:
		return left < right
	case OpLessThanOrEqual:
		return left <= right
	default:
		return false
	}
}

// compareBoolean implements is_true/is_false; the operand is ignored.
func compareBoolean(op string, value types.Value) bool {
	switch op {
	case OpIsTrue:
		return Truthy(value)
	case OpIsFalse:
		return !Truthy(value)
	default:
		return false
	}
}

// compareDate implements date operators at calendar-day granularity.
// An unparsable left side is false; an unparsable right side is only
// tolerated by operators that never read it.
func compareDate(op string, value, operand types.Value) bool {
	switch op {
	case OpIsEmpty:
		return isBlank(value)
	case OpIsNotEmpty:
		return !isBlank(value)
	}

	lv, err := Coerce(value, types.TypeDate)
	if err != nil {
		return false
	}
	rv, err := Coerce(operand, types.TypeDate)
	if err != nil {
		return false
	}
	left, _ := lv.DateValue()
	right, _ := rv.DateValue()

	switch op {
	case OpEquals:
		return left.Equal(right)
	case OpIsAfter:
		return left.After(right)
	case OpIsBefore:
		return left.Before(right)
	default:
		return false
	}
}

// compareArray implements membership by element text.
func compareArray(op string, value, operand types.Value) bool {
	arr, _ := Coerce(value, types.TypeArray)
	switch op {
	case OpIsEmpty:
		return arr.Len() == 0
	case OpIsNotEmpty:
		return arr.Len() > 0
	case OpContains:
		return arrayContains(arr, operand.Text())
	case OpNotContains:
		return !arrayContains(arr, operand.Text())
	default:
		return false
	}
}

func arrayContains(arr types.Value, needle string) bool {
	for _, item := range arr.Items() {
		if item.Text() == needle {
			return true
		}
	}
	return false
}

// isBlank reports null, whitespace-only text, or an empty array.
func isBlank(value types.Value) bool {
	switch value.Kind() {
	case types.KindNull:
		return true
	case types.KindArray:
		return value.Len() == 0
	default:
		return strings.TrimSpace(value.Text()) == ""
	}
}
