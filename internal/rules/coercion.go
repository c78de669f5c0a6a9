// internal/rules/coercion.go
package rules

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Type coercion for condition evaluation.
 *
 * Operators are selected by the field's declared type, not by the runtime
 * kind of the value, so every comparison first reads both sides through the
 * declared type:
 *
 *   - string:  lenient, any value becomes its canonical text (null -> "")
 *   - number:  strict, numbers and numeric strings only; whitespace-only,
 *              booleans, arrays, null and non-finite results fail
 *   - boolean: never fails; truthy is true, "true", "1", "yes" or 1
 *   - date:    dates and strings in the accepted layouts; truncated to the
 *              calendar day in UTC
 *   - array:   arrays pass through, null is empty, scalars wrap
 *
 * Coercion failure is reported as types.ErrCoercionFailed and callers turn
 * it into a false condition. It never escapes the engine.
 */

// dateLayouts are tried in order when reading a date from text.
var dateLayouts = []string{
	types.DateLayout,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// Coerce reads value as the declared type.
// Unknown declared types are read as string.
func Coerce(value types.Value, declared types.DeclaredType) (types.Value, error) {
	switch declared {
	case types.TypeNumber:
		f, err := AsNumber(value)
		if err != nil {
			return types.Null(), err
		}
		return types.Number(f), nil
	case types.TypeBoolean:
		return types.Bool(Truthy(value)), nil
	case types.TypeDate:
		t, err := AsDate(value)
		if err != nil {
			return types.Null(), err
		}
		return types.Date(t), nil
	case types.TypeArray:
		return asArray(value), nil
	default:
		return types.String(value.Text()), nil
	}
}

// AsNumber reads value as a finite float64.
// Accepts numbers and trimmed numeric strings.
func AsNumber(value types.Value) (float64, error) {
	switch value.Kind() {
	case types.KindNumber:
		f, _ := value.Num()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, types.ErrCoercionFailed
		}
		return f, nil
	case types.KindString:
		s, _ := value.Str()
		return parseNumber(s)
	default:
		return 0, types.ErrCoercionFailed
	}
}

// parseNumber parses trimmed text as a finite float64.
// Empty and whitespace-only strings are not numbers.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, types.ErrCoercionFailed
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, types.ErrCoercionFailed
	}
	return f, nil
}

// Truthy reports whether value counts as true for boolean fields.
func Truthy(value types.Value) bool {
	switch value.Kind() {
	case types.KindBool:
		b, _ := value.BoolValue()
		return b
	case types.KindNumber:
		f, _ := value.Num()
		return f == 1
	case types.KindString:
		s, _ := value.Str()
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true
		}
		return false
	default:
		return false
	}
}

// AsDate reads value as a calendar date.
func AsDate(value types.Value) (time.Time, error) {
	switch value.Kind() {
	case types.KindDate:
		t, _ := value.DateValue()
		return t, nil
	case types.KindString:
		s, _ := value.Str()
		return parseDate(s)
	default:
		return time.Time{}, types.ErrCoercionFailed
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, types.ErrCoercionFailed
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, types.ErrCoercionFailed
}

// asArray wraps scalars; null and empty text are the empty array.
func asArray(value types.Value) types.Value {
	switch value.Kind() {
	case types.KindArray:
		return value
	case types.KindNull:
		return types.Array()
	case types.KindString:
		if s, _ := value.Str(); s == "" {
			return types.Array()
		}
	}
	return types.Array(value)
}
