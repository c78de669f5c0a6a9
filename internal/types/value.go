package types

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

/*
 * Closed value model for field values.
 *
 * Form submissions arrive as loosely typed JSON. Values are normalized at the
 * boundary into one of six kinds so every operator sees a known shape:
 *
 *   - Null:   absent or explicit null
 *   - String: text (the common case for form inputs)
 *   - Number: float64, always finite when produced by FromAny
 *   - Bool:   true/false
 *   - Date:   calendar date (UTC midnight)
 *   - Array:  ordered list of values (multi-selects)
 *
 * Nested objects have no comparison semantics and decode to Null.
 * Values are immutable: Array constructors copy their input.
 */

// Kind discriminates the Value sum type.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
	KindArray
)

// DateLayout is the canonical calendar-date text form.
const DateLayout = "2006-01-02"

// String returns the kind name used in logs and errors.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a dynamically typed field value.
// The zero Value is Null.
type Value struct {
	kind  Kind
	str   string
	num   float64
	b     bool
	date  time.Time
	items []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date returns a date value truncated to the calendar day in UTC.
func Date(t time.Time) Value {
	t = t.UTC()
	return Value{kind: KindDate, date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// Array returns an array value holding a copy of items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, items: cp}
}

// Kind reports the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the text payload if v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload if v is a number.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// BoolValue returns the boolean payload if v is a boolean.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// DateValue returns the date payload if v is a date.
func (v Value) DateValue() (time.Time, bool) { return v.date, v.kind == KindDate }

// Items returns a copy of the array elements (nil for non-arrays).
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Len returns the number of array elements, or 0 for non-arrays.
func (v Value) Len() int { return len(v.items) }

// Text returns the canonical text form of v.
// Null is "", numbers use the shortest round-trip form, dates use DateLayout,
// arrays join element text with ",".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.date.Format(DateLayout)
	case KindArray:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.Text()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// Equal reports structural equality (same kind, same payload).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.date.Equal(o.date)
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Any converts v to plain Go data (nil, string, float64, bool, []any).
// Dates become DateLayout strings.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindDate:
		return v.date.Format(DateLayout)
	case KindArray:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// FromAny normalizes decoded JSON/YAML data into a Value.
// Non-finite numbers and nested objects decode to Null.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return finite(f)
	case time.Time:
		return Date(x)
	case []Value:
		return Array(x...)
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return Value{kind: KindArray, items: items}
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = FromAny(item)
		}
		return Value{kind: KindArray, items: items}
	default:
		return Null()
	}
}

func finite(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Number(f)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// ValueBag maps field ids to current values.
// The engine never mutates a caller-supplied bag.
type ValueBag map[FieldID]Value

// Get returns the value for id, or Null if absent.
func (b ValueBag) Get(id FieldID) Value {
	if b == nil {
		return Null()
	}
	return b[id]
}

// Has reports whether id is present.
func (b ValueBag) Has(id FieldID) bool {
	_, ok := b[id]
	return ok
}

// Clone returns a shallow copy (values are immutable).
func (b ValueBag) Clone() ValueBag {
	out := make(ValueBag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Overlay returns a new bag with top's entries written over base.
func Overlay(base, top ValueBag) ValueBag {
	out := make(ValueBag, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Keys returns the bag's field ids in sorted order.
func (b ValueBag) Keys() []FieldID {
	keys := make([]FieldID, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// BagFromMap converts decoded JSON/YAML data into a ValueBag.
func BagFromMap(m map[string]any) ValueBag {
	out := make(ValueBag, len(m))
	for k, v := range m {
		out[FieldID(k)] = FromAny(v)
	}
	return out
}

// FieldSet is an unordered set of field ids.
type FieldSet map[FieldID]struct{}

// Add inserts id.
func (s FieldSet) Add(id FieldID) { s[id] = struct{}{} }

// Remove deletes id.
func (s FieldSet) Remove(id FieldID) { delete(s, id) }

// Has reports membership.
func (s FieldSet) Has(id FieldID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns members in ascending order.
func (s FieldSet) Sorted() []FieldID {
	out := make([]FieldID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array for deterministic output.
func (s FieldSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array of field ids.
func (s *FieldSet) UnmarshalJSON(data []byte) error {
	var ids []FieldID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(FieldSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	*s = set
	return nil
}
