package types

/*
 * Domain types for rule evaluation.
 *
 * Provides Field, Rule, Condition, Action and DerivedState structures used by
 * internal/rules for compilation and cascade evaluation. These types are
 * storage and wire-format agnostic: the store persists them as JSON and the
 * gRPC layer converts ValueBags at its boundary.
 *
 * Key types:
 *   - Field: declared input with a type that selects the operator table
 *   - Rule: connector + conditions + actions, evaluated in caller order
 *   - ValueSource: literal, field reference, restricted expression, or a
 *     caller-resolved sql value
 *   - Action: visibility/required/recalculate toggles or value assignment
 *   - DerivedState: engine output, recomputed on every call
 */

// DeclaredType is the configured type of a field.
type DeclaredType string

const (
	TypeString  DeclaredType = "string"
	TypeNumber  DeclaredType = "number"
	TypeBoolean DeclaredType = "boolean"
	TypeDate    DeclaredType = "date"
	TypeArray   DeclaredType = "array"
)

// Valid reports whether t is one of the five declared types.
func (t DeclaredType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeArray:
		return true
	}
	return false
}

// Field is a declared input. Immutable; defined by configuration.
type Field struct {
	ID         FieldID      `json:"id" yaml:"id"`
	Type       DeclaredType `json:"type" yaml:"type"`
	CategoryID CategoryID   `json:"category,omitempty" yaml:"category,omitempty"`
}

// Connector combines a rule's conditions.
type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

// SourceKind selects how a comparison or assignment value is obtained.
type SourceKind string

const (
	SourceLiteral    SourceKind = "literal"
	SourceField      SourceKind = "field"
	SourceExpression SourceKind = "expression"
	// SourceSQL reads a scalar the caller already resolved (task mode).
	// Value names the key in the resolved bag; the engine never runs queries.
	SourceSQL SourceKind = "sql"
)

// ValueSource is a literal, field reference, expression or resolved sql key.
// An empty Kind is treated as literal.
type ValueSource struct {
	Kind  SourceKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Value string     `json:"value" yaml:"value"`
}

// Literal returns a literal value source.
func Literal(s string) ValueSource { return ValueSource{Kind: SourceLiteral, Value: s} }

// FieldRef returns a field reference value source.
func FieldRef(id FieldID) ValueSource { return ValueSource{Kind: SourceField, Value: string(id)} }

// Expression returns a restricted arithmetic expression value source.
func Expression(expr string) ValueSource { return ValueSource{Kind: SourceExpression, Value: expr} }

// SQLResult returns a source reading a caller-resolved sql value.
func SQLResult(key string) ValueSource { return ValueSource{Kind: SourceSQL, Value: key} }

// Condition compares one field against a value source.
type Condition struct {
	Field    FieldID     `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Source   ValueSource `json:"source" yaml:"source"`
}

// ActionKind discriminates Action.
type ActionKind string

const (
	ActionSetVisibility  ActionKind = "set_visibility"
	ActionSetRequired    ActionKind = "set_required"
	ActionSetRecalculate ActionKind = "set_recalculate"
	ActionAssignValue    ActionKind = "assign_value"
)

// FieldTarget is either a single field or a whole category.
// Category wins when both are set.
type FieldTarget struct {
	Field    FieldID    `json:"field,omitempty" yaml:"field,omitempty"`
	Category CategoryID `json:"category,omitempty" yaml:"category,omitempty"`
}

// TargetField targets one field.
func TargetField(id FieldID) FieldTarget { return FieldTarget{Field: id} }

// TargetCategory targets every field in a category.
func TargetCategory(id CategoryID) FieldTarget { return FieldTarget{Category: id} }

// Action is applied when its rule is satisfied.
// Flag carries visible/required/recalc for toggles; Source is used by assign_value.
type Action struct {
	Kind   ActionKind  `json:"kind" yaml:"kind"`
	Target FieldTarget `json:"target" yaml:"target"`
	Flag   bool        `json:"flag,omitempty" yaml:"flag,omitempty"`
	Source ValueSource `json:"source,omitempty" yaml:"source,omitempty"`
}

// SetVisibility builds a visibility toggle.
func SetVisibility(target FieldTarget, visible bool) Action {
	return Action{Kind: ActionSetVisibility, Target: target, Flag: visible}
}

// SetRequired builds a required toggle.
func SetRequired(target FieldTarget, required bool) Action {
	return Action{Kind: ActionSetRequired, Target: target, Flag: required}
}

// SetRecalculate builds a recalculation flag toggle.
func SetRecalculate(target FieldID, recalc bool) Action {
	return Action{Kind: ActionSetRecalculate, Target: TargetField(target), Flag: recalc}
}

// AssignValue builds a computed-value assignment.
func AssignValue(target FieldID, source ValueSource) Action {
	return Action{Kind: ActionAssignValue, Target: TargetField(target), Source: source}
}

// Rule is one user-authored rule. Rules are evaluated in slice order.
type Rule struct {
	ID         RuleID      `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Connector  Connector   `json:"connector,omitempty" yaml:"connector,omitempty"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Actions    []Action    `json:"actions" yaml:"actions"`
}

// DerivedState is the engine output, recomputed on every call.
// Converged is false when the pass budget ran out before a fixed point.
type DerivedState struct {
	Hidden      FieldSet `json:"hidden"`
	Required    FieldSet `json:"required"`
	Recalculate FieldSet `json:"recalculate"`
	Computed    ValueBag `json:"computed"`
	Converged   bool     `json:"converged"`
	Passes      int      `json:"passes"`
}

// NewDerivedState returns an empty state with allocated sets.
func NewDerivedState() DerivedState {
	return DerivedState{
		Hidden:      make(FieldSet),
		Required:    make(FieldSet),
		Recalculate: make(FieldSet),
		Computed:    make(ValueBag),
	}
}
