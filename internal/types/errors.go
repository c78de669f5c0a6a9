package types

import "errors"

// Sentinel errors for cascade operations.
// The engine itself never returns these at evaluation time (it fails closed);
// they surface from validation, storage and the API layer.
var (
	// ErrUnknownField indicates a condition or action references an undeclared field.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownCategory indicates a bulk action targets an undeclared category.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrInvalidFieldType indicates a field declares an unsupported type.
	ErrInvalidFieldType = errors.New("invalid field type")

	// ErrDuplicateField indicates two fields share an id.
	ErrDuplicateField = errors.New("duplicate field id")

	// ErrInvalidOperator indicates an operator not valid for the field's declared type.
	ErrInvalidOperator = errors.New("invalid operator for field type")

	// ErrInvalidConnector indicates a connector other than AND/OR.
	ErrInvalidConnector = errors.New("invalid connector")

	// ErrInvalidSource indicates an unknown value source kind.
	ErrInvalidSource = errors.New("invalid value source")

	// ErrInvalidAction indicates an unknown action kind or malformed target.
	ErrInvalidAction = errors.New("invalid action")

	// ErrCoercionFailed indicates a value cannot be read as the field's declared type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrInvalidExpression indicates an expression failed to parse.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrExpressionTooLong indicates an expression exceeds MaxExpressionLength.
	ErrExpressionTooLong = errors.New("expression exceeds maximum length")

	// ErrExpressionTooDeep indicates an expression exceeds MaxExpressionDepth.
	ErrExpressionTooDeep = errors.New("expression exceeds maximum nesting depth")

	// ErrTooManyRules indicates a rule set exceeds MaxRulesPerSet.
	ErrTooManyRules = errors.New("too many rules")

	// ErrTooManyConditions indicates a rule exceeds MaxConditionsPerRule.
	ErrTooManyConditions = errors.New("too many conditions")

	// ErrTooManyActions indicates a rule exceeds MaxActionsPerRule.
	ErrTooManyActions = errors.New("too many actions")

	// ErrScopeNotFound indicates an unknown scope or a scope owned by another tenant.
	ErrScopeNotFound = errors.New("scope not found")

	// ErrTenantNotFound indicates an unknown tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidMode indicates an unknown engine mode.
	ErrInvalidMode = errors.New("invalid engine mode")
)
