// Package types provides domain models shared across cascade components.
//
// Zero-dependency design: types.go, value.go, rules.go and errors.go use only
// the standard library so the engine types can be embedded by callers without
// pulling in storage or transport deps. ID utilities in ids.go import uuid.
//
// Separation from transport: gRPC messages are structpb values converted at the
// API boundary (internal/core/api). Nothing here knows about protobuf.
package types

// FieldID identifies a declared input field within a scope.
type FieldID string

// CategoryID groups fields for bulk visibility/required actions.
type CategoryID string

// RuleID represents a UUIDv7 rule identifier.
type RuleID string

// ScopeID represents a UUIDv7 rule-set scope (one form, task list or program).
type ScopeID string

// TenantID represents a UUIDv7 tenant identifier.
type TenantID string

// Resource limits enforced by the rule engine and the rule-set importer.
const (
	// DefaultPassBudget caps cascade passes per resolve call.
	// Rule sets that have not reached a fixed point after 10 passes are
	// almost always cyclic (x = y + 1, y = x + 1).
	DefaultPassBudget = 10

	// MaxPassBudget bounds configuration overrides of the pass budget.
	MaxPassBudget = 100

	// MaxExpressionLength limits user-authored expression size in bytes.
	MaxExpressionLength = 1024

	// MaxExpressionDepth limits parenthesis/unary nesting in the parser.
	MaxExpressionDepth = 64

	// MaxRulesPerSet limits rules per scope.
	MaxRulesPerSet = 500

	// MaxConditionsPerRule limits conditions per rule.
	MaxConditionsPerRule = 64

	// MaxActionsPerRule limits actions per rule.
	MaxActionsPerRule = 64
)
