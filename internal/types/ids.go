package types

import "github.com/google/uuid"

// NewRuleID generates a UUIDv7 rule identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewScopeID generates a UUIDv7 scope identifier.
func NewScopeID() ScopeID {
	return ScopeID(uuid.Must(uuid.NewV7()).String())
}

// NewTenantID generates a UUIDv7 tenant identifier.
func NewTenantID() TenantID {
	return TenantID(uuid.Must(uuid.NewV7()).String())
}

// ParseScopeID validates and converts a string to ScopeID.
// Rejects malformed UUIDs before they reach the database.
func ParseScopeID(s string) (ScopeID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return ScopeID(s), nil
}
