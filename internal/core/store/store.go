// Package store persists tenants, scopes, rule sets and API key records.
//
// Rule sets are stored as ordered field rows plus ordered rule rows whose
// conditions and actions are JSON documents. The engine never touches the
// database; the API layer loads a rule set here and hands plain slices to
// rules.Engine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

// Tenant owns scopes and API keys.
type Tenant struct {
	ID        types.TenantID `db:"tenant_id"`
	Name      string         `db:"name"`
	CreatedAt time.Time      `db:"created_at"`
}

// Scope is one rule set: a form, a task list or a routing target.
type Scope struct {
	ID        types.ScopeID  `db:"scope_id"`
	TenantID  types.TenantID `db:"tenant_id"`
	Name      string         `db:"name"`
	Mode      rules.Mode     `db:"mode"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// RuleSet is a scope together with its declared fields and ordered rules.
type RuleSet struct {
	Scope  Scope
	Fields []types.Field
	Rules  []types.Rule
}

// APIKey is the stored metadata of an API key. The key itself is never stored.
type APIKey struct {
	ID         string         `db:"api_key_id"`
	TenantID   types.TenantID `db:"tenant_id"`
	Name       string         `db:"name"`
	SecretID   string         `db:"secret_id"`
	CreatedAt  time.Time      `db:"created_at"`
	LastUsedAt sql.NullTime   `db:"last_used_at"`
	RevokedAt  sql.NullTime   `db:"revoked_at"`
}

type fieldRow struct {
	ID         types.FieldID      `db:"field_id"`
	Type       types.DeclaredType `db:"field_type"`
	CategoryID types.CategoryID   `db:"category_id"`
}

type ruleRow struct {
	ID         types.RuleID    `db:"rule_id"`
	Position   int             `db:"position"`
	Name       string          `db:"name"`
	Connector  types.Connector `db:"connector"`
	Conditions string          `db:"conditions"`
	Actions    string          `db:"actions"`
}

// Store wraps named queries with typed operations.
type Store struct {
	q   *db.Queries
	now func() time.Time
}

// New creates a store over loaded queries.
func New(q *db.Queries) *Store {
	return &Store{q: q, now: func() time.Time { return time.Now().UTC() }}
}

// CreateTenant inserts a tenant with a fresh UUIDv7 id.
func (s *Store) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	t := &Tenant{ID: types.NewTenantID(), Name: name, CreatedAt: s.now()}
	if _, err := s.q.Exec(ctx, "create-tenant", t.ID, t.Name, t.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create tenant %q: %w", name, err)
	}
	return t, nil
}

// Tenant looks a tenant up by id.
func (s *Store) Tenant(ctx context.Context, id types.TenantID) (*Tenant, error) {
	var t Tenant
	if err := s.q.Get(ctx, "get-tenant", &t, id); err != nil {
		return nil, notFound(err, types.ErrTenantNotFound, string(id))
	}
	return &t, nil
}

// TenantByName looks a tenant up by its unique name.
func (s *Store) TenantByName(ctx context.Context, name string) (*Tenant, error) {
	var t Tenant
	if err := s.q.Get(ctx, "get-tenant-by-name", &t, name); err != nil {
		return nil, notFound(err, types.ErrTenantNotFound, name)
	}
	return &t, nil
}

// EnsureTenant returns the named tenant, creating it when absent.
func (s *Store) EnsureTenant(ctx context.Context, name string) (*Tenant, error) {
	t, err := s.TenantByName(ctx, name)
	if errors.Is(err, types.ErrTenantNotFound) {
		return s.CreateTenant(ctx, name)
	}
	return t, err
}

// CreateScope inserts an empty scope for tenant.
func (s *Store) CreateScope(ctx context.Context, tenant types.TenantID, name string, mode rules.Mode) (*Scope, error) {
	now := s.now()
	sc := &Scope{
		ID:        types.NewScopeID(),
		TenantID:  tenant,
		Name:      name,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.q.Exec(ctx, "create-scope", sc.ID, sc.TenantID, sc.Name, sc.Mode, sc.CreatedAt, sc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create scope %q: %w", name, err)
	}
	return sc, nil
}

// LoadScope returns a scope owned by tenant.
// A scope belonging to another tenant is reported as not found.
func (s *Store) LoadScope(ctx context.Context, tenant types.TenantID, id types.ScopeID) (*Scope, error) {
	var sc Scope
	if err := s.q.Get(ctx, "get-scope", &sc, id, tenant); err != nil {
		return nil, notFound(err, types.ErrScopeNotFound, string(id))
	}
	return &sc, nil
}

// ScopeByName returns the tenant's scope with the given name.
func (s *Store) ScopeByName(ctx context.Context, tenant types.TenantID, name string) (*Scope, error) {
	var sc Scope
	if err := s.q.Get(ctx, "get-scope-by-name", &sc, tenant, name); err != nil {
		return nil, notFound(err, types.ErrScopeNotFound, name)
	}
	return &sc, nil
}

// UpsertScope returns the named scope, creating it or updating its mode.
func (s *Store) UpsertScope(ctx context.Context, tenant types.TenantID, name string, mode rules.Mode) (*Scope, error) {
	sc, err := s.ScopeByName(ctx, tenant, name)
	if errors.Is(err, types.ErrScopeNotFound) {
		return s.CreateScope(ctx, tenant, name, mode)
	}
	if err != nil {
		return nil, err
	}
	if sc.Mode != mode {
		sc.Mode = mode
		sc.UpdatedAt = s.now()
		if _, err := s.q.Exec(ctx, "update-scope-mode", sc.Mode, sc.UpdatedAt, sc.ID); err != nil {
			return nil, fmt.Errorf("failed to update scope %q: %w", name, err)
		}
	}
	return sc, nil
}

// ListScopes returns the tenant's scopes ordered by name.
func (s *Store) ListScopes(ctx context.Context, tenant types.TenantID) ([]Scope, error) {
	var scopes []Scope
	if err := s.q.Select(ctx, "list-scopes", &scopes, tenant); err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	return scopes, nil
}

// SaveRuleSet replaces the scope's fields and rules in one transaction.
// Rule order is preserved through the position column; rules without an id
// get a fresh UUIDv7.
func (s *Store) SaveRuleSet(ctx context.Context, scope types.ScopeID, fields []types.Field, ruleList []types.Rule) error {
	return s.q.InTx(ctx, func(tx *db.Queries) error {
		if _, err := tx.Exec(ctx, "delete-rules", scope); err != nil {
			return fmt.Errorf("failed to clear rules: %w", err)
		}
		if _, err := tx.Exec(ctx, "delete-fields", scope); err != nil {
			return fmt.Errorf("failed to clear fields: %w", err)
		}

		for i, f := range fields {
			if _, err := tx.Exec(ctx, "insert-field", scope, f.ID, f.Type, f.CategoryID, i); err != nil {
				return fmt.Errorf("failed to insert field %s: %w", f.ID, err)
			}
		}

		for i, r := range ruleList {
			conditions, err := json.Marshal(nonNil(r.Conditions))
			if err != nil {
				return fmt.Errorf("failed to encode conditions of rule %d: %w", i, err)
			}
			actions, err := json.Marshal(nonNil(r.Actions))
			if err != nil {
				return fmt.Errorf("failed to encode actions of rule %d: %w", i, err)
			}
			id := r.ID
			if id == "" {
				id = types.NewRuleID()
			}
			connector := r.Connector
			if connector == "" {
				connector = types.ConnectorAnd
			}
			if _, err := tx.Exec(ctx, "insert-rule", id, scope, i, r.Name, connector, string(conditions), string(actions)); err != nil {
				return fmt.Errorf("failed to insert rule %d: %w", i, err)
			}
		}

		if _, err := tx.Exec(ctx, "touch-scope", s.now(), scope); err != nil {
			return fmt.Errorf("failed to touch scope: %w", err)
		}
		return nil
	})
}

// LoadFields returns the scope's fields in declaration order.
func (s *Store) LoadFields(ctx context.Context, scope types.ScopeID) ([]types.Field, error) {
	var rows []fieldRow
	if err := s.q.Select(ctx, "list-fields", &rows, scope); err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	fields := make([]types.Field, len(rows))
	for i, r := range rows {
		fields[i] = types.Field{ID: r.ID, Type: r.Type, CategoryID: r.CategoryID}
	}
	return fields, nil
}

// LoadRules returns the scope's rules in evaluation order.
func (s *Store) LoadRules(ctx context.Context, scope types.ScopeID) ([]types.Rule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-rules", &rows, scope); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	out := make([]types.Rule, len(rows))
	for i, r := range rows {
		rule := types.Rule{ID: r.ID, Name: r.Name, Connector: r.Connector}
		if err := json.Unmarshal([]byte(r.Conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.Actions), &rule.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions of rule %s: %w", r.ID, err)
		}
		out[i] = rule
	}
	return out, nil
}

// LoadRuleSet loads a tenant's scope with its fields and rules.
func (s *Store) LoadRuleSet(ctx context.Context, tenant types.TenantID, id types.ScopeID) (*RuleSet, error) {
	sc, err := s.LoadScope(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	fields, err := s.LoadFields(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	ruleList, err := s.LoadRules(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	return &RuleSet{Scope: *sc, Fields: fields, Rules: ruleList}, nil
}

// CreateAPIKey records a key hash for tenant and returns the key record.
func (s *Store) CreateAPIKey(ctx context.Context, tenant types.TenantID, name, secretID, keyHash string) (*APIKey, error) {
	k := &APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenant,
		Name:      name,
		SecretID:  secretID,
		CreatedAt: s.now(),
	}
	if _, err := s.q.Exec(ctx, "create-api-key", k.ID, k.TenantID, k.Name, k.SecretID, keyHash, k.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns the tenant's key records, revoked ones included.
func (s *Store) ListAPIKeys(ctx context.Context, tenant types.TenantID) ([]APIKey, error) {
	var keys []APIKey
	if err := s.q.Select(ctx, "list-api-keys", &keys, tenant); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key revoked. Revoking an unknown or already revoked
// key reports ErrKeyNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, tenant types.TenantID, keyID string) error {
	res, err := s.q.Exec(ctx, "revoke-api-key", s.now(), keyID, tenant)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return nil
}

// ErrKeyNotFound indicates an unknown or already revoked API key.
var ErrKeyNotFound = errors.New("API key not found")

// notFound maps sql.ErrNoRows to the sentinel and wraps anything else.
func notFound(err, sentinel error, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, key)
	}
	return fmt.Errorf("database error: %w", err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
