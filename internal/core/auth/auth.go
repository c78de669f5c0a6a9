// Package auth provides HMAC-based API key authentication for gRPC services.
//
// Keys look like cs-v1-<secret_id>-<random>. The secret_id selects one of the
// HMAC secrets loaded from the environment; the HMAC of the full key is the
// lookup key in api_keys, so the key itself is never stored.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/cascade/internal/types"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// tenantIDKey is the context key for storing authenticated tenant ID.
const tenantIDKey = contextKey("tenant_id")

// MetadataKey is the gRPC metadata entry carrying the API key.
const MetadataKey = "x-api-key"

// Queries defines database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and queries for key verification.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate validates an API key and returns its tenant on success.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (types.TenantID, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row struct {
		APIKeyID   string         `db:"api_key_id"`
		TenantID   types.TenantID `db:"tenant_id"`
		RevokedAt  sql.NullTime   `db:"revoked_at"`
		LastUsedAt sql.NullTime   `db:"last_used_at"`
	}

	// key_hash is unique, so at most one row matches
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, HashKey(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// 1-minute throttle keeps busy clients from writing on every call
	if a.shouldUpdateLastUsed(row.LastUsedAt) {
		_, _ = a.queries.Exec(ctx, "update-last-used", a.now(), row.APIKeyID)
	}

	return row.TenantID, nil
}

func (a *Authenticator) shouldUpdateLastUsed(lastUsed sql.NullTime) bool {
	if !lastUsed.Valid {
		return true
	}
	return a.now().Sub(lastUsed.Time) > time.Minute
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Health checks pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info != nil && isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get(MetadataKey)
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		tenantID, err := a.Authenticate(ctx, apiKeys[0])
		if err != nil {
			return nil, status.Error(StatusCode(err), err.Error())
		}

		return handler(WithTenantID(ctx, tenantID), req)
	}
}

// StatusCode maps an authentication error to its gRPC code.
func StatusCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return codes.PermissionDenied
	case errors.Is(err, ErrStoreUnavailable):
		return codes.Unavailable
	default:
		return codes.Unauthenticated
	}
}

func isHealthMethod(fullMethod string) bool {
	return fullMethod == "/grpc.health.v1.Health/Check" || fullMethod == "/grpc.health.v1.Health/Watch"
}

// WithTenantID stores an authenticated tenant in ctx.
func WithTenantID(ctx context.Context, tenantID types.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext extracts tenant ID from context.
// Returns empty string if not found.
func TenantIDFromContext(ctx context.Context) types.TenantID {
	if tenantID, ok := ctx.Value(tenantIDKey).(types.TenantID); ok {
		return tenantID
	}
	return ""
}
