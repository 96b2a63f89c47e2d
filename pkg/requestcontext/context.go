// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// This package defines context keys and getter/setter functions for values that are
// typically set by middleware but consumed by services. By keeping this package free
// of net/http dependencies, services can import only what they need without pulling
// in HTTP-related code.
//
// Usage in services (read values):
//
//	callerID := requestcontext.CallerID(ctx)
//	requestID := requestcontext.RequestID(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithCallerID(ctx, callerID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithRole(ctx, domain.RoleOfficer)
package requestcontext

import (
	"context"

	"github.com/google/uuid"

	"govqueue/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	callerIDKey  struct{}
	roleKey      struct{}
	officeIDKey  struct{}
	requestIDKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyCallerID  = callerIDKey{}
	ContextKeyRole      = roleKey{}
	ContextKeyOfficeID  = officeIDKey{}
	ContextKeyRequestID = requestIDKey{}
)

// CallerID retrieves the authenticated caller identity from the context.
// Returns the nil UUID if not set.
func CallerID(ctx context.Context) uuid.UUID {
	if callerID, ok := ctx.Value(ContextKeyCallerID).(uuid.UUID); ok {
		return callerID
	}
	return uuid.Nil
}

// WithCallerID injects a caller identity into the context.
func WithCallerID(ctx context.Context, callerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextKeyCallerID, callerID)
}

// Role retrieves the caller role from the context. Empty if not set.
func Role(ctx context.Context) domain.Role {
	if role, ok := ctx.Value(ContextKeyRole).(domain.Role); ok {
		return role
	}
	return ""
}

// WithRole injects a caller role into the context.
func WithRole(ctx context.Context, role domain.Role) context.Context {
	return context.WithValue(ctx, ContextKeyRole, role)
}

// OfficeID retrieves the officer's assigned office from the context.
// Empty for citizens and admins.
func OfficeID(ctx context.Context) domain.OfficeID {
	if officeID, ok := ctx.Value(ContextKeyOfficeID).(domain.OfficeID); ok {
		return officeID
	}
	return ""
}

// WithOfficeID injects an assigned office into the context.
func WithOfficeID(ctx context.Context, officeID domain.OfficeID) context.Context {
	return context.WithValue(ctx, ContextKeyOfficeID, officeID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}
