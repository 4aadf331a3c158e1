package isolation

import (
	"context"

	"github.com/guildly/taskcore/internal/domain"
)

// contextKey is a private type for context keys defined in this package.
type contextKey int

// tenantContextKey is the context key under which the bound TenantContext
// is carried. The key is unexported so a context can only be bound through
// Bind or WithSystemContext, never by writing the value directly.
const tenantContextKey contextKey = iota

// withTenantContext returns a copy of ctx carrying the tenant context.
func withTenantContext(ctx context.Context, tc domain.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// FromContext retrieves the bound TenantContext. The boolean is false when
// no context is bound; callers must treat that as a refusal, not a
// default.
func FromContext(ctx context.Context) (domain.TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey).(domain.TenantContext)
	return tc, ok
}

// WithSystemContext returns a copy of ctx carrying the privileged
// cross-tenant system context. Actor and reason are mandatory; every data
// access under this context is audited.
func WithSystemContext(ctx context.Context, actor, reason string) context.Context {
	return withTenantContext(ctx, domain.TenantContext{
		System: true,
		Actor:  actor,
		Reason: reason,
	})
}
