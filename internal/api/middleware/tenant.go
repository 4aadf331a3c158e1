package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/guildly/taskcore/internal/api/shared"
	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/redact"
	"github.com/guildly/taskcore/internal/tenant"
)

// Request headers inspected during tenant resolution.
const (
	// HeaderTenantID is the explicit tenant override, privileged callers only.
	HeaderTenantID = "X-Tenant-ID"

	// HeaderServiceKey authenticates privileged callers.
	HeaderServiceKey = "X-Service-Key"

	// HeaderAdminActor identifies who is acting on admin routes; audited.
	HeaderAdminActor = "X-Admin-Actor"

	// HeaderAdminReason explains why; audited alongside the actor.
	HeaderAdminReason = "X-Admin-Reason"
)

// tenantResolver is the slice of tenant.Resolver the middleware needs.
type tenantResolver interface {
	Resolve(ctx context.Context, desc tenant.RequestDescriptor) (domain.TenantContext, error)
}

// contextBinder is the slice of isolation.Guard the middleware needs.
type contextBinder interface {
	BindResolved(ctx context.Context, tc domain.TenantContext) context.Context
}

// TenantMiddleware resolves the tenant identity of each request and binds
// the resulting context. Requests that cannot be resolved to an active
// tenant are rejected here; no handler runs without a bound context.
type TenantMiddleware struct {
	resolver tenantResolver
	guard    contextBinder
}

// NewTenantMiddleware creates a TenantMiddleware.
func NewTenantMiddleware(resolver tenantResolver, guard contextBinder) *TenantMiddleware {
	return &TenantMiddleware{
		resolver: resolver,
		guard:    guard,
	}
}

// Resolve is the middleware handler.
func (m *TenantMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		desc := tenant.RequestDescriptor{
			Host:         r.Host,
			TenantHeader: r.Header.Get(HeaderTenantID),
			ServiceKey:   r.Header.Get(HeaderServiceKey),
			Token:        bearerToken(r),
		}

		tc, err := m.resolver.Resolve(r.Context(), desc)
		if err != nil {
			status, message := resolutionFailure(err)
			shared.RespondWithErrorAndLog(w, r, status, message, err)
			return
		}

		ctx := m.guard.BindResolved(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header, or "".
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// resolutionFailure maps a resolution error to a status code and a safe
// client message.
func resolutionFailure(err error) (int, string) {
	switch {
	case isAny(err, tenant.ErrTenantSuspended):
		return http.StatusForbidden, "Tenant is suspended"
	case isAny(err, tenant.ErrTenantDeleted):
		return http.StatusForbidden, "Tenant is deleted"
	case isAny(err, tenant.ErrTenantMismatch):
		return http.StatusUnauthorized, "Tenant header does not match token"
	case isAny(err, tenant.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid token"
	case isAny(err, tenant.ErrInvalidServiceKey):
		return http.StatusUnauthorized, "Invalid service key"
	case isAny(err, tenant.ErrNoTenant, tenant.ErrTenantUnknown):
		return http.StatusUnauthorized, "Tenant could not be resolved"
	case tenant.IsAuthenticationError(err):
		return http.StatusUnauthorized, "Authentication failed"
	default:
		return http.StatusInternalServerError, "Failed to resolve tenant"
	}
}

// SystemMiddleware gates admin routes: a valid service key is required,
// and the request runs under an audited system context carrying the actor
// and reason from the admin headers.
type SystemMiddleware struct {
	serviceKeyHash string
}

// NewSystemMiddleware creates a SystemMiddleware verifying service keys
// against the given bcrypt hash.
func NewSystemMiddleware(serviceKeyHash string) *SystemMiddleware {
	return &SystemMiddleware{serviceKeyHash: serviceKeyHash}
}

// RequireSystem is the middleware handler.
func (m *SystemMiddleware) RequireSystem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		key := r.Header.Get(HeaderServiceKey)
		if key == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Service key required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(m.serviceKeyHash), []byte(key)); err != nil {
			log.Warn("admin request with invalid service key",
				"path", r.URL.Path,
				"error", redact.Error(err))
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid service key")
			return
		}

		actor := r.Header.Get(HeaderAdminActor)
		if actor == "" {
			actor = "admin_api"
		}
		reason := r.Header.Get(HeaderAdminReason)
		if reason == "" {
			reason = r.Method + " " + r.URL.Path
		}

		ctx := isolation.WithSystemContext(r.Context(), actor, reason)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isAny reports whether err matches any of the targets.
func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
