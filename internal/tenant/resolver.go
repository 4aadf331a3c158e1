package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// RequestDescriptor carries the pieces of an inbound request the resolver
// inspects: the host, the explicit tenant header with its service key, and
// the bearer token.
type RequestDescriptor struct {
	// Host is the request host, e.g. "acme.taskcore.dev".
	Host string

	// TenantHeader is the explicit X-Tenant-ID header value, if any.
	// Only privileged callers (valid ServiceKey) may use it.
	TenantHeader string

	// ServiceKey is the X-Service-Key header value accompanying an
	// explicit tenant header.
	ServiceKey string

	// Token is the bearer token from the Authorization header, if any.
	Token string
}

// tenantClaims is the JWT claim set carrying the tenant identity.
type tenantClaims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// Resolver extracts and validates a tenant identity from an inbound
// request descriptor and produces the TenantContext every downstream
// operation runs under.
//
// Resolution precedence: (1) explicit tenant header from a privileged
// caller, (2) tenant claim in the authenticated token, (3) tenant implied
// by the request host. The first applicable source wins; a header that
// disagrees with a token claim is a hard failure.
type Resolver struct {
	cache          *MetadataCache
	signingKey     []byte
	serviceKeyHash string
	baseDomain     string
}

// NewResolver creates a Resolver.
func NewResolver(cache *MetadataCache, jwtSecret, serviceKeyHash, baseDomain string) *Resolver {
	return &Resolver{
		cache:          cache,
		signingKey:     []byte(jwtSecret),
		serviceKeyHash: serviceKeyHash,
		baseDomain:     baseDomain,
	}
}

// Resolve produces the TenantContext for the request, or an error wrapping
// ErrAuthentication. Suspended and deleted tenants fail here, at the
// resolution boundary, regardless of credential validity.
func (r *Resolver) Resolve(ctx context.Context, desc RequestDescriptor) (domain.TenantContext, error) {
	log := logger.FromContext(ctx)

	headerTenant, err := r.tenantFromHeader(desc)
	if err != nil {
		return domain.TenantContext{}, err
	}

	claimTenant, err := r.tenantFromToken(ctx, desc.Token)
	if err != nil {
		return domain.TenantContext{}, err
	}

	// A privileged header that disagrees with the token claim is never
	// silently overridden in either direction.
	if headerTenant != "" && claimTenant != "" && headerTenant != claimTenant {
		log.Warn("tenant header disagrees with token claim",
			"header_tenant", headerTenant,
			"claim_tenant", claimTenant)
		return domain.TenantContext{}, ErrTenantMismatch
	}

	tenantID := headerTenant
	if tenantID == "" {
		tenantID = claimTenant
	}
	if tenantID == "" {
		tenantID = r.tenantFromHost(desc.Host)
	}
	if tenantID == "" {
		return domain.TenantContext{}, ErrNoTenant
	}

	t, err := r.cache.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return domain.TenantContext{}, fmt.Errorf("%w: %q", ErrTenantUnknown, tenantID)
		}
		return domain.TenantContext{}, fmt.Errorf("failed to load tenant %q: %w", tenantID, err)
	}

	switch t.Status {
	case domain.TenantStatusSuspended:
		return domain.TenantContext{}, ErrTenantSuspended
	case domain.TenantStatusDeleted:
		return domain.TenantContext{}, ErrTenantDeleted
	}

	return domain.TenantContext{
		TenantID:     t.ID,
		Tier:         t.Tier,
		Status:       t.Status,
		FeatureFlags: t.FeatureFlags,
	}, nil
}

// tenantFromHeader handles resolution source (1): an explicit tenant
// header, allowed only when the accompanying service key verifies against
// the configured bcrypt hash.
func (r *Resolver) tenantFromHeader(desc RequestDescriptor) (string, error) {
	if desc.TenantHeader == "" {
		return "", nil
	}

	if desc.ServiceKey == "" {
		return "", ErrInvalidServiceKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(r.serviceKeyHash), []byte(desc.ServiceKey)); err != nil {
		return "", ErrInvalidServiceKey
	}

	return desc.TenantHeader, nil
}

// tenantFromToken handles resolution source (2): the tenant claim embedded
// in an authenticated HS256 token.
func (r *Resolver) tenantFromToken(ctx context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", nil
	}

	log := logger.FromContext(ctx)

	token, err := jwt.ParseWithClaims(
		tokenString,
		&tenantClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return r.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		log.Debug("token validation failed", "error", err)
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*tenantClaims)
	if !ok || !token.Valid || claims.TenantID == "" {
		log.Debug("token validation failed: missing tenant claim")
		return "", ErrInvalidToken
	}

	return claims.TenantID, nil
}

// tenantFromHost handles resolution source (3): the subdomain of the
// configured base domain. "acme.taskcore.dev" resolves to "acme";
// the apex itself resolves to nothing.
func (r *Resolver) tenantFromHost(host string) string {
	if host == "" {
		return ""
	}

	// Strip a port if present.
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}

	suffix := "." + r.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}

	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return ""
	}

	return sub
}
