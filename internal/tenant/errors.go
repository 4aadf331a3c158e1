package tenant

import (
	"errors"
	"fmt"
)

// Authentication errors returned by tenant resolution. Every failure wraps
// ErrAuthentication so callers can treat the whole family as a rejection:
// resolution failures are surfaced to the caller immediately and never
// retried.
var (
	// ErrAuthentication is the root of the resolution failure family.
	ErrAuthentication = errors.New("tenant authentication failed")

	// ErrNoTenant indicates that no resolution source (header, token
	// claim, host) produced a tenant.
	ErrNoTenant = fmt.Errorf("%w: no tenant could be resolved", ErrAuthentication)

	// ErrTenantMismatch indicates that an explicit tenant header and a
	// token claim named different tenants. Conflicting sources are a hard
	// failure, never a silent override.
	ErrTenantMismatch = fmt.Errorf("%w: conflicting tenant sources", ErrAuthentication)

	// ErrInvalidToken indicates the bearer token failed signature or
	// claim validation.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthentication)

	// ErrInvalidServiceKey indicates the explicit tenant header was used
	// without a valid privileged service key.
	ErrInvalidServiceKey = fmt.Errorf("%w: invalid service key", ErrAuthentication)

	// ErrTenantSuspended indicates the resolved tenant is suspended.
	// Suspension is enforced at the resolution boundary regardless of
	// credential validity.
	ErrTenantSuspended = fmt.Errorf("%w: tenant suspended", ErrAuthentication)

	// ErrTenantDeleted indicates the resolved tenant has been deleted.
	ErrTenantDeleted = fmt.Errorf("%w: tenant deleted", ErrAuthentication)

	// ErrTenantUnknown indicates the resolved tenant ID does not exist.
	ErrTenantUnknown = fmt.Errorf("%w: unknown tenant", ErrAuthentication)
)

// IsAuthenticationError checks if the error belongs to the resolution
// failure family.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
