package auth

import "context"

type contextKey string

const (
	contextKeyTenant  contextKey = "auth.tenant_id"
	contextKeyVenue   contextKey = "auth.venue_id"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// Identity is the authenticated caller as seen by downstream services.
type Identity struct {
	TenantID string
	VenueID  string
	Role     Role
	Subject  string
}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeyTenant, id.TenantID)
	ctx = context.WithValue(ctx, contextKeyVenue, id.VenueID)
	ctx = context.WithValue(ctx, contextKeyRole, id.Role)
	ctx = context.WithValue(ctx, contextKeySubject, id.Subject)
	return ctx
}

// TenantIDFromContext extracts the tenant id from context.
func TenantIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyTenant)
}

// VenueIDFromContext extracts the venue id from context.
func VenueIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyVenue)
}

// RoleFromContext extracts the role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts the token subject from context.
func SubjectFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeySubject)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
