package offlinecache

import (
	"context"
	"strings"
)

type tenantContextKey struct{}

// WithTenant attaches the tenant used by facade calls that do not name one
// explicitly.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext returns the tenant attached with WithTenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tenantID, ok := ctx.Value(tenantContextKey{}).(string)
	return tenantID, ok && tenantID != ""
}

func resolveTenant(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	tenantID, _ := TenantFromContext(ctx)
	return tenantID
}
