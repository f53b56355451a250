package middleware

import "context"

type contextKey string

const (
	ctxUserID         contextKey = "user_id"
	ctxTenantID       contextKey = "tenant_id"
	ctxIdempotencyKey contextKey = "idempotency_key"
)

// UserIDFromContext returns the authenticated user, or 0.
func UserIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	v, _ := ctx.Value(ctxUserID).(int64)
	return v
}

// TenantIDFromContext returns the tenant the caller acts in, or 0.
func TenantIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	v, _ := ctx.Value(ctxTenantID).(int64)
	return v
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxIdempotencyKey).(string)
	return v
}

// WithIdentity injects the caller's tenant and user into ctx.
func WithIdentity(ctx context.Context, tenantID, userID int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	return context.WithValue(ctx, ctxUserID, userID)
}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxIdempotencyKey, key)
}
