package types

import "context"

// ContextKey is the type for values stashed in a context.Context.
type ContextKey string

const (
	CtxRequestID     ContextKey = "ctx_request_id"
	CtxTenantID      ContextKey = "ctx_tenant_id"
	CtxUserID        ContextKey = "ctx_user_id"
	CtxEnvironmentID ContextKey = "ctx_environment_id"
	CtxDBTransaction ContextKey = "ctx_db_transaction"
	CtxForceWriter   ContextKey = "ctx_force_writer"
	CtxCredential    ContextKey = "ctx_credential"

	DefaultTenantID = "00000000-0000-0000-0000-000000000000"
)

// WithTenantID returns a context carrying the given organization id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxTenantID, tenantID)
}

// WithRequestID returns a context carrying a request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

// WithEnvironmentID returns a context carrying an environment id.
func WithEnvironmentID(ctx context.Context, environmentID string) context.Context {
	return context.WithValue(ctx, CtxEnvironmentID, environmentID)
}

// WithCredential returns a context carrying the caller's auth
// credential, the other half of the tenant context's
// {organization_id, auth_credential} pair alongside WithTenantID.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, CtxCredential, credential)
}

func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxTenantID).(string); ok {
		return v
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxRequestID).(string); ok {
		return v
	}
	return ""
}

func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxUserID).(string); ok {
		return v
	}
	return ""
}

func GetEnvironmentID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxEnvironmentID).(string); ok {
		return v
	}
	return ""
}

func GetCredential(ctx context.Context) string {
	if v, ok := ctx.Value(CtxCredential).(string); ok {
		return v
	}
	return ""
}

// WithForceWriter marks the context so Reader() routes to the writer
// connection, preserving read-your-writes consistency after a write.
func WithForceWriter(ctx context.Context) context.Context {
	return context.WithValue(ctx, CtxForceWriter, true)
}

func ShouldForceWriter(ctx context.Context) bool {
	v, _ := ctx.Value(CtxForceWriter).(bool)
	return v
}
