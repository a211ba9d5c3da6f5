// ABOUTME: Execution context for carrying the authenticated principal through request handling
// ABOUTME: Provides WithExecution/ExecutionFromContext plus tool-argument projection for downstream calls

package auth

import (
	"context"
)

// ExecutionContext carries the authenticated principal and raw access token
// for the dynamic extent of one request. It travels on the request's
// context.Context, so each in-flight request is isolated and independently
// scheduled background work does not inherit it unless the context is passed
// along explicitly.
type ExecutionContext struct {
	Principal   *Principal
	AccessToken string
}

// UserIdentifier returns a stable identifier for downstream attribution.
func (ec *ExecutionContext) UserIdentifier() string {
	if ec == nil || ec.Principal == nil {
		return ""
	}
	if ec.Principal.PreferredUsername != "" {
		return ec.Principal.PreferredUsername
	}
	return ec.Principal.ObjectID
}

// ToolArguments projects the context into a plain key-value payload suitable
// for injection into downstream tool invocations.
func (ec *ExecutionContext) ToolArguments() map[string]any {
	payload := map[string]any{}
	if ec == nil {
		return payload
	}

	if p := ec.Principal; p != nil {
		payload["user_context"] = map[string]any{
			"object_id":          p.ObjectID,
			"tenant_id":          p.TenantID,
			"name":               p.Name,
			"preferred_username": p.PreferredUsername,
			"roles":              append([]string(nil), p.Roles...),
			"scopes":             append([]string(nil), p.Scopes...),
			"claims":             p.Claims,
		}
	}
	if ec.AccessToken != "" {
		payload["user_access_token"] = ec.AccessToken
	}
	return payload
}

// executionContextKey is the key type for storing ExecutionContext in context.Context.
type executionContextKey struct{}

// WithExecution returns a new context carrying the execution context. The
// prior value is untouched on the parent, so callers get restoration on every
// exit path for free.
func WithExecution(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// ExecutionFromContext retrieves the execution context, or nil if the request
// was not authenticated.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return ec
}

// CurrentPrincipal returns the authenticated principal, or nil.
func CurrentPrincipal(ctx context.Context) *Principal {
	if ec := ExecutionFromContext(ctx); ec != nil {
		return ec.Principal
	}
	return nil
}

// CurrentAccessToken returns the raw bearer token for the request, or "".
func CurrentAccessToken(ctx context.Context) string {
	if ec := ExecutionFromContext(ctx); ec != nil {
		return ec.AccessToken
	}
	return ""
}
