// Package auth provides bearer-token authentication for the devgate server.
//
// # Token Validation
//
// Tokens are OAuth2 access tokens issued by Microsoft Entra ID, verified with
// RS256 against the tenant's published signing keys:
//
//	settings, err := auth.LoadSettings()        // DEVUI_AZURE_AD_* environment
//	validator := auth.NewValidator(settings, logger)
//	err = validator.Initialize(ctx)             // fatal on failure (fail closed)
//	principal, err := validator.Validate(ctx, token)
//
// The validator caches the OpenID configuration for the process lifetime and
// the JWKS key set for the configured TTL. An unknown key identifier forces
// exactly one refresh before the token is rejected, which absorbs provider
// key rotation without retry storms.
//
// # Failure Taxonomy
//
// Every failure is a *Error carrying a Kind and an HTTP status:
//
//   - KindConfiguration: missing/invalid settings (fatal at startup, 500)
//   - KindAuthentication: malformed, expired, or unverifiable token (401)
//   - KindAuthorization: valid token, wrong tenant/scope/role (403)
//   - KindUpstream: metadata or key-set fetch failure (500 at startup, 401
//     during a live forced refresh)
//
// # Middleware
//
// Middleware gates protected path prefixes (default /v1). Routes registered
// as anonymous in the RouteTable and OPTIONS pre-flight requests bypass
// authentication. On success the principal and raw token are installed into
// the request context:
//
//	routes := auth.NewRouteTable()
//	routes.Allow("/health")
//	handler := auth.NewMiddleware(validator, routes, nil, logger).Wrap(mux)
//
// # Execution Context
//
// Downstream code reads the authenticated identity without parameter
// threading:
//
//	principal := auth.CurrentPrincipal(ctx)
//	token := auth.CurrentAccessToken(ctx)
//	args := auth.ExecutionFromContext(ctx).ToolArguments()
//
// Each request's context is isolated; concurrently in-flight requests can
// never observe each other's execution context.
package auth
