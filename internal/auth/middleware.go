// ABOUTME: HTTP middleware enforcing bearer authentication on protected route prefixes
// ABOUTME: Anonymous routes come from a declarative table built at registration time

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// RouteTable records which routes bypass authentication. Marks are made at
// route-registration time; the middleware never inspects handlers.
type RouteTable struct {
	anonymous map[string]struct{}
}

// NewRouteTable returns an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{anonymous: make(map[string]struct{})}
}

// Allow marks a path as anonymous-allowed. The path must match the request
// path exactly (no prefix semantics).
func (rt *RouteTable) Allow(path string) {
	rt.anonymous[path] = struct{}{}
}

// Anonymous reports whether the path was marked anonymous-allowed.
func (rt *RouteTable) Anonymous(path string) bool {
	_, ok := rt.anonymous[path]
	return ok
}

// Middleware authenticates requests to protected path prefixes and installs
// the resulting execution context for downstream handlers.
type Middleware struct {
	validator         *Validator
	routes            *RouteTable
	protectedPrefixes []string
	logger            *slog.Logger
}

// NewMiddleware builds the middleware. prefixes defaults to ["/v1"] when empty.
func NewMiddleware(validator *Validator, routes *RouteTable, prefixes []string, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if len(prefixes) == 0 {
		prefixes = []string{"/v1"}
	}
	if routes == nil {
		routes = NewRouteTable()
	}
	return &Middleware{
		validator:         validator,
		routes:            routes,
		protectedPrefixes: prefixes,
		logger:            logger.With("component", "auth"),
	}
}

// Protected reports whether the path matches a protected prefix, either
// exactly or as prefix followed by a path separator.
func (m *Middleware) Protected(path string) bool {
	for _, prefix := range m.protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Wrap returns a handler enforcing authentication in front of next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS pre-flight carries no credentials.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		if m.routes.Anonymous(path) || !m.Protected(path) {
			next.ServeHTTP(w, r)
			return
		}

		token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			writeAuthError(w, http.StatusUnauthorized, errMsg)
			return
		}

		principal, err := m.validator.Validate(r.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			detail := "Token validation failed."
			var authErr *Error
			if errors.As(err, &authErr) {
				status = authErr.Status
				detail = authErr.Message
			}
			m.logger.Warn("authentication failed", "path", path, "status", status, "reason", detail)
			writeAuthError(w, status, detail)
			return
		}

		ec := &ExecutionContext{Principal: principal, AccessToken: token}
		next.ServeHTTP(w, r.WithContext(WithExecution(r.Context(), ec)))
	})
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "Authorization header missing."
	}
	scheme, credentials, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "Bearer token required."
	}
	token := strings.TrimSpace(credentials)
	if token == "" {
		return "", "Bearer token required."
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
