// ABOUTME: Typed authentication error carrying a failure kind and HTTP status
// ABOUTME: Forces callers to handle configuration, authentication, and authorization failures distinctly

package auth

import "net/http"

// Kind classifies an authentication failure.
type Kind string

const (
	// KindConfiguration covers missing or invalid server settings. Fatal at
	// startup; surfaces as 500 if detected lazily on the request path.
	KindConfiguration Kind = "configuration"

	// KindAuthentication covers malformed, expired, or unverifiable tokens (401).
	KindAuthentication Kind = "authentication"

	// KindAuthorization covers valid tokens with the wrong tenant, scope, or
	// role (403). Distinguishes "logged in but forbidden" from "not logged in".
	KindAuthorization Kind = "authorization"

	// KindUpstream covers metadata or key-set fetch failures. 500 at startup;
	// mapped to an authentication failure during a live forced refresh.
	KindUpstream Kind = "upstream"
)

// Error is the failure type returned by the settings loader, validator, and
// middleware. Status is the HTTP status code the middleware writes.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newConfigError(message string) *Error {
	return &Error{Kind: KindConfiguration, Status: http.StatusInternalServerError, Message: message}
}

func newAuthnError(message string) *Error {
	return &Error{Kind: KindAuthentication, Status: http.StatusUnauthorized, Message: message}
}

func newAuthzError(message string) *Error {
	return &Error{Kind: KindAuthorization, Status: http.StatusForbidden, Message: message}
}

func newUpstreamError(message string) *Error {
	return &Error{Kind: KindUpstream, Status: http.StatusInternalServerError, Message: message}
}
