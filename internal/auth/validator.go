// ABOUTME: Entra ID bearer token validation with cached provider metadata and signing keys
// ABOUTME: RS256 only, forced key refresh at most once per validation on unknown kid

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fetchTimeout bounds metadata and key-set fetches.
const fetchTimeout = 10 * time.Second

// Principal is the authenticated identity extracted from a validated token.
// Construct once, never mutate.
type Principal struct {
	ObjectID string
	TenantID string
	// TenantVerified is false when the token carried no tenant claim and the
	// configured tenant was assumed rather than checked.
	TenantVerified    bool
	Name              string
	PreferredUsername string
	Roles             []string
	Scopes            []string
	Claims            map[string]any
}

// providerMetadata is the subset of the OpenID configuration the validator
// needs. Fetched once and cached for the process lifetime.
type providerMetadata struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Validator validates OAuth2 access tokens issued by Microsoft Entra ID.
//
// stateMu guards the cached metadata and key-set pointers; fetchMu serializes
// network refreshes so at most one fetch is in flight per validator while
// concurrent validations keep reading the previous set.
type Validator struct {
	settings *Settings
	client   *http.Client
	logger   *slog.Logger

	stateMu  sync.Mutex
	metadata *providerMetadata
	keys     *keySet

	fetchMu sync.Mutex
}

// NewValidator creates a validator for the given settings. Call Initialize
// before serving traffic so a provider outage fails startup, not requests.
func NewValidator(settings *Settings, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		settings: settings,
		client:   &http.Client{Timeout: fetchTimeout},
		logger:   logger.With("component", "auth"),
	}
}

// Initialize eagerly populates provider metadata and the signing key set.
// Idempotent; subsequent calls are no-ops once both caches are populated.
// Failures carry KindUpstream and must be treated as fatal by the caller.
func (v *Validator) Initialize(ctx context.Context) error {
	if _, err := v.ensureMetadata(ctx); err != nil {
		return err
	}
	v.stateMu.Lock()
	populated := v.keys != nil
	v.stateMu.Unlock()
	if populated {
		return nil
	}
	return v.refreshKeySet(ctx, false)
}

// Validate verifies a bearer token and returns the authenticated principal.
// Every failure is a *Error: 401 for authentication problems, 403 for
// tenant/scope/role mismatches.
func (v *Validator) Validate(ctx context.Context, token string) (*Principal, error) {
	meta, err := v.ensureMetadata(ctx)
	if err != nil {
		// Live requests must not surface upstream failures as server errors.
		return nil, newAuthnError(err.Message)
	}

	kid, err := tokenKeyID(token)
	if err != nil {
		return nil, err
	}

	key, err := v.signingKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims, err := v.verify(token, key, meta.Issuer)
	if err != nil {
		return nil, err
	}

	return v.principalFromClaims(claims)
}

// tokenKeyID parses the unverified token header and returns its key
// identifier. Nothing else from the header is trusted before verification.
func tokenKeyID(token string) (string, *Error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", newAuthnError(fmt.Sprintf("Unable to parse token header: %v", err))
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return "", newAuthnError("Token header missing 'kid' claim.")
	}
	return kid, nil
}

// signingKey resolves kid against the cached key set, forcing exactly one
// refresh on a miss to handle provider key rotation.
func (v *Validator) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, *Error) {
	if err := v.ensureFreshKeySet(ctx); err != nil {
		return nil, newAuthnError(err.Message)
	}

	if key := v.currentKeys().lookup(kid); key != nil {
		return key, nil
	}

	v.logger.Debug("signing key not cached, forcing key-set refresh", "kid", kid)
	if err := v.refreshKeySet(ctx, true); err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return nil, newAuthnError(authErr.Message)
		}
		return nil, newAuthnError(err.Error())
	}

	if key := v.currentKeys().lookup(kid); key != nil {
		return key, nil
	}
	return nil, newAuthnError("Signing key not found for token.")
}

// verify checks the signature and the registered claims, applying the
// configured clock-skew leeway to expiry and not-before uniformly.
func (v *Validator) verify(token string, key *rsa.PublicKey, issuer string) (jwt.MapClaims, *Error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(v.settings.ClockSkew),
	)

	parsed, err := parser.Parse(token, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, newAuthnError("Token has expired.")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, newAuthnError("Token issuer is not trusted.")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, newAuthnError("Token signature verification failed.")
		default:
			return nil, newAuthnError(fmt.Sprintf("Token validation failed: %v", err))
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, newAuthnError("Token validation failed.")
	}

	if err := v.checkAudience(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkAudience accepts the token when any audience matches the configured
// set.
func (v *Validator) checkAudience(claims jwt.MapClaims) *Error {
	audiences, err := claims.GetAudience()
	if err != nil || len(audiences) == 0 {
		return newAuthnError("Token audience not accepted.")
	}
	for _, aud := range audiences {
		for _, allowed := range v.settings.Audiences {
			if aud == allowed {
				return nil
			}
		}
	}
	return newAuthnError("Token audience not accepted.")
}

// principalFromClaims applies tenant, subject, scope, and role checks and
// assembles the immutable principal.
func (v *Validator) principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	tenantID, _ := claims["tid"].(string)
	tenantVerified := false
	if tenantID != "" {
		if !strings.EqualFold(tenantID, v.settings.TenantID) {
			return nil, newAuthzError("Token tenant does not match configured tenant.")
		}
		tenantVerified = true
	} else {
		// Tenant claim absent: fall back to the configured tenant but record
		// that it was assumed, not verified.
		tenantID = v.settings.TenantID
	}

	objectID, _ := claims["oid"].(string)
	if objectID == "" {
		objectID, _ = claims["sub"].(string)
	}
	if objectID == "" {
		return nil, newAuthnError("Token does not contain required subject identifiers.")
	}

	roles := claimStrings(claims["roles"], ",")
	scopes := claimStrings(claims["scp"], " ")

	if len(v.settings.RequiredScopes) > 0 && !intersects(scopes, v.settings.RequiredScopes) {
		return nil, newAuthzError("Token missing required scope.")
	}
	if len(v.settings.RequiredRoles) > 0 && !intersects(roles, v.settings.RequiredRoles) {
		return nil, newAuthzError("Token missing required application role.")
	}

	name, _ := claims["name"].(string)
	preferredUsername, _ := claims["preferred_username"].(string)
	if preferredUsername == "" {
		preferredUsername, _ = claims["upn"].(string)
	}

	return &Principal{
		ObjectID:          objectID,
		TenantID:          tenantID,
		TenantVerified:    tenantVerified,
		Name:              name,
		PreferredUsername: preferredUsername,
		Roles:             roles,
		Scopes:            scopes,
		Claims:            map[string]any(claims),
	}, nil
}

// currentKeys snapshots the cached key set.
func (v *Validator) currentKeys() *keySet {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.keys
}

// ensureFreshKeySet refreshes the key set when the TTL has elapsed. The
// staleness check runs before and after acquiring the fetch lock so a burst of
// validations triggers a single refresh.
func (v *Validator) ensureFreshKeySet(ctx context.Context) *Error {
	if !v.currentKeys().stale(time.Now()) {
		return nil
	}
	if err := v.refreshKeySet(ctx, false); err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return authErr
		}
		return newUpstreamError(err.Error())
	}
	return nil
}

// refreshKeySet fetches the JWKS document and swaps the cached set wholesale.
// force skips the staleness re-check used by TTL-driven refreshes.
func (v *Validator) refreshKeySet(ctx context.Context, force bool) error {
	meta, err := v.ensureMetadata(ctx)
	if err != nil {
		return err
	}

	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	if !force && !v.currentKeys().stale(time.Now()) {
		return nil
	}

	v.logger.Debug("fetching JWKS", "url", meta.JWKSURI)
	data, ferr := v.fetchJSON(ctx, meta.JWKSURI)
	if ferr != nil {
		return ferr
	}

	ks, perr := parseKeySet(data, time.Now().Add(v.settings.KeySetCacheTTL))
	if perr != nil {
		return newUpstreamError(fmt.Sprintf("Failed to load JWKS signing keys: %v", perr))
	}

	v.stateMu.Lock()
	v.keys = ks
	v.stateMu.Unlock()
	return nil
}

// ensureMetadata fetches the OpenID configuration at most once per process
// lifetime, guarded by the fetch lock with a double-check.
func (v *Validator) ensureMetadata(ctx context.Context) (*providerMetadata, *Error) {
	v.stateMu.Lock()
	meta := v.metadata
	v.stateMu.Unlock()
	if meta != nil {
		return meta, nil
	}

	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	v.stateMu.Lock()
	meta = v.metadata
	v.stateMu.Unlock()
	if meta != nil {
		return meta, nil
	}

	url := v.settings.MetadataURL()
	v.logger.Debug("fetching OpenID configuration", "url", url)
	data, err := v.fetchJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	parsed, perr := parseMetadata(data)
	if perr != nil {
		return nil, newUpstreamError(fmt.Sprintf("Failed to load OpenID configuration: %v", perr))
	}

	v.stateMu.Lock()
	v.metadata = parsed
	v.stateMu.Unlock()
	return parsed, nil
}

func parseMetadata(data []byte) (*providerMetadata, error) {
	var meta providerMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.Issuer == "" || meta.JWKSURI == "" {
		return nil, fmt.Errorf("configuration missing issuer or jwks_uri")
	}
	return &meta, nil
}

// fetchJSON performs a GET with the validator's bounded-timeout client.
func (v *Validator) fetchJSON(ctx context.Context, url string) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newUpstreamError(fmt.Sprintf("Failed to fetch authentication metadata: %v", err))
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error("network error fetching auth metadata", "url", url, "error", err)
		return nil, newUpstreamError(fmt.Sprintf("Unable to reach authentication metadata endpoint: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		v.logger.Error("HTTP error fetching auth metadata", "url", url, "status", resp.StatusCode)
		return nil, newUpstreamError(fmt.Sprintf("Failed to fetch authentication metadata: HTTP %d from %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newUpstreamError(fmt.Sprintf("Failed to read authentication metadata: %v", err))
	}
	return body, nil
}

// claimStrings normalizes a claim that may be a JSON array or a delimited
// string into a string slice.
func claimStrings(value any, separator string) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := fmt.Sprint(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, separator) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func intersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
