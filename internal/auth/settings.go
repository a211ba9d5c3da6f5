// ABOUTME: Entra ID auth settings loaded from DEVUI_AZURE_AD_* environment variables
// ABOUTME: Fails fast with errors that name the missing variable

package auth

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultAuthorityHost is the public Entra ID login endpoint used when
// DEVUI_AZURE_AD_AUTHORITY_HOST is not set.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

const (
	defaultKeySetCacheTTL = time.Hour
	defaultClockSkew      = 60 * time.Second
)

// Settings holds everything needed to validate Entra ID issued tokens.
type Settings struct {
	TenantID       string
	Audiences      []string
	RequiredScopes []string
	RequiredRoles  []string
	AuthorityHost  string
	KeySetCacheTTL time.Duration
	ClockSkew      time.Duration
}

// MetadataURL returns the OpenID configuration endpoint for the tenant.
func (s *Settings) MetadataURL() string {
	return fmt.Sprintf("%s/%s/v2.0/.well-known/openid-configuration", s.AuthorityHost, s.TenantID)
}

// LoadSettings reads auth settings from the environment. Any missing or
// malformed required value returns a *Error with KindConfiguration; the
// message names the offending variable so the operator can fix it.
func LoadSettings() (*Settings, error) {
	tenantID := os.Getenv("DEVUI_AZURE_AD_TENANT_ID")
	if tenantID == "" {
		return nil, newConfigError("DEVUI_AZURE_AD_TENANT_ID is not configured on the server.")
	}

	rawAudiences := os.Getenv("DEVUI_AZURE_AD_ALLOWED_AUDIENCES")
	if rawAudiences == "" {
		return nil, newConfigError("DEVUI_AZURE_AD_ALLOWED_AUDIENCES is not configured on the server.")
	}
	audiences := splitList(rawAudiences, ",;")
	if len(audiences) == 0 {
		return nil, newConfigError("DEVUI_AZURE_AD_ALLOWED_AUDIENCES must contain at least one audience value.")
	}

	authorityHost := os.Getenv("DEVUI_AZURE_AD_AUTHORITY_HOST")
	if authorityHost == "" {
		authorityHost = DefaultAuthorityHost
	}
	authorityHost = strings.TrimRight(authorityHost, "/")

	cacheTTL, err := secondsFromEnv("DEVUI_AZURE_AD_JWKS_CACHE_TTL", defaultKeySetCacheTTL)
	if err != nil {
		return nil, err
	}
	clockSkew, err := secondsFromEnv("DEVUI_AZURE_AD_CLOCK_SKEW", defaultClockSkew)
	if err != nil {
		return nil, err
	}

	return &Settings{
		TenantID:       tenantID,
		Audiences:      audiences,
		RequiredScopes: splitEnvList(os.Getenv("DEVUI_AZURE_AD_REQUIRED_SCOPES")),
		RequiredRoles:  splitEnvList(os.Getenv("DEVUI_AZURE_AD_REQUIRED_APP_ROLES")),
		AuthorityHost:  authorityHost,
		KeySetCacheTTL: cacheTTL,
		ClockSkew:      clockSkew,
	}, nil
}

// splitList splits on any rune in seps, trimming whitespace and dropping empties.
func splitList(raw, seps string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

var envListSeparators = regexp.MustCompile(`[,;\s]+`)

// splitEnvList parses comma/semicolon/whitespace separated values, collapsing
// consecutive separators.
func splitEnvList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range envListSeparators.Split(raw, -1) {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func secondsFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newConfigError(fmt.Sprintf("%s must be an integer number of seconds, got %q.", name, raw))
	}
	return time.Duration(secs) * time.Second, nil
}
