// ABOUTME: Unit tests for environment-derived auth settings
// ABOUTME: Covers required variables, list parsing, and defaults

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEVUI_AZURE_AD_TENANT_ID", "contoso-tenant")
	t.Setenv("DEVUI_AZURE_AD_ALLOWED_AUDIENCES", "api://app-id")
}

func TestLoadSettings_MissingTenantID(t *testing.T) {
	t.Setenv("DEVUI_AZURE_AD_TENANT_ID", "")
	t.Setenv("DEVUI_AZURE_AD_ALLOWED_AUDIENCES", "api://app-id")

	_, err := LoadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVUI_AZURE_AD_TENANT_ID")

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindConfiguration, authErr.Kind)
	assert.Equal(t, 500, authErr.Status)
}

func TestLoadSettings_MissingAudiences(t *testing.T) {
	t.Setenv("DEVUI_AZURE_AD_TENANT_ID", "contoso-tenant")
	t.Setenv("DEVUI_AZURE_AD_ALLOWED_AUDIENCES", "")

	_, err := LoadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVUI_AZURE_AD_ALLOWED_AUDIENCES")
}

func TestLoadSettings_AudienceParsing(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "single audience",
			raw:  "api://app-id",
			want: []string{"api://app-id"},
		},
		{
			name: "comma separated",
			raw:  "api://one,api://two",
			want: []string{"api://one", "api://two"},
		},
		{
			name: "semicolons and whitespace",
			raw:  "api://one; api://two ;api://three",
			want: []string{"api://one", "api://two", "api://three"},
		},
		{
			name: "trailing separators",
			raw:  "api://one,,;",
			want: []string{"api://one"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEVUI_AZURE_AD_TENANT_ID", "contoso-tenant")
			t.Setenv("DEVUI_AZURE_AD_ALLOWED_AUDIENCES", tt.raw)

			settings, err := LoadSettings()
			require.NoError(t, err)
			assert.Equal(t, tt.want, settings.Audiences)
		})
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	setRequiredEnv(t)

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, DefaultAuthorityHost, settings.AuthorityHost)
	assert.Equal(t, time.Hour, settings.KeySetCacheTTL)
	assert.Equal(t, 60*time.Second, settings.ClockSkew)
	assert.Empty(t, settings.RequiredScopes)
	assert.Empty(t, settings.RequiredRoles)
}

func TestLoadSettings_AuthorityHostTrailingSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEVUI_AZURE_AD_AUTHORITY_HOST", "https://login.example.com/")

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.com", settings.AuthorityHost)
	assert.False(t, strings.HasSuffix(settings.MetadataURL(), "//contoso-tenant/v2.0/.well-known/openid-configuration"))
}

func TestLoadSettings_RequiredLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEVUI_AZURE_AD_REQUIRED_SCOPES", "Api.Read, Api.Write;Api.Admin")
	t.Setenv("DEVUI_AZURE_AD_REQUIRED_APP_ROLES", "Debug.User  Debug.Admin")

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"Api.Read", "Api.Write", "Api.Admin"}, settings.RequiredScopes)
	assert.Equal(t, []string{"Debug.User", "Debug.Admin"}, settings.RequiredRoles)
}

func TestLoadSettings_InvalidSeconds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEVUI_AZURE_AD_JWKS_CACHE_TTL", "soon")

	_, err := LoadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVUI_AZURE_AD_JWKS_CACHE_TTL")
}

func TestLoadSettings_CustomSeconds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEVUI_AZURE_AD_JWKS_CACHE_TTL", "300")
	t.Setenv("DEVUI_AZURE_AD_CLOCK_SKEW", "5")

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, settings.KeySetCacheTTL)
	assert.Equal(t, 5*time.Second, settings.ClockSkew)
}

func TestMetadataURL(t *testing.T) {
	s := &Settings{TenantID: "contoso-tenant", AuthorityHost: "https://login.example.com"}
	assert.Equal(t,
		"https://login.example.com/contoso-tenant/v2.0/.well-known/openid-configuration",
		s.MetadataURL())
}
