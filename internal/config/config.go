// ABOUTME: Server configuration loading for devgate
// ABOUTME: YAML with environment variable expansion; auth settings live in the auth package

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the devgate server configuration. Authentication
// settings are deliberately not here: they come from DEVUI_AZURE_AD_*
// environment variables (see the auth package).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	CORS     CORSConfig     `yaml:"cors"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	UI       UIConfig       `yaml:"ui"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// ProtectedPrefixes are the path prefixes gated by bearer authentication.
	ProtectedPrefixes []string `yaml:"protected_prefixes"`
}

// CORSConfig holds allowed origin configuration.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// DatabaseConfig holds the conversation store location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UIConfig holds debug UI configuration.
type UIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no config file exists:
// loopback binding, permissive CORS for local debugging, an on-disk store
// in the working directory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          "127.0.0.1:8080",
			ProtectedPrefixes: []string{"/v1"},
		},
		CORS:     CORSConfig{Origins: []string{"*"}},
		Database: DatabaseConfig{Path: "devgate.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		UI:       UIConfig{Enabled: true},
	}
}

// Load reads a configuration file from the given path. Environment variables
// in the format ${VAR_NAME} are expanded. Missing fields fall back to
// Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Server.ProtectedPrefixes) == 0 {
		return fmt.Errorf("server.protected_prefixes must not be empty (authentication would be disabled)")
	}
	return nil
}
