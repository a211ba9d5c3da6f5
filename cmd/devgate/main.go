// ABOUTME: Entry point for the devgate debug API server
// ABOUTME: Fronts agent execution with Entra ID bearer authentication and SSE streaming

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/devgate/internal/auth"
	"github.com/2389/devgate/internal/config"
	"github.com/2389/devgate/internal/conversation"
	"github.com/2389/devgate/internal/entity"
	"github.com/2389/devgate/internal/executor"
	"github.com/2389/devgate/internal/gateway"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

const banner = `
     _                       _
  __| | _____   ____ _  __ _| |_ ___
 / _' |/ _ \ \ / / _' |/ _' | __/ _ \
| (_| |  __/\ V / (_| | (_| | ||  __/
 \__,_|\___| \_/ \__, |\__,_|\__\___|
                 |___/
`

// getConfigPath returns the path to the devgate config file.
// Priority: DEVGATE_CONFIG env var > XDG_CONFIG_HOME/devgate/devgate.yaml > ~/.config/devgate/devgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DEVGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "devgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "devgate", "devgate.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: devgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the debug API server")
		fmt.Println("  health   Check server health")
		fmt.Println("  version  Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when present and falls back to defaults
// otherwise. An explicitly named file that fails to load is an error.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); err != nil {
		if os.Getenv("DEVGATE_CONFIG") != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	color.Cyan(banner)
	color.White("devgate %s", version)
	fmt.Println()

	// Auth configuration is mandatory: a misconfigured server must never
	// serve unauthenticated (fail closed).
	settings, err := auth.LoadSettings()
	if err != nil {
		return fmt.Errorf("loading auth settings: %w", err)
	}
	logger.Info("auth settings loaded",
		"tenant_id", settings.TenantID,
		"audiences", settings.Audiences,
		"authority_host", settings.AuthorityHost)

	validator := auth.NewValidator(settings, logger)
	registry := entity.NewRegistry()
	registerBuiltins(registry, logger)

	store, err := conversation.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer store.Close()

	engine := executor.NewLocalEngine(registry, logger)
	gw := gateway.New(cfg, validator, registry, engine, store, logger)

	color.Green("Listening on http://%s", cfg.Server.HTTPAddr)
	return gw.Run(ctx)
}

// registerBuiltins installs the built-in echo agent so a fresh server has
// something to execute against.
func registerBuiltins(registry *entity.Registry, logger *slog.Logger) {
	echo := executor.RunnerFunc(func(ctx context.Context, in executor.RunInput, emit executor.EmitFunc) error {
		for _, word := range strings.Fields(in.Input) {
			if !emit(executor.TextDelta(word + " ")) {
				return nil
			}
		}
		return nil
	})

	info := &entity.Info{
		ID:          "agent_echo",
		Type:        "agent",
		Name:        "Echo Agent",
		Description: "Streams the input back word by word. Useful for verifying auth and SSE plumbing.",
		Framework:   "devgate",
		Source:      entity.SourceInMemory,
	}
	if err := registry.Register(info, echo); err != nil {
		logger.Warn("failed to register builtin entity", "entity_id", info.ID, "error", err)
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}

	var body struct {
		Status        string `json:"status"`
		EntitiesCount int    `json:"entities_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	color.Green("Server is %s (%d entities)", body.Status, body.EntitiesCount)
	return nil
}
