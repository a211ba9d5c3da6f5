// ABOUTME: Gateway orchestrator wiring auth, entities, execution, and conversations
// ABOUTME: Owns the HTTP server lifecycle; validator init happens before any request is admitted

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/devgate/internal/auth"
	"github.com/2389/devgate/internal/config"
	"github.com/2389/devgate/internal/conversation"
	"github.com/2389/devgate/internal/entity"
	"github.com/2389/devgate/internal/executor"
)

const shutdownTimeout = 10 * time.Second

// Gateway coordinates the devgate server components.
type Gateway struct {
	config        *config.Config
	validator     *auth.Validator
	registry      *entity.Registry
	engine        executor.Engine
	conversations *conversation.Store
	httpServer    *http.Server
	logger        *slog.Logger
}

// New assembles a gateway from its components. The validator must not have
// served traffic yet; Run initializes it before accepting connections.
func New(cfg *config.Config, validator *auth.Validator, registry *entity.Registry, engine executor.Engine, conversations *conversation.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:        cfg,
		validator:     validator,
		registry:      registry,
		engine:        engine,
		conversations: conversations,
		logger:        logger.With("component", "gateway"),
	}
}

// Handler builds the full HTTP handler: routes wrapped in authentication and
// CORS middleware. The route table is built here, at registration time.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	routes := auth.NewRouteTable()

	// Health is the only anonymous route.
	routes.Allow("/health")
	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("GET /v1/entities", g.handleListEntities)
	mux.HandleFunc("GET /v1/entities/{id}/info", g.handleEntityInfo)
	mux.HandleFunc("POST /v1/entities/add", g.handleAddEntity)
	mux.HandleFunc("DELETE /v1/entities/{id}", g.handleRemoveEntity)

	mux.HandleFunc("POST /v1/responses", g.handleResponses)

	mux.HandleFunc("POST /v1/conversations", g.handleCreateConversation)
	mux.HandleFunc("GET /v1/conversations", g.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("POST /v1/conversations/{id}", g.handleUpdateConversation)
	mux.HandleFunc("DELETE /v1/conversations/{id}", g.handleDeleteConversation)
	mux.HandleFunc("POST /v1/conversations/{id}/items", g.handleAddItems)
	mux.HandleFunc("GET /v1/conversations/{id}/items", g.handleListItems)
	mux.HandleFunc("GET /v1/conversations/{id}/items/{item_id}", g.handleGetItem)

	middleware := auth.NewMiddleware(g.validator, routes, g.config.Server.ProtectedPrefixes, g.logger)
	return g.corsMiddleware(middleware.Wrap(mux))
}

// corsMiddleware applies the configured CORS policy and answers pre-flight
// requests directly.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := g.allowedOrigin(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) allowedOrigin(requestOrigin string) string {
	for _, o := range g.config.CORS.Origins {
		if o == "*" {
			return "*"
		}
		if o == requestOrigin {
			return requestOrigin
		}
	}
	return ""
}

// Run initializes authentication, then serves HTTP until ctx is cancelled.
// A validator initialization failure is fatal: the listener is never opened
// (fail closed).
func (g *Gateway) Run(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := g.validator.Initialize(initCtx); err != nil {
		return fmt.Errorf("initializing token validator: %w", err)
	}
	g.logger.Info("token validator initialized")

	g.httpServer = &http.Server{
		Addr:              g.config.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	g.logger.Info("gateway stopped")
	return nil
}
