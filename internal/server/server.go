// Package server wires configuration into a serving MCP server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toorpia/toorpia-mcp-server/pkg/audit"
	auditpg "github.com/toorpia/toorpia-mcp-server/pkg/audit/postgres"
	"github.com/toorpia/toorpia-mcp-server/pkg/auth"
	"github.com/toorpia/toorpia-mcp-server/pkg/backend"
	"github.com/toorpia/toorpia-mcp-server/pkg/database/migrate"
	"github.com/toorpia/toorpia-mcp-server/pkg/health"
	httpmw "github.com/toorpia/toorpia-mcp-server/pkg/http"
	"github.com/toorpia/toorpia-mcp-server/pkg/middleware"
	"github.com/toorpia/toorpia-mcp-server/pkg/platform"
	"github.com/toorpia/toorpia-mcp-server/pkg/session"
	"github.com/toorpia/toorpia-mcp-server/pkg/toolkit"
)

// Version is set at build time.
var Version = "dev"

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpShutdownTimeout   = 10 * time.Second
	retentionSweepPeriod  = 24 * time.Hour
)

// Server is the assembled MCP server and its background collaborators.
type Server struct {
	cfg      *platform.Config
	mcp      *mcp.Server
	store    *session.MemoryStore
	auditLog audit.Logger
	auditDB  *sql.DB
	registry *prometheus.Registry
	checker  *health.Checker
}

// New builds the server from configuration: backend client, session store,
// verifier, audit sink, middlewares, tools, and resources.
func New(cfg *platform.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Server.Version == "dev" {
		cfg.Server.Version = Version
	}

	client, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Audience:   cfg.Auth.Audience,
		HMACSecret: []byte(cfg.Auth.HMACSecret),
		JWKSURL:    cfg.Auth.JWKSURL,
		DevBypass:  cfg.Auth.DevBypass,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	s := &Server{cfg: cfg}

	s.store = session.NewMemoryStore(cfg.Sessions.Retention)
	s.store.StartSweep(cfg.Sessions.SweepInterval)

	if err := s.setupAudit(); err != nil {
		s.Close()
		return nil, err
	}

	var metrics *middleware.Metrics
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		metrics = middleware.NewMetrics(s.registry)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	// Receiving middleware: last added runs first. Audit is added last so it
	// is outermost and sees every call, including ones auth rejects.
	s.mcp.AddReceivingMiddleware(middleware.MCPAuthMiddleware(verifier, middleware.DefaultScopeRequirements(), metrics))
	s.mcp.AddReceivingMiddleware(middleware.MCPAuditMiddleware(s.auditLog, metrics))

	tk, err := toolkit.New(s.store, client, metrics, toolkit.StatusInfo{
		Name:         cfg.Server.Name,
		Version:      cfg.Server.Version,
		AuditBackend: cfg.Audit.Backend,
		DevBypass:    cfg.Auth.DevBypass,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating toolkit: %w", err)
	}
	tk.RegisterTools(s.mcp)

	platform.NewResources(s.store, verifier).Register(s.mcp)

	s.checker = health.NewChecker(client.Ping)

	return s, nil
}

// setupAudit opens the configured audit sink.
func (s *Server) setupAudit() error {
	switch s.cfg.Audit.Backend {
	case "postgres":
		db, err := sql.Open("postgres", s.cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("opening audit database: %w", err)
		}
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrating audit database: %w", err)
		}
		store := auditpg.New(db, auditpg.Config{RetentionDays: s.cfg.Audit.RetentionDays})
		store.StartRetentionLoop(retentionSweepPeriod)
		s.auditDB = db
		s.auditLog = store
	case "file":
		logger, err := audit.NewFileLogger(s.cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		s.auditLog = logger
	default:
		slog.Warn("audit persistence disabled")
		s.auditLog = audit.NopLogger{}
	}
	return nil
}

// MCP returns the underlying MCP server, for tests and embedding.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server",
		"name", s.cfg.Server.Name,
		"version", s.cfg.Server.Version,
		"transport", s.cfg.Server.Transport)

	switch s.cfg.Server.Transport {
	case "http":
		return s.runHTTP(ctx)
	default:
		return s.mcp.Run(ctx, &mcp.StdioTransport{}) //nolint:wrapcheck // transport error surfaces as-is
	}
}

// runHTTP serves the streamable HTTP transport plus operational endpoints.
func (s *Server) runHTTP(ctx context.Context) error {
	streamHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", httpmw.AuthMiddleware()(streamHandler))
	mux.HandleFunc("/healthz", s.checker.LivenessHandler())
	mux.HandleFunc("/readyz", s.checker.ReadinessHandler())
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.checker.SetServing()
	slog.Info("http transport listening", "address", s.cfg.Server.Address)

	select {
	case <-ctx.Done():
		s.checker.SetDraining()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// Close releases background resources.
func (s *Server) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			slog.Warn("closing audit sink", "error", err)
		}
	}
	if s.auditDB != nil {
		_ = s.auditDB.Close()
	}
}
