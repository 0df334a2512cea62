// ABOUTME: Gateway wires storage, auth, conversation service and HTTP API together
// ABOUTME: Manages the HTTP server lifecycle, health and metrics endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/upload"
)

// Gateway serves the conversation API for authenticated owners.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	metrics      *metrics.Collector
	verifier     *auth.JWTVerifier
	uploads      *upload.Signer
	httpServer   *http.Server
	logger       *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	// dedupe remembers which conversations are already in an owner's index
	dedupe *dedupe.Cache

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the configured storage backend.
func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMongo:
		s, err := store.NewMongoStore(ctx, cfg.Database.URI, cfg.Database.Name)
		if err != nil {
			return nil, fmt.Errorf("initializing mongo store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// New creates a Gateway with the store named in cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.ValidateGateway(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway over an already open store. The gateway
// takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	dedupeCache := dedupe.New(5*time.Minute, 100_000) // TTL 5min, max 100k entries
	collector := metrics.New()
	broadcaster := conversation.NewBroadcaster(logger)

	convService := conversation.New(s, logger)
	convService.SetBroadcaster(broadcaster)
	convService.SetMetrics(collector)
	convService.SetCache(dedupeCache)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		conversation: convService,
		broadcaster:  broadcaster,
		metrics:      collector,
		verifier:     auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		uploads:      upload.NewSigner(cfg.Upload),
		logger:       logger.With("component", "gateway"),
		serverID:     generateServerID(),
		dedupe:       dedupeCache,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !gw.uploads.Enabled() {
		gw.logger.Info("image upload signing disabled - no upload.private_key configured")
	}
	return gw, nil
}

// routes builds the HTTP mux. Everything under /api requires a bearer token.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
		g.logger.Info("metrics endpoint enabled", "path", g.config.Metrics.Path)
	}

	authed := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}
	api("POST /api/chats", g.handleCreate)
	api("GET /api/userchats", g.handleListSummaries)
	api("GET /api/chats/{id}", g.handleGet)
	api("PUT /api/chats/{id}", g.handleCommit)
	api("GET /api/chats/{id}/export", g.handleExport)
	api("GET /api/upload", g.handleUploadAuth)
	api("GET /api/events", g.handleEvents)

	return mux
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Verifier returns the verifier used for bearer tokens.
func (g *Gateway) Verifier() *auth.JWTVerifier {
	return g.verifier
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout, since
// the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases resources. Event streams are
// closed first so their handlers return and the server can drain. Later calls
// return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		g.broadcaster.Close()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.dedupe.Close()

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("parley-gateway-%d", time.Now().UnixNano()%1000000)
}
