// ABOUTME: Gateway orchestrator wiring the HTTP control surface and websocket channel.
// ABOUTME: Owns the HTTP server lifecycle and shuts down cleanly on context cancel.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wamux/wamux/internal/broadcast"
	"github.com/wamux/wamux/internal/config"
	"github.com/wamux/wamux/internal/ratelimit"
	"github.com/wamux/wamux/internal/session"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// Controller is the session-manager surface the gateway depends on.
// Satisfied by *session.Manager; fakes implement it in tests.
type Controller interface {
	Create(ctx context.Context, id string) (created bool, err error)
	QR(id string) (string, error)
	Status(id string) (bool, error)
	Send(ctx context.Context, id, recipient, body string) (string, error)
	Logout(ctx context.Context, id string) error
	List() []session.Info
}

// Gateway exposes session lifecycle operations over HTTP and fans
// lifecycle events out to websocket observers.
type Gateway struct {
	cfg         *config.Config
	controller  Controller
	broadcaster *broadcast.Broadcaster
	limiter     *ratelimit.SlidingWindow
	logger      *slog.Logger

	httpServer *http.Server
}

// New creates a Gateway. The limiter may be nil to disable QR throttling.
func New(cfg *config.Config, controller Controller, broadcaster *broadcast.Broadcaster, limiter *ratelimit.SlidingWindow, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:         cfg,
		controller:  controller,
		broadcaster: broadcaster,
		limiter:     limiter,
		logger:      logger.With("component", "gateway"),
	}
}

// Handler returns the gateway's full route table.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /create-session", g.handleCreateSession)
	mux.HandleFunc("GET /qr/{sessionID}", g.handleQR)
	mux.HandleFunc("GET /status/{sessionID}", g.handleStatus)
	mux.HandleFunc("POST /send-message/{sessionID}", g.handleSendMessage)
	mux.HandleFunc("GET /logout/{sessionID}", g.handleLogout)
	mux.HandleFunc("GET /sessions", g.handleListSessions)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /ws", g.handleWS)

	return g.logRequests(mux)
}

// logRequests logs every request at debug level. Status codes are not
// captured because /ws hijacks the connection.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.httpServer = &http.Server{
		Addr:    g.cfg.Server.HTTPAddr,
		Handler: g.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.cfg.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.httpServer.Shutdown(shutdownCtx)
}
