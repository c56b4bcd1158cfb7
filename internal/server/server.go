package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retroboard/retroboard/internal/board"
	"github.com/retroboard/retroboard/internal/config"
	"github.com/retroboard/retroboard/internal/protocol"
)

// Server owns one board and everything attached to it: the store, the
// color registry, the session registry, the hub, and the HTTP surface
// (/ws upgrade, health, metrics, static entry assets).
type Server struct {
	config *config.Config

	store    *board.Store
	colors   *board.ColorRegistry
	sessions *SessionManager
	hub      *Hub
	gateway  *Gateway
	metrics  *Metrics

	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server

	logger *slog.Logger
}

// New assembles a Server from the configuration. The hub goroutine is
// started here; the HTTP listener starts in Run (or the caller mounts
// Handler in its own server, as tests do).
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	metrics := NewMetrics(cfg.MetricsNamespace)
	store := board.NewStore(cfg.Columns)
	colors := board.NewColorRegistry()
	sessions := NewSessionManager(logger)
	hub := NewHub(metrics, logger)
	gateway := NewGateway(store, colors, sessions, hub, metrics, logger)

	s := &Server{
		config:   cfg,
		store:    store,
		colors:   colors,
		sessions: sessions,
		hub:      hub,
		gateway:  gateway,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// The board has no cross-origin story: the entry page and
			// the socket are served from the same host.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.router = s.buildRouter()

	go hub.Run()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.metrics.Registry(), promhttp.HandlerOpts{}))
	r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	return r
}

// Handler returns the HTTP handler for mounting in tests or an outer
// router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleWebSocket upgrades the connection and serves it until close.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		s.metrics.RecordWebSocketError("upgrade")
		return
	}

	sess := newSession(conn, s.config.SendBuffer, s.logger)
	s.sessions.Add(sess)
	s.hub.Register(sess)
	s.metrics.RecordSessionOpen()
	sess.logger.Info("session connected", "remote", r.RemoteAddr)

	defer func() {
		sess.Close()
		s.gateway.Teardown(sess)
		s.metrics.RecordSessionClose()
		sess.logger.Info("session closed")
	}()

	go s.writePump(sess)

	// Every connection gets an anonymous snapshot immediately; the
	// personalized one follows on join.
	sess.Enqueue(protocol.Must(protocol.TypeBoardState, s.gateway.BoardState("")))

	s.readLoop(r.Context(), sess)
}

// handleHealth reports liveness plus coarse board totals.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	sessions := s.sessions.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"cards":           stats.Cards,
		"likes":           stats.Likes,
		"activeSessions":  sessions.Active,
		"sessionsCreated": sessions.TotalCreated,
	})
}

// Run starts the HTTP listener and blocks until a shutdown signal or a
// listener error.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: s.router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every session, stops the hub, and shuts the HTTP
// server down within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout())
	defer cancel()

	s.sessions.Shutdown()
	s.hub.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Store exposes the board store, used by the health handler and tests.
func (s *Server) Store() *board.Store {
	return s.store
}

// Sessions exposes the session registry.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}
