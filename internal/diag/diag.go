// Package diag exposes a local diagnostics HTTP server: liveness,
// a JSON status view of the session engine, and Prometheus metrics.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexgram/nexgram/internal/metrics"
)

// Status is the point-in-time view reported by GET /status.
type Status struct {
	Connected    bool      `json:"connected"`
	DC           int       `json:"dc"`
	SessionID    int64     `json:"session_id,omitempty"`
	PendingCalls int       `json:"pending_calls"`
	UpdateSeq    int32     `json:"update_seq"`
	LastPong     time.Time `json:"last_pong,omitzero"`
}

// StatusSource supplies the current engine status.
type StatusSource interface {
	Status() Status
}

// Config configures the diagnostics server.
type Config struct {
	// Addr is the listen address. The server binds it at Start.
	Addr string

	Source StatusSource
	Logger *slog.Logger
}

// Server is the diagnostics HTTP server. It is a leaf component; nothing
// in the engine depends on it.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	server    *http.Server
	addr      string
	startedAt time.Time
}

// New creates a diagnostics server. Start binds the address.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "diag"),
	}
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	metrics.Register()

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth())
	r.Get("/status", s.handleStatus())
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// statusResponse is the JSON response for GET /status.
type statusResponse struct {
	Uptime float64 `json:"uptime_seconds"`
	Status Status  `json:"session"`
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{
			Uptime: time.Since(s.startedAt).Truncate(time.Second).Seconds(),
		}
		if s.cfg.Source != nil {
			resp.Status = s.cfg.Source.Status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return errors.New("diag: listen failed: " + err.Error())
	}
	s.addr = ln.Addr().String()
	s.logger.Info("diagnostics server listening", "addr", s.addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server stopped", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.addr == "" {
		return s.cfg.Addr
	}
	return s.addr
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
