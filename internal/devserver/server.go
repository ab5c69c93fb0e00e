// ABOUTME: Development chat server exposing the HTTP+SSE API the sync engine consumes
// ABOUTME: Wires the store, event bus, auth middleware and Prometheus endpoint onto a gorilla/mux router

package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/2389/convo-sync/internal/auth"
	"github.com/2389/convo-sync/internal/convo"
	"github.com/2389/convo-sync/internal/eventbus"
	"github.com/2389/convo-sync/internal/store"
)

const defaultHeartbeat = 15 * time.Second

// Options configures a Server.
type Options struct {
	Store store.Store
	Bus   *eventbus.Bus
	// Verifier authenticates bearer tokens. Nil disables authentication.
	Verifier auth.TokenVerifier
	// Gatherer backs the metrics endpoint. Nil disables it.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	// PostRate limits messages per second per sender. Zero disables limiting.
	PostRate  float64
	PostBurst int
	// Heartbeat is the interval of SSE keepalive comments.
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Server is the development chat server.
type Server struct {
	store     store.Store
	bus       *eventbus.Bus
	logger    *slog.Logger
	router    *mux.Router
	heartbeat time.Duration

	postRate  rate.Limit
	postBurst int
	limitMu   sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server
}

// New creates a server. Store and Bus are required.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("devserver: store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("devserver: bus is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	burst := opts.PostBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		store:     opts.Store,
		bus:       opts.Bus,
		logger:    logger.With("component", "devserver"),
		heartbeat: heartbeat,
		postRate:  rate.Limit(opts.PostRate),
		postBurst: burst,
		limiters:  make(map[string]*rate.Limiter),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// The middleware is attached to the subrouter only, so /health and
	// /metrics stay reachable without a token.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.HTTPAuthMiddleware(opts.Verifier, logger))
	api.HandleFunc("/convos", s.handleListConvos).Methods(http.MethodGet)
	api.HandleFunc("/convos", s.handleCreateConvo).Methods(http.MethodPost)
	api.HandleFunc("/convos/{id}", s.handleDeleteConvo).Methods(http.MethodDelete)
	api.HandleFunc("/convos/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/convos/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	api.HandleFunc("/convos/{id}/messages/{msg}", s.handleDeleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/convos/{id}/read", s.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/convos/{id}/typing", s.handleTyping).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.router = r
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		unsubscribe := s.bus.SubscribeAll(s.logActivity)
		defer unsubscribe()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// Uses context.Background() since the original context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// allowPost reports whether sender may post another message now.
func (s *Server) allowPost(sender string) bool {
	if s.postRate <= 0 {
		return true
	}
	s.limitMu.Lock()
	lim, ok := s.limiters[sender]
	if !ok {
		lim = rate.NewLimiter(s.postRate, s.postBurst)
		s.limiters[sender] = lim
	}
	s.limitMu.Unlock()
	return lim.Allow()
}

// handleHealth returns 200 OK if the server is alive, with the number of
// bus subscribers for ?convo= (all-conversation streams when omitted).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListConvos(r.Context()); err != nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	convoID := r.URL.Query().Get("convo")
	s.sendJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		ConvoID:     convoID,
		Subscribers: s.bus.Subscribers(convoID),
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	ConvoID     string `json:"convo_id,omitempty"`
	Subscribers int    `json:"subscribers"`
}

// logActivity traces every event the server publishes.
func (s *Server) logActivity(ev convo.Event) {
	attrs := []any{"convo_id", ev.ConvoID, "kind", ev.Kind}
	if ev.Message != nil {
		attrs = append(attrs, "seq", ev.Message.Seq, "sender", ev.Message.Sender)
	}
	s.logger.Debug("bus event", attrs...)
}

// sendJSON writes v as a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
