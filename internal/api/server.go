// Package api exposes the inspector over HTTP for the web UI.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/config"
	"github.com/nuetzliches/sbinspect/internal/inspector"
	"github.com/nuetzliches/sbinspect/internal/servicebus"
	"github.com/nuetzliches/sbinspect/internal/uistate"
)

const (
	errInvalidBody  = "invalid_body"
	errInvalidQuery = "invalid_query"
	errNotFound     = "not_found"
	errRateLimited  = "rate_limited"
	errStateFailed  = "state_unavailable"
)

// DefaultAllowedOrigins are the dev servers of the web UI.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Inspector is the operation surface served under /api.
type Inspector interface {
	Connect(ctx context.Context, req inspector.ConnectionRequest) (inspector.ConnectionInfo, *inspector.OpError)
	Current() (inspector.ConnectionInfo, bool)
	Disconnect(ctx context.Context) *inspector.OpError
	ListEntities(ctx context.Context) ([]string, *inspector.OpError)
	Peek(ctx context.Context, max int) (inspector.PagedResult[inspector.PeekedMessageInfo], *inspector.OpError)
	PeekByID(ctx context.Context, messageID string) (inspector.Message, bool, *inspector.OpError)
	Receive(ctx context.Context) (inspector.Message, bool, *inspector.OpError)
	Send(ctx context.Context, req inspector.SendMessageRequest) (string, *inspector.OpError)
	BulkSend(ctx context.Context, reqs []inspector.SendMessageRequest) inspector.BulkSendResult
}

// ConfigSource serves defaults and scenarios, possibly reloaded at runtime.
type ConfigSource interface {
	Defaults() config.Defaults
	Scenarios() []config.Scenario
}

type Server struct {
	Inspector Inspector
	Config    ConfigSource
	State     uistate.Store
	Bus       activity.Bus
	Logger    *slog.Logger
	Now       func() time.Time

	// AllowedOrigins lists origins that get CORS headers. "*" allows any
	// origin without credentials.
	AllowedOrigins []string
	// Limiter, when set, guards every /api request.
	Limiter *rate.Limiter
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// ObserveRequest is called once per /api request with the matched
	// route pattern.
	ObserveRequest func(route string, statusCode int)
}

func NewServer(insp Inspector, cfg ConfigSource, state uistate.Store) *Server {
	return &Server{
		Inspector:      insp,
		Config:         cfg,
		State:          state,
		Now:            time.Now,
		AllowedOrigins: DefaultAllowedOrigins,
	}
}

// Handler builds the router. It is safe to call once per server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Use(s.observeMiddleware)

		r.Route("/connections", func(r chi.Router) {
			r.Post("/", s.handleConnect)
			r.Get("/current", s.handleCurrent)
			r.Delete("/current", s.handleDisconnect)
			r.Get("/entities", s.handleEntities)
			r.Get("/defaults", s.handleDefaults)
			r.Get("/scenarios", s.handleScenarios)
		})
		r.Route("/messages", func(r chi.Router) {
			r.Get("/peek", s.handlePeek)
			r.Post("/receive", s.handleReceive)
			r.Post("/send", s.handleSend)
			r.Post("/bulk-send", s.handleBulkSend)
			r.Get("/{messageId}", s.handleGetMessage)
		})
		r.Get("/ui-state", s.handleGetUIState)
		r.Put("/ui-state", s.handlePutUIState)
		r.Get("/ui-state/snapshot", s.handleGetSnapshot)
		r.Get("/activity", s.handleListActivity)
		r.Get("/activity/ws", s.handleActivityStream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) currentEntity() (string, bool) {
	info, ok := s.Inspector.Current()
	if !ok {
		return "", false
	}
	return servicebus.Entity{Name: info.EntityName, Subscription: info.SubscriptionName}.String(), true
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
