// Package api implements the administrative HTTP ingress: dispatching
// commands and content to devices, fleet CRUD, session listing, and
// analytics queries. It consumes the dispatch engine's contract and owns
// all HTTP concerns: JSON shapes, status-code selection, and default
// timeouts.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/api/errs"
	appanalytics "github.com/edgesignal/fleethub/internal/app/analytics"
	"github.com/edgesignal/fleethub/internal/app/dispatcher"
	appfleet "github.com/edgesignal/fleethub/internal/app/fleet"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/otel"
)

// Defaults applied when a dispatch request does not set a timeout. The core
// requires an explicit timeout; picking the default is this layer's job.
const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultContentTimeout = 60 * time.Second
)

// Config carries the server's dependencies and tunables.
type Config struct {
	Hub            *dispatcher.Hub
	Fleets         *appfleet.Service
	Analytics      *appanalytics.Service
	CommandTimeout time.Duration
	ContentTimeout time.Duration
	Logger         *logger.Logger
	Tracer         trace.Tracer
}

// Server is the admin HTTP API.
type Server struct {
	cfg    Config
	router *chi.Mux
	logger *logger.Logger
	tracer trace.Tracer
}

// NewServer builds the router with all routes bound.
func NewServer(cfg Config) *Server {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = DefaultContentTimeout
	}

	// Tracing is provided by the otelhttp handler the server is mounted
	// under; the logger middleware picks the trace id up from its span.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		router: r,
		logger: cfg.Logger.With("component", "admin_api"),
		tracer: cfg.Tracer,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Get("/sessions", s.handleListSessions)

		r.Route("/commands", func(r chi.Router) {
			r.Post("/devices/{deviceID}", s.handleDispatchCommand)
			r.Post("/devices/{deviceID}/stream", s.handleDispatchCommandStream)
			r.Post("/broadcast", s.handleBroadcastCommand)
			r.Post("/broadcast/stream", s.handleBroadcastCommandStream)
			r.Post("/fleets/{fleetID}", s.handleFleetCommand)
			r.Post("/fleets/{fleetID}/stream", s.handleFleetCommandStream)
		})

		r.Route("/content", func(r chi.Router) {
			r.Post("/devices/{deviceID}", s.handleDispatchContent)
			r.Post("/devices/{deviceID}/stream", s.handleDispatchContentStream)
			r.Post("/broadcast", s.handleBroadcastContent)
			r.Post("/broadcast/stream", s.handleBroadcastContentStream)
			r.Post("/fleets/{fleetID}", s.handleFleetContent)
			r.Post("/fleets/{fleetID}/stream", s.handleFleetContentStream)
		})

		r.Route("/fleets", func(r chi.Router) {
			r.Post("/", s.handleCreateFleet)
			r.Get("/", s.handleListFleets)
			r.Get("/{fleetID}", s.handleGetFleet)
			r.Put("/{fleetID}/members", s.handleUpdateFleetMembers)
			r.Delete("/{fleetID}", s.handleDeleteFleet)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/devices", s.handleListDeviceStats)
			r.Get("/devices/{fingerprint}", s.handleGetDeviceStats)
		})
	})
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// respond writes a JSON response with the given status.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

// respondError writes an error response using the errs status mapping.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr, ok := errs.IsError(err); ok {
		s.respond(w, r, apiErr.HTTPStatus(), apiErr)
		return
	}
	s.logger.Error(r.Context(), "request failed", "error", err)
	s.respond(w, r, http.StatusInternalServerError, &errs.Error{Message: "internal error"})
}

// decode parses and validates a JSON request body.
func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errs.New(errs.InvalidArgument, err)
	}
	return errs.Check(into)
}
