package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edgesignal/fleethub/internal/api/errs"
	"github.com/edgesignal/fleethub/internal/domain/dispatch"
)

// handleListSessions returns the registry snapshot for one stream kind,
// selected by the `kind` query parameter (default: command).
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	kind := dispatch.StreamKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = dispatch.StreamKindCommand
	}
	if !kind.Valid() {
		s.respondError(w, r, errs.Newf(errs.InvalidArgument, "unknown stream kind: %q", kind))
		return
	}

	registry, err := s.cfg.Hub.Sessions(kind)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.respond(w, r, http.StatusOK, map[string]any{
		"kind":     kind.String(),
		"sessions": registry.Snapshot(),
	})
}

// handleListDeviceStats returns aggregates for every device with stored
// telemetry.
func (s *Server) handleListDeviceStats(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.cfg.Analytics.ListStats(r.Context()))
}

// handleGetDeviceStats returns the aggregate for one device fingerprint.
func (s *Server) handleGetDeviceStats(w http.ResponseWriter, r *http.Request) {
	fingerprint, err := strconv.ParseUint(chi.URLParam(r, "fingerprint"), 10, 32)
	if err != nil {
		s.respondError(w, r, errs.New(errs.InvalidArgument, err))
		return
	}

	stats, ok := s.cfg.Analytics.Stats(r.Context(), uint32(fingerprint))
	if !ok {
		s.respondError(w, r, errs.Newf(errs.NotFound, "no telemetry for device fingerprint %d", fingerprint))
		return
	}
	s.respond(w, r, http.StatusOK, stats)
}
