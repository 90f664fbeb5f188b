package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgesignal/fleethub/internal/api/errs"
	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// The streaming endpoints surface a dispatch's progress as server-sent
// events: one `data:` line per dispatch.Event. Closing the request ends
// the underlying dispatch stream, which cancels the waiter.

func (s *Server) handleDispatchCommandStream(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		s.respondError(w, r, err)
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	frame := req.builder(time.Now().UTC())(deviceID)

	events := s.cfg.Hub.Commands().SendStream(r.Context(), deviceID, frame, req.timeout(s.cfg.CommandTimeout))
	s.streamEvents(w, r, events)
}

func (s *Server) handleBroadcastCommandStream(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		s.respondError(w, r, err)
		return
	}

	events := s.cfg.Hub.Commands().SendStreamToAll(r.Context(), req.builder(time.Now().UTC()), req.timeout(s.cfg.CommandTimeout))
	s.streamEvents(w, r, events)
}

func (s *Server) handleFleetCommandStream(w http.ResponseWriter, r *http.Request) {
	fleetID, err := uuid.Parse(chi.URLParam(r, "fleetID"))
	if err != nil {
		s.respondError(w, r, errs.New(errs.InvalidArgument, err))
		return
	}

	var req commandRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		s.respondError(w, r, err)
		return
	}

	events, err := s.cfg.Hub.Commands().SendStreamToFleet(r.Context(), fleetID, req.builder(time.Now().UTC()), req.timeout(s.cfg.CommandTimeout))
	if err != nil {
		if errors.Is(err, dispatch.ErrGroupNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.streamEvents(w, r, events)
}

func (s *Server) handleDispatchContentStream(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	frame := req.builder()(deviceID)

	events := s.cfg.Hub.Content().SendStream(r.Context(), deviceID, frame, req.timeout(s.cfg.ContentTimeout))
	s.streamEvents(w, r, events)
}

func (s *Server) handleBroadcastContentStream(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	events := s.cfg.Hub.Content().SendStreamToAll(r.Context(), req.builder(), req.timeout(s.cfg.ContentTimeout))
	s.streamEvents(w, r, events)
}

func (s *Server) handleFleetContentStream(w http.ResponseWriter, r *http.Request) {
	fleetID, err := uuid.Parse(chi.URLParam(r, "fleetID"))
	if err != nil {
		s.respondError(w, r, errs.New(errs.InvalidArgument, err))
		return
	}

	var req contentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	events, err := s.cfg.Hub.Content().SendStreamToFleet(r.Context(), fleetID, req.builder(), req.timeout(s.cfg.ContentTimeout))
	if err != nil {
		if errors.Is(err, dispatch.ErrGroupNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.streamEvents(w, r, events)
}

// streamEvents drains a dispatch event stream into an SSE response.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan dispatch.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errs.Newf(errs.Internal, "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			s.logger.Error(r.Context(), "failed to encode stream event", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}
