package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgesignal/fleethub/internal/api/errs"
	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// commandRequest is the payload for command dispatch endpoints. Exactly one
// command variant must be set. The command id is stamped server-side, one
// per target device.
type commandRequest struct {
	RequiresAck *bool `json:"requires_ack"`
	TimeoutMS   int64 `json:"timeout_ms" validate:"gte=0"`

	SetClock      *dispatch.SetClock      `json:"set_clock"`
	RequestReboot *dispatch.RequestReboot `json:"request_reboot"`
	UpdateNetwork *dispatch.UpdateNetwork `json:"update_network"`
	RotateScreen  *dispatch.RotateScreen  `json:"rotate_screen"`
}

func (req *commandRequest) check() error {
	variants := 0
	for _, set := range []bool{
		req.SetClock != nil,
		req.RequestReboot != nil,
		req.UpdateNetwork != nil,
		req.RotateScreen != nil,
	} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return errs.Newf(errs.InvalidArgument, "exactly one command variant must be set")
	}
	return nil
}

func (req *commandRequest) requiresAck() bool {
	return req.RequiresAck == nil || *req.RequiresAck
}

func (req *commandRequest) timeout(fallback time.Duration) time.Duration {
	if req.TimeoutMS > 0 {
		return time.Duration(req.TimeoutMS) * time.Millisecond
	}
	return fallback
}

// builder returns a frame builder stamping a fresh command id per device.
func (req *commandRequest) builder(now time.Time) dispatch.FrameBuilder {
	return func(string) dispatch.Frame {
		return &dispatch.CommandFrame{
			CommandID:     uuid.NewString(),
			RequiresAck:   req.requiresAck(),
			IssuedAt:      now,
			SetClock:      req.SetClock,
			RequestReboot: req.RequestReboot,
			UpdateNetwork: req.UpdateNetwork,
			RotateScreen:  req.RotateScreen,
		}
	}
}

// contentRequest is the payload for content dispatch endpoints.
type contentRequest struct {
	RequiresAck *bool            `json:"requires_ack"`
	TimeoutMS   int64            `json:"timeout_ms" validate:"gte=0"`
	Content     map[string]any   `json:"content"`
	Media       []dispatch.Media `json:"media" validate:"dive"`
}

func (req *contentRequest) requiresAck() bool {
	return req.RequiresAck == nil || *req.RequiresAck
}

func (req *contentRequest) timeout(fallback time.Duration) time.Duration {
	if req.TimeoutMS > 0 {
		return time.Duration(req.TimeoutMS) * time.Millisecond
	}
	return fallback
}

// builder returns a frame builder stamping a fresh delivery id per device.
func (req *contentRequest) builder() dispatch.FrameBuilder {
	return func(string) dispatch.Frame {
		return &dispatch.ContentFrame{
			DeliveryID:  uuid.NewString(),
			RequiresAck: req.requiresAck(),
			Content:     req.Content,
			Media:       req.Media,
		}
	}
}

// statusForOutcome selects the HTTP status for a per-device outcome. Only
// Completed is success; a Partial content terminal therefore surfaces as
// 502, never 207.
func statusForOutcome(outcome dispatch.Outcome) int {
	switch outcome {
	case dispatch.OutcomeCompleted:
		return http.StatusOK
	case dispatch.OutcomeNotConnected:
		return http.StatusNotFound
	case dispatch.OutcomeTimeout:
		return http.StatusGatewayTimeout
	case dispatch.OutcomeShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
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

	result := s.cfg.Hub.Commands().Send(r.Context(), deviceID, frame, req.timeout(s.cfg.CommandTimeout))
	s.respond(w, r, statusForOutcome(result.Outcome), result)
}

func (s *Server) handleBroadcastCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		s.respondError(w, r, err)
		return
	}

	g := s.cfg.Hub.Commands().SendToAll(r.Context(), req.builder(time.Now().UTC()), req.timeout(s.cfg.CommandTimeout))
	s.respond(w, r, http.StatusOK, g)
}

func (s *Server) handleFleetCommand(w http.ResponseWriter, r *http.Request) {
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

	g, err := s.cfg.Hub.Commands().SendToFleet(r.Context(), fleetID, req.builder(time.Now().UTC()), req.timeout(s.cfg.CommandTimeout))
	if err != nil {
		if errors.Is(err, dispatch.ErrGroupNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, g)
}

func (s *Server) handleDispatchContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	frame := req.builder()(deviceID)

	result := s.cfg.Hub.Content().Send(r.Context(), deviceID, frame, req.timeout(s.cfg.ContentTimeout))
	s.respond(w, r, statusForOutcome(result.Outcome), result)
}

func (s *Server) handleBroadcastContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	g := s.cfg.Hub.Content().SendToAll(r.Context(), req.builder(), req.timeout(s.cfg.ContentTimeout))
	s.respond(w, r, http.StatusOK, g)
}

func (s *Server) handleFleetContent(w http.ResponseWriter, r *http.Request) {
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

	g, err := s.cfg.Hub.Content().SendToFleet(r.Context(), fleetID, req.builder(), req.timeout(s.cfg.ContentTimeout))
	if err != nil {
		if errors.Is(err, dispatch.ErrGroupNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, g)
}
