package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgesignal/fleethub/internal/api/errs"
	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// fleetInfo is the JSON shape of one fleet.
type fleetInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toFleetInfo(f *fleet.Fleet) fleetInfo {
	members := f.Members()
	if members == nil {
		members = []string{}
	}
	return fleetInfo{
		ID:        f.ID().String(),
		Name:      f.Name(),
		Members:   members,
		CreatedAt: f.CreatedAt(),
		UpdatedAt: f.UpdatedAt(),
	}
}

type createFleetRequest struct {
	Name    string   `json:"name" validate:"required,min=1,max=100"`
	Members []string `json:"members" validate:"dive,min=1"`
}

type updateMembersRequest struct {
	Members []string `json:"members" validate:"required,dive,min=1"`
}

func (s *Server) fleetIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "fleetID"))
	if err != nil {
		return uuid.UUID{}, errs.New(errs.InvalidArgument, err)
	}
	return id, nil
}

func (s *Server) handleCreateFleet(w http.ResponseWriter, r *http.Request) {
	var req createFleetRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := s.cfg.Fleets.Create(r.Context(), req.Name, req.Members)
	if err != nil {
		s.respondError(w, r, errs.New(errs.InvalidArgument, err))
		return
	}
	s.respond(w, r, http.StatusCreated, toFleetInfo(f))
}

func (s *Server) handleListFleets(w http.ResponseWriter, r *http.Request) {
	fleets, err := s.cfg.Fleets.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]fleetInfo, 0, len(fleets))
	for _, f := range fleets {
		out = append(out, toFleetInfo(f))
	}
	s.respond(w, r, http.StatusOK, out)
}

func (s *Server) handleGetFleet(w http.ResponseWriter, r *http.Request) {
	id, err := s.fleetIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := s.cfg.Fleets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, toFleetInfo(f))
}

func (s *Server) handleUpdateFleetMembers(w http.ResponseWriter, r *http.Request) {
	id, err := s.fleetIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req updateMembersRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.cfg.Fleets.UpdateMembers(r.Context(), id, req.Members); err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteFleet(w http.ResponseWriter, r *http.Request) {
	id, err := s.fleetIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.cfg.Fleets.Delete(r.Context(), id); err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			s.respondError(w, r, errs.New(errs.NotFound, err))
			return
		}
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}
