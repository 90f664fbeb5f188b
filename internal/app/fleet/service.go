// Package fleet implements the application service for fleet CRUD and
// membership queries. The dispatch engine consumes only the read side
// (MembershipOracle); the admin ingress consumes the full service.
package fleet

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// Service coordinates fleet operations over a Store.
type Service struct {
	store  fleet.Store
	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a fleet service over the given store.
func NewService(store fleet.Store, log *logger.Logger, tracer trace.Tracer) *Service {
	return &Service{
		store:  store,
		logger: log.With("component", "fleet_service"),
		tracer: tracer,
	}
}

// Create makes a new fleet with the given name and members.
func (s *Service) Create(ctx context.Context, name string, members []string) (*fleet.Fleet, error) {
	ctx, span := s.tracer.Start(ctx, "fleet.create",
		trace.WithAttributes(attribute.String("fleet_name", name)),
	)
	defer span.End()

	f, err := fleet.NewFleet(name, members)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.store.Create(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("creating fleet: %w", err)
	}

	s.logger.Info(ctx, "Fleet created",
		"fleet_id", f.ID().String(),
		"fleet_name", name,
		"members", f.Size(),
	)
	return f, nil
}

// Get returns one fleet.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*fleet.Fleet, error) {
	return s.store.Get(ctx, id)
}

// List returns all fleets.
func (s *Service) List(ctx context.Context) ([]*fleet.Fleet, error) {
	return s.store.List(ctx)
}

// UpdateMembers replaces a fleet's membership.
func (s *Service) UpdateMembers(ctx context.Context, id uuid.UUID, members []string) error {
	ctx, span := s.tracer.Start(ctx, "fleet.update_members",
		trace.WithAttributes(
			attribute.String("fleet_id", id.String()),
			attribute.Int("members", len(members)),
		),
	)
	defer span.End()

	if err := s.store.UpdateMembers(ctx, id, members); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.Info(ctx, "Fleet membership updated",
		"fleet_id", id.String(),
		"members", len(members),
	)
	return nil
}

// Delete removes a fleet.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "fleet.delete",
		trace.WithAttributes(attribute.String("fleet_id", id.String())),
	)
	defer span.End()

	if err := s.store.Delete(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.Info(ctx, "Fleet deleted", "fleet_id", id.String())
	return nil
}

// MembersOf implements fleet.MembershipOracle.
func (s *Service) MembersOf(ctx context.Context, fleetID uuid.UUID) ([]string, error) {
	return s.store.MembersOf(ctx, fleetID)
}
