// Package memory provides an in-memory fleet store. It is the default
// backing store and the reference implementation of the store contract;
// durability is not required for fleet definitions in a single-hub
// deployment.
package memory

import (
	"context"
	"sync"

	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// Store is a mutex-guarded map of fleets.
type Store struct {
	mu     sync.RWMutex
	fleets map[uuid.UUID]*fleet.Fleet
}

// NewStore creates an empty fleet store.
func NewStore() *Store {
	return &Store{fleets: make(map[uuid.UUID]*fleet.Fleet)}
}

// Create inserts a new fleet.
func (s *Store) Create(_ context.Context, f *fleet.Fleet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fleets[f.ID()] = f
	return nil
}

// Get returns the fleet with the given id, or fleet.ErrFleetNotFound.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*fleet.Fleet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fleets[id]
	if !ok {
		return nil, fleet.ErrFleetNotFound
	}
	return f, nil
}

// List returns all fleets.
func (s *Store) List(_ context.Context) ([]*fleet.Fleet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*fleet.Fleet, 0, len(s.fleets))
	for _, f := range s.fleets {
		out = append(out, f)
	}
	return out, nil
}

// UpdateMembers replaces the membership of the fleet.
func (s *Store) UpdateMembers(_ context.Context, id uuid.UUID, members []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fleets[id]
	if !ok {
		return fleet.ErrFleetNotFound
	}
	f.SetMembers(members)
	return nil
}

// Delete removes the fleet.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fleets[id]; !ok {
		return fleet.ErrFleetNotFound
	}
	delete(s.fleets, id)
	return nil
}

// MembersOf implements fleet.MembershipOracle.
func (s *Store) MembersOf(_ context.Context, fleetID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fleets[fleetID]
	if !ok {
		return nil, fleet.ErrFleetNotFound
	}
	return f.Members(), nil
}
