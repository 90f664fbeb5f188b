// Package fleet holds the domain model for named device groups and the
// read interface the dispatch engine uses to expand a group into device ids.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// Fleet validation errors.
var (
	ErrFleetNotFound = errors.New("fleet not found")
	ErrEmptyName     = errors.New("fleet name is empty")
)

// Fleet is a named, externally managed set of device ids.
type Fleet struct {
	id        uuid.UUID
	name      string
	members   map[string]struct{}
	createdAt time.Time
	updatedAt time.Time
}

// NewFleet creates a fleet with the given name and optional initial members.
func NewFleet(name string, members []string) (*Fleet, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	now := time.Now().UTC()
	f := &Fleet{
		id:        uuid.New(),
		name:      name,
		members:   make(map[string]struct{}, len(members)),
		createdAt: now,
		updatedAt: now,
	}
	for _, m := range members {
		if m != "" {
			f.members[m] = struct{}{}
		}
	}
	return f, nil
}

// Reconstruct rebuilds a fleet from stored state. Intended for storage
// implementations only.
func Reconstruct(id uuid.UUID, name string, members []string, createdAt, updatedAt time.Time) *Fleet {
	f := &Fleet{
		id:        id,
		name:      name,
		members:   make(map[string]struct{}, len(members)),
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
	for _, m := range members {
		f.members[m] = struct{}{}
	}
	return f
}

// ID returns the fleet's unique identifier.
func (f *Fleet) ID() uuid.UUID { return f.id }

// Name returns the fleet's human-readable name.
func (f *Fleet) Name() string { return f.name }

// CreatedAt returns when the fleet was created.
func (f *Fleet) CreatedAt() time.Time { return f.createdAt }

// UpdatedAt returns when the fleet's membership last changed.
func (f *Fleet) UpdatedAt() time.Time { return f.updatedAt }

// Members returns the device ids in the fleet.
func (f *Fleet) Members() []string {
	out := make([]string, 0, len(f.members))
	for m := range f.members {
		out = append(out, m)
	}
	return out
}

// Size returns the number of member devices.
func (f *Fleet) Size() int { return len(f.members) }

// Contains reports whether the device belongs to the fleet.
func (f *Fleet) Contains(deviceID string) bool {
	_, ok := f.members[deviceID]
	return ok
}

// SetMembers replaces the fleet's membership.
func (f *Fleet) SetMembers(members []string) {
	f.members = make(map[string]struct{}, len(members))
	for _, m := range members {
		if m != "" {
			f.members[m] = struct{}{}
		}
	}
	f.updatedAt = time.Now().UTC()
}

// MembershipOracle is the read interface the dispatcher consults to expand
// a fleet id into a device-id list at fan-out time. Membership may change
// concurrently; callers snapshot once per fan-out.
type MembershipOracle interface {
	// MembersOf returns the device ids of the fleet, or ErrFleetNotFound.
	MembersOf(ctx context.Context, fleetID uuid.UUID) ([]string, error)
}

// Store persists fleets. Implementations must be safe for concurrent use.
type Store interface {
	MembershipOracle

	// Create inserts a new fleet.
	Create(ctx context.Context, f *Fleet) error
	// Get returns the fleet with the given id, or ErrFleetNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Fleet, error)
	// List returns all fleets.
	List(ctx context.Context) ([]*Fleet, error)
	// UpdateMembers replaces the membership of the fleet.
	UpdateMembers(ctx context.Context, id uuid.UUID, members []string) error
	// Delete removes the fleet.
	Delete(ctx context.Context, id uuid.UUID) error
}
