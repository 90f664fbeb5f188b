// Package postgres provides a PostgreSQL-backed fleet store for
// deployments where fleet definitions must survive hub restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/internal/infra/storage"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

var _ fleet.Store = (*fleetStore)(nil)

// fleetStore implements fleet.Store using PostgreSQL.
type fleetStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewFleetStore creates a PostgreSQL-backed fleet store with tracing.
func NewFleetStore(pool *pgxpool.Pool, tracer trace.Tracer) *fleetStore {
	return &fleetStore{db: pool, tracer: tracer}
}

// Create persists a new fleet and its membership.
func (r *fleetStore) Create(ctx context.Context, f *fleet.Fleet) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("fleet_id", f.ID().String()),
		attribute.String("fleet_name", f.Name()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_fleet", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO fleets (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
				pgUUID(f.ID()), f.Name(), f.CreatedAt(), f.UpdatedAt(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert fleet: %w", err)
			}
			return insertMembers(ctx, tx, f.ID(), f.Members())
		})
	})
}

// Get returns the fleet with the given id, or fleet.ErrFleetNotFound.
func (r *fleetStore) Get(ctx context.Context, id uuid.UUID) (*fleet.Fleet, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("fleet_id", id.String()))

	var f *fleet.Fleet
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_fleet", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx,
			`SELECT name, created_at, updated_at FROM fleets WHERE id = $1`,
			pgUUID(id),
		)

		var (
			name                 string
			createdAt, updatedAt pgtype.Timestamptz
		)
		if err := row.Scan(&name, &createdAt, &updatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fleet.ErrFleetNotFound
			}
			return fmt.Errorf("failed to get fleet: %w", err)
		}

		members, err := r.members(ctx, id)
		if err != nil {
			return err
		}

		f = fleet.Reconstruct(id, name, members, createdAt.Time, updatedAt.Time)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns all fleets with their memberships.
func (r *fleetStore) List(ctx context.Context) ([]*fleet.Fleet, error) {
	var fleets []*fleet.Fleet
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_fleets", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx,
			`SELECT f.id, f.name, f.created_at, f.updated_at,
			        COALESCE(array_agg(m.device_id) FILTER (WHERE m.device_id IS NOT NULL), '{}')
			   FROM fleets f
			   LEFT JOIN fleet_members m ON m.fleet_id = f.id
			  GROUP BY f.id
			  ORDER BY f.name`,
		)
		if err != nil {
			return fmt.Errorf("failed to list fleets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id                   pgtype.UUID
				name                 string
				createdAt, updatedAt pgtype.Timestamptz
				members              []string
			)
			if err := rows.Scan(&id, &name, &createdAt, &updatedAt, &members); err != nil {
				return fmt.Errorf("failed to scan fleet row: %w", err)
			}
			fleets = append(fleets, fleet.Reconstruct(uuid.UUID(id.Bytes), name, members, createdAt.Time, updatedAt.Time))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return fleets, nil
}

// UpdateMembers replaces the fleet's membership.
func (r *fleetStore) UpdateMembers(ctx context.Context, id uuid.UUID, members []string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("fleet_id", id.String()),
		attribute.Int("members", len(members)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_fleet_members", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE fleets SET updated_at = now() WHERE id = $1`,
				pgUUID(id),
			)
			if err != nil {
				return fmt.Errorf("failed to touch fleet: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fleet.ErrFleetNotFound
			}

			if _, err := tx.Exec(ctx, `DELETE FROM fleet_members WHERE fleet_id = $1`, pgUUID(id)); err != nil {
				return fmt.Errorf("failed to clear fleet members: %w", err)
			}
			return insertMembers(ctx, tx, id, members)
		})
	})
}

// Delete removes the fleet and its membership.
func (r *fleetStore) Delete(ctx context.Context, id uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("fleet_id", id.String()))

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.delete_fleet", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `DELETE FROM fleets WHERE id = $1`, pgUUID(id))
		if err != nil {
			return fmt.Errorf("failed to delete fleet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fleet.ErrFleetNotFound
		}
		return nil
	})
}

// MembersOf implements fleet.MembershipOracle.
func (r *fleetStore) MembersOf(ctx context.Context, fleetID uuid.UUID) ([]string, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("fleet_id", fleetID.String()))

	var members []string
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.fleet_members_of", dbAttrs, func(ctx context.Context) error {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM fleets WHERE id = $1)`, pgUUID(fleetID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check fleet existence: %w", err)
		}
		if !exists {
			return fleet.ErrFleetNotFound
		}

		var err error
		members, err = r.members(ctx, fleetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *fleetStore) members(ctx context.Context, fleetID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT device_id FROM fleet_members WHERE fleet_id = $1 ORDER BY device_id`,
		pgUUID(fleetID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fleet members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var deviceID string
		if err := rows.Scan(&deviceID); err != nil {
			return nil, fmt.Errorf("failed to scan fleet member: %w", err)
		}
		members = append(members, deviceID)
	}
	return members, rows.Err()
}

func insertMembers(ctx context.Context, tx pgx.Tx, fleetID uuid.UUID, members []string) error {
	for _, deviceID := range members {
		_, err := tx.Exec(ctx,
			`INSERT INTO fleet_members (fleet_id, device_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			pgUUID(fleetID), deviceID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert fleet member: %w", err)
		}
	}
	return nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
