package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/internal/infra/storage/fleet/memory"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// TestCreateAndGet verifies basic persistence of a fleet.
func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	f, err := fleet.NewFleet("lobby-screens", []string{"d1", "d2"})
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, f))

	got, err := store.Get(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, "lobby-screens", got.Name())
	assert.ElementsMatch(t, []string{"d1", "d2"}, got.Members())
}

// TestGetNotFound verifies the sentinel error for unknown fleets.
func TestGetNotFound(t *testing.T) {
	store := memory.NewStore()

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, fleet.ErrFleetNotFound)
}

// TestMembersOf verifies the oracle read used by fan-out.
func TestMembersOf(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	f, err := fleet.NewFleet("east-wing", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, f))

	members, err := store.MembersOf(ctx, f.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	_, err = store.MembersOf(ctx, uuid.New())
	assert.ErrorIs(t, err, fleet.ErrFleetNotFound)
}

// TestUpdateMembers verifies membership replacement.
func TestUpdateMembers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	f, err := fleet.NewFleet("west-wing", []string{"a"})
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, f))

	require.NoError(t, store.UpdateMembers(ctx, f.ID(), []string{"x", "y"}))

	members, err := store.MembersOf(ctx, f.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	assert.ErrorIs(t, store.UpdateMembers(ctx, uuid.New(), nil), fleet.ErrFleetNotFound)
}

// TestDelete verifies removal and idempotence expectations.
func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	f, err := fleet.NewFleet("tmp", nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, f))

	require.NoError(t, store.Delete(ctx, f.ID()))
	assert.ErrorIs(t, store.Delete(ctx, f.ID()), fleet.ErrFleetNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
