package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"melody-map/internal/storage"
	"melody-map/internal/testutil"
)

func TestStore_Contract(t *testing.T) {
	testutil.RunConnectionStoreSuite(t, func(t *testing.T) storage.ConnectionStore {
		return NewStore()
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	stored, err := store.InsertConnection(ctx, testutil.NewConnectionBuilder().Build())
	require.NoError(t, err)

	stored.AccessToken = "mutated"
	*stored.RefreshToken = "mutated"

	found, err := store.FindConnectionByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-token", found.AccessToken)
	assert.Equal(t, "refresh-token", *found.RefreshToken)
}

func TestStore_HealthAfterClose(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Close())
	assert.Error(t, store.Health())
}
