package activity

import (
	"context"
	"testing"

	"github.com/newtownenergy/gridctl/storage"
	"github.com/stretchr/testify/require"
)

func TestRecorderDerivesTimestamps(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := New(store)
	ctx := context.Background()
	user := int64(42)

	require.NoError(t, rec.RecordCreate(ctx, "sites", 1, &user))
	require.NoError(t, rec.RecordUpdate(ctx, "sites", 1, &user))

	created, updated, err := rec.Timestamps(ctx, "sites", 1)
	require.NoError(t, err)
	require.NotNil(t, created)
	require.NotNil(t, updated)
	require.False(t, updated.Before(*created))
}

func TestRecorderSurvivesEntityDeletion(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := New(store)
	ctx := context.Background()

	require.NoError(t, rec.RecordCreate(ctx, "devices", 5, nil))
	require.NoError(t, rec.RecordDelete(ctx, "devices", 5, nil))

	created, updated, err := rec.Timestamps(ctx, "devices", 5)
	require.NoError(t, err)
	require.NotNil(t, created)
	require.NotNil(t, updated)
}
