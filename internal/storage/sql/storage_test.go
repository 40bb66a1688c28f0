package sqlstorage

import (
	"context"
	"os"
	"testing"

	"github.com/Fuchsoria/banditucb/internal/storage"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	dsn := os.Getenv("TESTS_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TESTS_POSTGRES_DSN is not set")
	}

	ctx := context.Background()

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	t.Run("test save and load snapshots", func(t *testing.T) {
		key := uuid.NewString()
		items := []storage.SnapshotItem{{Key: key, Payload: []byte{0, 2, 1}}}

		require.NoError(t, s.SaveSnapshots(ctx, items))

		got, err := s.LoadSnapshots(ctx)
		require.NoError(t, err)
		require.Equal(t, items, got)
	})

	t.Run("test save replaces previous snapshot", func(t *testing.T) {
		items := []storage.SnapshotItem{
			{Key: "a-" + uuid.NewString(), Payload: []byte{0, 1}},
			{Key: "b-" + uuid.NewString(), Payload: []byte{0, 3}},
		}

		require.NoError(t, s.SaveSnapshots(ctx, items))
		require.NoError(t, s.SaveSnapshots(ctx, items[1:]))

		got, err := s.LoadSnapshots(ctx)
		require.NoError(t, err)
		require.Equal(t, items[1:], got)
	})
}
