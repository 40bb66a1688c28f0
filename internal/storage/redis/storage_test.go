package redisstorage

import (
	"context"
	"os"
	"testing"

	"github.com/Fuchsoria/banditucb/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	addr := os.Getenv("TESTS_REDIS_ADDR")
	if addr == "" {
		t.Skip("TESTS_REDIS_ADDR is not set")
	}

	ctx := context.Background()

	s := New(addr, "", 0)
	s.hashKey = "banditucb:test:" + uuid.NewString()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	t.Run("test save and load snapshots", func(t *testing.T) {
		items := []storage.SnapshotItem{{Key: "home", Payload: []byte{0, 1, 0xff}}}

		require.NoError(t, s.SaveSnapshots(ctx, items))

		got, err := s.LoadSnapshots(ctx)
		require.NoError(t, err)
		require.Equal(t, items, got)

		require.NoError(t, s.SaveSnapshots(ctx, nil))
		got, err = s.LoadSnapshots(ctx)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}
