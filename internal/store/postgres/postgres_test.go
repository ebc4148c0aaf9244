package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kuhhandel/pkg/types"
)

func TestPostgres_SaveLoad(t *testing.T) {
	dsn := os.Getenv("KH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KH_TEST_DATABASE_URL not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	room := "test-" + uuid.NewString()

	_, found, err := s.Load(ctx, room)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, room, types.Snapshot{StateVersion: 2, Phase: "turn.choice"}))
	require.NoError(t, s.Save(ctx, room, types.Snapshot{StateVersion: 1, Phase: "setup"}))

	got, found, err := s.Load(ctx, room)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), got.StateVersion)
	assert.Equal(t, "turn.choice", got.Phase)
}
