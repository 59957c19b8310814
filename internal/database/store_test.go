package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/graphgames/ttt/internal/models"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore connects to TEST_DATABASE_URL or skips.
func setupStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func TestStoreSessionAndMoves(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	gs, err := s.Create(ctx, 1, 7)
	require.NoError(t, err)
	assert.False(t, gs.Closed())

	for _, mv := range []string{models.MoveHand, "U", "T"} {
		_, err := s.Append(ctx, models.Move{UserID: 1, SessionID: gs.ID, Role: models.RoleCK, Payload: models.MovePayload{Move: mv}})
		require.NoError(t, err)
	}

	list, err := s.List(ctx, gs.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, models.MoveHand, list[0].Payload.Move)
	assert.True(t, list[2].Timestamp.After(list[1].Timestamp))

	recent, err := s.Recent(ctx, gs.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "T", recent[0].Payload.Move)

	n, err := s.CountPlayed(ctx, gs.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Close(ctx, gs.ID, time.Now(), n))
	got, err := s.Get(ctx, gs.ID)
	require.NoError(t, err)
	require.True(t, got.Closed())
	assert.Equal(t, 2, *got.Score)

	_, err = s.Get(ctx, -1)
	assert.ErrorIs(t, err, movelog.ErrSessionNotFound)
}

func TestStoreRecordMultiplayer(t *testing.T) {
	s := setupStore(t)
	mp, err := s.RecordMultiplayer(context.Background(), models.MultiplayerSession{
		GameTypeID: 7, SessionIDs: []int64{1, 2}, UserIDs: []int64{10, 20},
	})
	require.NoError(t, err)
	assert.NotZero(t, mp.ID)
}
