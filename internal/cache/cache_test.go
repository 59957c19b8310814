package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/graphgames/ttt/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestPoolStoreAddTakeRemove(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	s := NewPoolStore(rdb)
	a := models.Candidate{UserID: 1, SessionID: 11}
	b := models.Candidate{UserID: 2, SessionID: 22}

	gen, created, err := s.Add(ctx, 7, a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, gen)
	again, created, err := s.Add(ctx, 7, b)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, gen, again)
	_, created, err = s.Add(ctx, 7, a)
	require.NoError(t, err)
	assert.False(t, created)

	members, err := s.Take(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []models.Candidate{a, b}, members)

	members, err = s.Take(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, members)

	_, _, err = s.Add(ctx, 8, a)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, 8, a))
	n, err := rdb.Exists(ctx, poolKey(8)).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "an emptied pool is deleted")
}

func TestPoolStoreTakeIfMatchesGeneration(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	s := NewPoolStore(rdb)
	a := models.Candidate{UserID: 1, SessionID: 11}
	b := models.Candidate{UserID: 2, SessionID: 22}

	oldGen, _, err := s.Add(ctx, 7, a)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, 7, a))
	newGen, created, err := s.Add(ctx, 7, b)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, oldGen, newGen)

	members, ok, err := s.TakeIf(ctx, 7, oldGen)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, members)

	members, ok, err = s.TakeIf(ctx, 7, newGen)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []models.Candidate{b}, members)
	n, err := rdb.Exists(ctx, poolKey(7)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoolStoreConcurrentAddCreatesOnce(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	s := NewPoolStore(rdb)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := s.Add(ctx, 3, models.Candidate{UserID: int64(i), SessionID: int64(i)})
			if err != nil {
				assert.ErrorIs(t, err, ErrContention)
				return
			}
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, creates)
}

func TestPoolStoreSweep(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	s := NewPoolStore(rdb)
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, _, err := s.Add(ctx, 1, models.Candidate{UserID: 1, SessionID: 1})
	require.NoError(t, err)
	s.now = time.Now
	_, _, err = s.Add(ctx, 2, models.Candidate{UserID: 2, SessionID: 2})
	require.NoError(t, err)

	n, err := s.Sweep(ctx, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fresh, err := s.Take(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestPairingAndRoutes(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	pairs := NewPairingStore(rdb)
	routes := NewRoutes(rdb)
	a := models.Candidate{UserID: 1, SessionID: 11}

	_, ok, err := pairs.Pairing(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)

	want := models.Pairing{Partner: models.Candidate{UserID: 2, SessionID: 22}}
	require.NoError(t, pairs.SetPairing(ctx, a, want))
	got, ok, err := pairs.Pairing(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, routes.Set(ctx, 11, "node-a"))
	node, ok, err := routes.Get(ctx, 11)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node-a", node)
	require.NoError(t, routes.Delete(ctx, 11))
	_, ok, err = routes.Get(ctx, 11)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBusDeliversToOwningNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, rdb := setupRedis(t)
	routes := NewRoutes(rdb)
	nodeA := NewBus(rdb, routes, "a")
	nodeB := NewBus(rdb, routes, "b")

	envs := make(chan models.Envelope, 4)
	matches := make(chan models.MatchResult, 4)
	l, err := nodeB.Subscribe(ctx)
	require.NoError(t, err)
	go l.Run(ctx,
		func(_ context.Context, env models.Envelope) { envs <- env },
		func(_ context.Context, res models.MatchResult) { matches <- res },
	)

	require.NoError(t, routes.Set(ctx, 22, "b"))
	ev := models.NewEvent(models.EventExternalMove, map[string]interface{}{"move": "U"})
	require.NoError(t, nodeA.Send(ctx, models.Envelope{SessionID: 22, Kind: models.KindClient, Event: &ev}))
	// No route: silently dropped.
	require.NoError(t, nodeA.Send(ctx, models.Envelope{SessionID: 99, Kind: models.KindClient, Event: &ev}))
	require.NoError(t, nodeA.PublishMatch(ctx, models.MatchResult{GameTypeID: 7}))

	select {
	case env := <-envs:
		assert.Equal(t, int64(22), env.SessionID)
		require.NotNil(t, env.Event)
		assert.Equal(t, models.EventExternalMove, env.Event.Type)
		assert.Equal(t, "U", env.Event.Payload["move"])
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
	select {
	case res := <-matches:
		assert.Equal(t, int64(7), res.GameTypeID)
	case <-time.After(2 * time.Second):
		t.Fatal("match result not delivered")
	}
	select {
	case env := <-envs:
		t.Fatalf("unexpected envelope %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}
