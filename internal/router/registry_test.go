package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/engine/fakeengine"
	"github.com/mossy-p/sfu-core/internal/metrics"
	"github.com/mossy-p/sfu-core/internal/workerpool"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	pool := newFakePool(t)
	return New(pool, zap.NewNop())
}

func newFakePool(t *testing.T) *workerpool.Pool {
	t.Helper()
	pool, err := newWorkerPool(t)
	require.NoError(t, err)
	return pool
}

func newWorkerPool(t *testing.T) (*workerpool.Pool, error) {
	t.Helper()
	return workerpool.New(context.Background(), 2, 20000, 1000, fakeengine.New(), zap.NewNop(), metrics.NewCollector())
}

func TestGetOrCreateReturnsSameRouterForSameRoom(t *testing.T) {
	reg := newTestRegistry(t)

	r1, err := reg.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)

	assert.Same(t, r1, r2)
}

func TestGetOrCreateConcurrentCallsCoalesce(t *testing.T) {
	reg := newTestRegistry(t)
	const n = 20

	var wg sync.WaitGroup
	routers := make([]engine.Router, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.GetOrCreate(context.Background(), "sameroom")
			require.NoError(t, err)
			routers[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, routers[0], routers[i], "singleflight must coalesce concurrent creates into one router")
	}
}

func TestGetOrCreateDifferentRoomsGetDifferentRouters(t *testing.T) {
	reg := newTestRegistry(t)

	r1, err := reg.GetOrCreate(context.Background(), "roomA")
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(context.Background(), "roomB")
	require.NoError(t, err)

	assert.NotSame(t, r1, r2)
}

func TestCleanupRemovesRoomAndClosesRouter(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)

	reg.Cleanup("room1")

	_, ok := reg.Get("room1")
	assert.False(t, ok)
}

func TestProducerIndexRegisterUnregisterOthersOf(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)

	reg.Register("room1", "prod1", "peerA", engine.KindAudio, "Alice")
	reg.Register("room1", "prod2", "peerB", engine.KindVideo, "Bob")

	others := reg.OthersOf("room1", "peerA")
	assert.Len(t, others, 1)
	assert.Equal(t, "prod2", others[0].ProducerID)

	reg.Unregister("room1", "prod2")
	others = reg.OthersOf("room1", "peerA")
	assert.Empty(t, others)
}

func TestStatsExcludesPeerCount(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	reg.Register("room1", "prod1", "peerA", engine.KindAudio, "Alice")

	stats, ok := reg.Stats("room1")
	require.True(t, ok)
	assert.Equal(t, 1, stats.ProducerCount)
	assert.True(t, stats.Uptime >= 0)
	assert.WithinDuration(t, time.Now(), stats.CreatedAt, time.Second)
}

func TestIsRoomFull(t *testing.T) {
	assert.False(t, IsRoomFull(149, 150))
	assert.True(t, IsRoomFull(150, 150))
	assert.False(t, IsRoomFull(5, 0), "zero/negative maxPeers falls back to the default of 150")
	assert.True(t, IsRoomFull(150, -1))
}
