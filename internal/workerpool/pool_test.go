package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/engine/fakeengine"
	"github.com/mossy-p/sfu-core/internal/metrics"
)

func newTestPool(t *testing.T, n int) (*Pool, *fakeengine.Engine) {
	t.Helper()
	eng := fakeengine.New()
	pool, err := New(context.Background(), n, 20000, 1000, eng, zap.NewNop(), metrics.NewCollector(), WithBackoff(10*time.Millisecond))
	require.NoError(t, err)
	return pool, eng
}

func TestPoolPortRangesDisjointAndCoverRange(t *testing.T) {
	pool, _ := newTestPool(t, 4)
	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		pr := pool.portRangeFor(i)
		for port := pr.Min; port <= pr.Max; port++ {
			assert.False(t, seen[port], "port %d assigned twice", port)
			seen[port] = true
		}
	}
	assert.True(t, seen[20000])
	assert.True(t, seen[23999])
	assert.False(t, seen[24000])
}

func TestPoolMinimumTwoWorkers(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	assert.Equal(t, 2, pool.Size())
}

func TestGetLeastLoadedPrefersLowerScore(t *testing.T) {
	pool, _ := newTestPool(t, 3)

	w, err := pool.GetLeastLoaded()
	require.NoError(t, err)
	first := w.PID()

	// Load up the first worker so it's no longer least-loaded.
	pool.UpdateLoad(first, engine.CounterRouters, 1)

	w2, err := pool.GetLeastLoaded()
	require.NoError(t, err)
	assert.NotEqual(t, first, w2.PID())
}

func TestGetLeastLoadedTieBrokenByFirstEncountered(t *testing.T) {
	pool, _ := newTestPool(t, 3)
	w, err := pool.GetLeastLoaded()
	require.NoError(t, err)

	// All workers score 0; first-encountered in insertion order wins.
	assert.Equal(t, pool.order[0], w.PID())
}

func TestRoundRobinCyclesThroughAllWorkers(t *testing.T) {
	pool, _ := newTestPool(t, 3)
	seen := map[engine.WorkerPID]int{}
	for i := 0; i < 6; i++ {
		w, err := pool.RoundRobin()
		require.NoError(t, err)
		seen[w.PID()]++
	}
	assert.Len(t, seen, 3)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}

func TestLoadCountersNeverNegative(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	w, _ := pool.GetLeastLoaded()
	pool.UpdateLoad(w.PID(), engine.CounterTransports, -5)

	pool.mu.Lock()
	v := pool.byPID[w.PID()].load.transports
	pool.mu.Unlock()
	assert.Equal(t, 0, v)
}

func TestWorkerDeathTriggersRestartWithSamePortRange(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	w, err := pool.GetLeastLoaded()
	require.NoError(t, err)
	deadPID := w.PID()
	deadRange := w.PortRange()

	fakeWorker := w.(*fakeengine.Worker)
	fakeWorker.Kill()

	require.Eventually(t, func() bool {
		return pool.Size() == 2
	}, time.Second, 5*time.Millisecond)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	for pid, e := range pool.byPID {
		if pid == deadPID {
			t.Fatalf("dead worker %s still present", deadPID)
		}
		if e.worker.PortRange() == deadRange && pid != deadPID {
			return // replacement worker reused the same range
		}
	}
	t.Fatalf("no replacement worker found with port range %+v", deadRange)
}

func TestFatalWhenPoolEmptyAtRestartTime(t *testing.T) {
	eng := fakeengine.New()
	var fatalCalled atomic.Bool

	// Use an engine that fails every CreateWorker call after the initial
	// two, so every restart attempt fails and the pool goes empty.
	failing := &failAfterNEngine{inner: eng, failAfter: 2}

	pool, err := New(context.Background(), 2, 20000, 1000, failing, zap.NewNop(), metrics.NewCollector(),
		WithBackoff(5*time.Millisecond),
		WithOnFatal(func() { fatalCalled.Store(true) }),
	)
	require.NoError(t, err)

	pool.mu.Lock()
	workers := make([]engine.Worker, 0, len(pool.byPID))
	for _, e := range pool.byPID {
		workers = append(workers, e.worker)
	}
	pool.mu.Unlock()

	for _, w := range workers {
		w.(*fakeengine.Worker).Kill()
	}

	require.Eventually(t, func() bool {
		return fatalCalled.Load()
	}, time.Second, 5*time.Millisecond)
}

// failAfterNEngine fails CreateWorker once more than failAfter workers have
// been created, simulating an engine that can no longer spawn workers.
type failAfterNEngine struct {
	inner     engine.Engine
	failAfter int
	created   atomic.Int32
}

func (f *failAfterNEngine) CreateWorker(ctx context.Context, pr engine.PortRange) (engine.Worker, error) {
	if int(f.created.Load()) >= f.failAfter {
		return nil, assertErr{}
	}
	f.created.Add(1)
	return f.inner.CreateWorker(ctx, pr)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated engine failure" }
