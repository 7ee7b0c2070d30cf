// Package workerpool owns the media-engine worker processes, tracks their
// load, places new routers on the least-loaded worker, and recovers from
// worker death with a fixed back-off.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/metrics"
)

// ErrNoWorkersAvailable is raised by GetLeastLoaded/RoundRobin when the
// pool is empty.
var ErrNoWorkersAvailable = fmt.Errorf("no workers available")

type load struct {
	routers    int
	transports int
	consumers  int
	producers  int
}

// score weighs a worker's load as S(W) = 10*routers + transports + 0.5*consumers.
func (l load) score() float64 {
	return 10*float64(l.routers) + float64(l.transports) + 0.5*float64(l.consumers)
}

type entry struct {
	worker engine.Worker
	load   load
}

// Pool owns N media-engine workers and places routers on them.
type Pool struct {
	engine  engine.Engine
	logger  *zap.Logger
	metrics *metrics.Collector
	backoff time.Duration

	portRangeBase      int
	portRangePerWorker int

	// onFatal is called instead of os.Exit(1) so tests can observe the
	// fatal-on-empty-pool-at-restart-time condition without killing the
	// test process.
	onFatal func()

	mu sync.Mutex
	// order tracks insertion order for RoundRobin(); entries are
	// appended on create/restart and spliced out on death, so the cursor
	// stays valid without needing to search.
	order []engine.WorkerPID
	rrIdx int
	byPID map[engine.WorkerPID]*entry
}

// Option configures a Pool at construction time.
type Option func(*Pool)

func WithBackoff(d time.Duration) Option {
	return func(p *Pool) { p.backoff = d }
}

func WithOnFatal(fn func()) Option {
	return func(p *Pool) { p.onFatal = fn }
}

// New starts max(2, cpuCount)-equivalent workers — the caller decides n —
// worker i configured with RTC port range [base + i*perWorker, base +
// (i+1)*perWorker - 1], and subscribes to each worker's death signal.
func New(ctx context.Context, n int, portRangeBase, portRangePerWorker int, eng engine.Engine, logger *zap.Logger, metricsCollector *metrics.Collector, opts ...Option) (*Pool, error) {
	if n < 2 {
		n = 2
	}

	p := &Pool{
		engine:              eng,
		logger:              logger,
		metrics:             metricsCollector,
		backoff:             2 * time.Second,
		portRangeBase:       portRangeBase,
		portRangePerWorker:  portRangePerWorker,
		byPID:               make(map[engine.WorkerPID]*entry),
		onFatal: func() {
			os.Exit(1)
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < n; i++ {
		if err := p.spawn(ctx, p.portRangeFor(i)); err != nil {
			return nil, fmt.Errorf("workerpool: starting worker %d: %w", i, err)
		}
	}

	return p, nil
}

func (p *Pool) portRangeFor(index int) engine.PortRange {
	min := p.portRangeBase + p.portRangePerWorker*index
	return engine.PortRange{Min: min, Max: min + p.portRangePerWorker - 1}
}

func (p *Pool) spawn(ctx context.Context, pr engine.PortRange) error {
	w, err := p.engine.CreateWorker(ctx, pr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.byPID[w.PID()] = &entry{worker: w}
	p.order = append(p.order, w.PID())
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.WorkersAlive.Inc()
	}
	p.logger.Info("worker started", zap.String("worker_pid", string(w.PID())),
		zap.Int("port_min", pr.Min), zap.Int("port_max", pr.Max))

	go p.watch(ctx, w, pr)
	return nil
}

// watch blocks until the worker's death signal fires, then removes it from
// the pool and schedules a restart with the same port range after the
// configured back-off (2s by default).
func (p *Pool) watch(ctx context.Context, w engine.Worker, pr engine.PortRange) {
	for ev := range w.Events() {
		if ev.Kind != engine.WorkerDied {
			continue
		}
		p.onDeath(ctx, w.PID(), pr)
		return
	}
}

func (p *Pool) onDeath(ctx context.Context, pid engine.WorkerPID, pr engine.PortRange) {
	p.mu.Lock()
	delete(p.byPID, pid)
	p.order = removePID(p.order, pid)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.WorkersAlive.Dec()
		p.metrics.WorkerRestarts.Inc()
	}
	p.logger.Warn("worker died, scheduling restart",
		zap.String("worker_pid", string(pid)), zap.Duration("backoff", p.backoff))

	timer := time.NewTimer(p.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := p.spawn(ctx, pr); err != nil {
		p.logger.Error("worker restart failed", zap.Error(err))
		if p.isEmpty() {
			p.logger.Error("worker pool empty after failed restart, terminating process")
			p.onFatal()
		}
	}
}

func (p *Pool) isEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPID) == 0
}

func removePID(order []engine.WorkerPID, pid engine.WorkerPID) []engine.WorkerPID {
	out := order[:0]
	for _, existing := range order {
		if existing != pid {
			out = append(out, existing)
		}
	}
	return out
}

// GetLeastLoaded implements the load-aware placement policy: the worker
// with the smallest S(W), ties broken by first-encountered order.
func (p *Pool) GetLeastLoaded() (engine.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return nil, ErrNoWorkersAvailable
	}

	var best *entry
	var bestScore float64
	for _, pid := range p.order {
		e := p.byPID[pid]
		s := e.load.score()
		if best == nil || s < bestScore {
			best = e
			bestScore = s
		}
	}
	return best.worker, nil
}

// RoundRobin returns workers in cyclic order. Exists for test-harness use;
// the default placement uses GetLeastLoaded.
func (p *Pool) RoundRobin() (engine.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return nil, ErrNoWorkersAvailable
	}

	pid := p.order[p.rrIdx%len(p.order)]
	p.rrIdx++
	return p.byPID[pid].worker, nil
}

// UpdateLoad increments or decrements one of a worker's load counters.
func (p *Pool) UpdateLoad(pid engine.WorkerPID, counter engine.Counter, delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byPID[pid]
	if !ok {
		return
	}

	switch counter {
	case engine.CounterRouters:
		e.load.routers = clampNonNegative(e.load.routers + delta)
	case engine.CounterTransports:
		e.load.transports = clampNonNegative(e.load.transports + delta)
	case engine.CounterConsumers:
		e.load.consumers = clampNonNegative(e.load.consumers + delta)
	case engine.CounterProducers:
		e.load.producers = clampNonNegative(e.load.producers + delta)
	}

	if p.metrics != nil {
		label := string(pid)
		p.metrics.WorkerRouters.WithLabelValues(label).Set(float64(e.load.routers))
		p.metrics.WorkerTransports.WithLabelValues(label).Set(float64(e.load.transports))
		p.metrics.WorkerConsumers.WithLabelValues(label).Set(float64(e.load.consumers))
		p.metrics.WorkerProducers.WithLabelValues(label).Set(float64(e.load.producers))
	}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// Size returns the number of workers currently alive.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPID)
}
