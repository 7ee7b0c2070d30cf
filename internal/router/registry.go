// Package router owns the one-router-per-room mapping plus each room's
// live producer index, using a lazy getOrCreate-session pattern.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/workerpool"
)

// ProducerEntry is one row of a room's producer index.
type ProducerEntry struct {
	ProducerID string
	PeerID     string
	Kind       engine.MediaKind
	UserName   string
}

// Stats is a room's read-only producer/uptime snapshot. It deliberately
// excludes peerCount: peer membership is owned by internal/room, not this
// registry, so callers compose the two.
type Stats struct {
	ProducerCount int
	CreatedAt     time.Time
	Uptime        time.Duration
}

type roomEntry struct {
	router    engine.Router
	workerPID engine.WorkerPID
	createdAt time.Time

	mu        sync.RWMutex
	producers map[string]ProducerEntry
}

// Registry maps room id -> router + live producer index. At most one
// router exists per room id at any time (single-instance invariant);
// concurrent GetOrCreate calls for the same room id are coalesced with
// singleflight so they never race-construct two routers.
type Registry struct {
	pool   *workerpool.Pool
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*roomEntry

	sf singleflight.Group
}

func New(pool *workerpool.Pool, logger *zap.Logger) *Registry {
	return &Registry{
		pool:   pool,
		logger: logger,
		rooms:  make(map[string]*roomEntry),
	}
}

// GetOrCreate is idempotent: concurrent calls with the same roomID yield
// the same router.
func (r *Registry) GetOrCreate(ctx context.Context, roomID string) (engine.Router, error) {
	if existing, ok := r.get(roomID); ok {
		return existing.router, nil
	}

	v, err, _ := r.sf.Do(roomID, func() (interface{}, error) {
		if existing, ok := r.get(roomID); ok {
			return existing, nil
		}
		return r.create(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*roomEntry).router, nil
}

func (r *Registry) create(ctx context.Context, roomID string) (*roomEntry, error) {
	worker, err := r.pool.GetLeastLoaded()
	if err != nil {
		return nil, fmt.Errorf("router registry: placing room %q: %w", roomID, err)
	}

	rtr, err := worker.CreateRouter(ctx, engine.MediaCodecs)
	if err != nil {
		return nil, fmt.Errorf("router registry: creating router for room %q: %w", roomID, err)
	}

	entry := &roomEntry{
		router:    rtr,
		workerPID: worker.PID(),
		createdAt: time.Now(),
		producers: make(map[string]ProducerEntry),
	}

	r.pool.UpdateLoad(worker.PID(), engine.CounterRouters, 1)
	r.logger.Info("router created", zap.String("room_id", roomID), zap.String("worker_pid", string(worker.PID())))

	go r.observe(roomID, entry)

	r.mu.Lock()
	r.rooms[roomID] = entry
	r.mu.Unlock()

	return entry, nil
}

// observe wires a room's observer hooks: on each new transport, increment
// the worker's transport counter, and on that transport's close,
// decrement it; on router close, decrement the router counter.
func (r *Registry) observe(roomID string, entry *roomEntry) {
	for ev := range entry.router.Events() {
		switch ev.Kind {
		case engine.RouterNewTransport:
			r.pool.UpdateLoad(entry.workerPID, engine.CounterTransports, 1)
			go r.watchTransport(entry.workerPID, ev.Transport)
		case engine.RouterClosed:
			r.pool.UpdateLoad(entry.workerPID, engine.CounterRouters, -1)
		}
	}
}

func (r *Registry) watchTransport(workerPID engine.WorkerPID, t engine.Transport) {
	for ev := range t.Events() {
		if ev.Kind == engine.TransportClosed {
			r.pool.UpdateLoad(workerPID, engine.CounterTransports, -1)
			return
		}
	}
}

// Get is a pure lookup.
func (r *Registry) Get(roomID string) (engine.Router, bool) {
	entry, ok := r.get(roomID)
	if !ok {
		return nil, false
	}
	return entry.router, true
}

func (r *Registry) get(roomID string) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[roomID]
	return e, ok
}

// WorkerPID returns the worker a room's router is placed on.
func (r *Registry) WorkerPID(roomID string) (engine.WorkerPID, bool) {
	entry, ok := r.get(roomID)
	if !ok {
		return "", false
	}
	return entry.workerPID, true
}

// Cleanup closes the room's router (cascading in the media engine), clears
// its producer index, and removes the room entry.
func (r *Registry) Cleanup(roomID string) {
	r.mu.Lock()
	entry, ok := r.rooms[roomID]
	if ok {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := entry.router.Close(); err != nil {
		r.logger.Warn("router close failed during cleanup", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Register adds a producer to a room's producer index.
func (r *Registry) Register(roomID, producerID, peerID string, kind engine.MediaKind, userName string) {
	entry, ok := r.get(roomID)
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.producers[producerID] = ProducerEntry{ProducerID: producerID, PeerID: peerID, Kind: kind, UserName: userName}
	entry.mu.Unlock()
}

// Unregister removes a producer from a room's producer index.
func (r *Registry) Unregister(roomID, producerID string) {
	entry, ok := r.get(roomID)
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.producers, producerID)
	entry.mu.Unlock()
}

// OthersOf returns all producer entries in roomID whose peer isn't
// excludePeerID, order unspecified.
func (r *Registry) OthersOf(roomID, excludePeerID string) []ProducerEntry {
	entry, ok := r.get(roomID)
	if !ok {
		return nil
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	out := make([]ProducerEntry, 0, len(entry.producers))
	for _, p := range entry.producers {
		if p.PeerID != excludePeerID {
			out = append(out, p)
		}
	}
	return out
}

// Stats returns the read-only room stats this registry owns.
func (r *Registry) Stats(roomID string) (Stats, bool) {
	entry, ok := r.get(roomID)
	if !ok {
		return Stats{}, false
	}
	entry.mu.RLock()
	producerCount := len(entry.producers)
	entry.mu.RUnlock()

	return Stats{
		ProducerCount: producerCount,
		CreatedAt:     entry.createdAt,
		Uptime:        time.Since(entry.createdAt),
	}, true
}

// IsRoomFull reports whether peerCount has reached maxPeers (default
// 150). Peer membership is owned by internal/room; this is pure
// comparison logic kept here so callers have one obvious home for the
// "room is full" rule.
func IsRoomFull(peerCount, maxPeers int) bool {
	if maxPeers <= 0 {
		maxPeers = 150
	}
	return peerCount >= maxPeers
}
