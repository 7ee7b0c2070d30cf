package cleanup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/engine/fakeengine"
	"github.com/mossy-p/sfu-core/internal/fanout"
	"github.com/mossy-p/sfu-core/internal/metrics"
	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/room"
	"github.com/mossy-p/sfu-core/internal/router"
	"github.com/mossy-p/sfu-core/internal/workerpool"
)

type fakeSender struct{ sent []any }

func (f *fakeSender) Send(v any) error {
	f.sent = append(f.sent, v)
	return nil
}

type harness struct {
	coord      *Coordinator
	membership *room.Membership
	peers      *peer.Registry
	routers    *router.Registry
	pool       *workerpool.Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pool, err := workerpool.New(context.Background(), 2, 20000, 1000, fakeengine.New(), zap.NewNop(), metrics.NewCollector())
	require.NoError(t, err)

	routers := router.New(pool, zap.NewNop())
	membership := room.New()
	peers := peer.NewRegistry()
	broadcaster := fanout.New(membership, peers, zap.NewNop())
	coord := New(peers, membership, routers, pool, broadcaster, zap.NewNop())

	return &harness{coord: coord, membership: membership, peers: peers, routers: routers, pool: pool}
}

func TestCleanupPeerIsIdempotent(t *testing.T) {
	h := newHarness(t)
	_, err := h.routers.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	_, _ = h.membership.Join("room1", "peerA")
	p := peer.New("peerA", "", "Alice", "room1", &fakeSender{}, true)
	h.peers.Add(p)

	h.coord.CleanupPeer("peerA")
	assert.False(t, h.membership.Exists("room1"))

	// Second call must be a no-op: peer already removed from the registry.
	assert.NotPanics(t, func() { h.coord.CleanupPeer("peerA") })
}

func TestCleanupPeerUnregistersProducersAndRemovesPeer(t *testing.T) {
	h := newHarness(t)
	rtr, err := h.routers.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	_, _ = h.membership.Join("room1", "peerA")

	conn := &fakeSender{}
	p := peer.New("peerA", "", "Alice", "room1", conn, true)
	h.peers.Add(p)

	transport, err := rtr.CreateWebRTCTransport(context.Background(), engine.TransportOptions{})
	require.NoError(t, err)
	p.AddSendTransport(transport)

	producer, err := transport.Produce(context.Background(), engine.ProduceParameters{Kind: engine.KindAudio})
	require.NoError(t, err)
	p.AddProducer(producer)
	h.routers.Register("room1", producer.ID(), "peerA", engine.KindAudio, "Alice")

	workerPID, _ := h.routers.WorkerPID("room1")
	h.pool.UpdateLoad(workerPID, engine.CounterProducers, 1)

	h.coord.CleanupPeer("peerA")

	others := h.routers.OthersOf("room1", "someoneElse")
	assert.Empty(t, others, "producer index entry should be removed on cleanup")

	_, ok := h.peers.Get("peerA")
	assert.False(t, ok)
}

func TestCleanupPeerTearsDownEmptyRoom(t *testing.T) {
	h := newHarness(t)
	_, err := h.routers.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	_, _ = h.membership.Join("room1", "peerA")
	h.peers.Add(peer.New("peerA", "", "Alice", "room1", &fakeSender{}, true))

	h.coord.CleanupPeer("peerA")

	assert.False(t, h.membership.Exists("room1"))
	_, ok := h.routers.Get("room1")
	assert.False(t, ok, "the room's router should be closed and removed once the last peer leaves")
}

func TestCleanupRoomTearsDownEveryPeer(t *testing.T) {
	h := newHarness(t)
	_, err := h.routers.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	_, _ = h.membership.Join("room1", "peerA")
	_, _ = h.membership.Join("room1", "peerB")
	h.peers.Add(peer.New("peerA", "", "Alice", "room1", &fakeSender{}, true))
	h.peers.Add(peer.New("peerB", "", "Bob", "room1", &fakeSender{}, false))

	h.coord.CleanupRoom(context.Background(), "room1")

	assert.False(t, h.membership.Exists("room1"))
	_, ok := h.peers.Get("peerA")
	assert.False(t, ok)
	_, ok = h.peers.Get("peerB")
	assert.False(t, ok)
}
