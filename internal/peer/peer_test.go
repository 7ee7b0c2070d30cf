package peer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/engine/fakeengine"
)

type fakeSender struct {
	sent []any
}

func (f *fakeSender) Send(v any) error {
	f.sent = append(f.sent, v)
	return nil
}

func newTestRouter(t *testing.T) engine.Router {
	t.Helper()
	eng := fakeengine.New()
	w, err := eng.CreateWorker(context.Background(), engine.PortRange{Min: 20000, Max: 20999})
	require.NoError(t, err)
	r, err := w.CreateRouter(context.Background(), engine.MediaCodecs)
	require.NoError(t, err)
	return r
}

func TestMarkCleanedUpOnlyFirstCallerWins(t *testing.T) {
	p := New("peer1", "user1", "Alice", "room1", &fakeSender{}, false)

	assert.True(t, p.MarkCleanedUp())
	assert.False(t, p.MarkCleanedUp())
	assert.False(t, p.MarkCleanedUp())
}

func TestLastRecvTransportFallsBackToMostRecentlyCreated(t *testing.T) {
	p := New("peer1", "user1", "Alice", "room1", &fakeSender{}, false)
	r := newTestRouter(t)

	_, ok := p.LastRecvTransport()
	assert.False(t, ok, "no recv transport yet")

	t1, err := r.CreateWebRTCTransport(context.Background(), engine.TransportOptions{})
	require.NoError(t, err)
	p.AddRecvTransport(t1)

	t2, err := r.CreateWebRTCTransport(context.Background(), engine.TransportOptions{})
	require.NoError(t, err)
	p.AddRecvTransport(t2)

	last, ok := p.LastRecvTransport()
	require.True(t, ok)
	assert.Equal(t, t2.ID(), last.ID())
}

func TestTransportLooksUpEitherDirection(t *testing.T) {
	p := New("peer1", "user1", "Alice", "room1", &fakeSender{}, false)
	r := newTestRouter(t)

	send, err := r.CreateWebRTCTransport(context.Background(), engine.TransportOptions{})
	require.NoError(t, err)
	p.AddSendTransport(send)

	found, ok := p.Transport(send.ID())
	require.True(t, ok)
	assert.Equal(t, send.ID(), found.ID())

	_, ok = p.Transport("does-not-exist")
	assert.False(t, ok)
}

func TestProducerAddRemove(t *testing.T) {
	p := New("peer1", "user1", "Alice", "room1", &fakeSender{}, false)
	r := newTestRouter(t)
	tr, err := r.CreateWebRTCTransport(context.Background(), engine.TransportOptions{})
	require.NoError(t, err)

	prod, err := tr.Produce(context.Background(), engine.ProduceParameters{Kind: engine.KindAudio})
	require.NoError(t, err)

	p.AddProducer(prod)
	found, ok := p.Producer(prod.ID())
	require.True(t, ok)
	assert.Equal(t, prod.ID(), found.ID())

	p.RemoveProducer(prod.ID())
	_, ok = p.Producer(prod.ID())
	assert.False(t, ok)
}

func TestRegistryAddGetRemove(t *testing.T) {
	reg := NewRegistry()
	p := New("peer1", "user1", "Alice", "room1", &fakeSender{}, true)
	reg.Add(p)

	found, ok := reg.Get("peer1")
	require.True(t, ok)
	assert.Equal(t, p, found)

	reg.Remove("peer1")
	_, ok = reg.Get("peer1")
	assert.False(t, ok)
}

func TestRegistryInRoomFiltersToKnownPeers(t *testing.T) {
	reg := NewRegistry()
	p1 := New("peer1", "user1", "Alice", "room1", &fakeSender{}, true)
	p2 := New("peer2", "user2", "Bob", "room1", &fakeSender{}, false)
	reg.Add(p1)
	reg.Add(p2)

	found := reg.InRoom([]string{"peer1", "peer2", "missing"})
	assert.Len(t, found, 2)
}
