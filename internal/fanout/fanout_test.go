package fanout

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/room"
)

type fakeSender struct {
	sent []any
	err  error
}

func (f *fakeSender) Send(v any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func setup(t *testing.T) (*Broadcaster, *room.Membership, *peer.Registry) {
	t.Helper()
	m := room.New()
	peers := peer.NewRegistry()
	return New(m, peers, zap.NewNop()), m, peers
}

func TestToRoomExceptSenderSkipsSender(t *testing.T) {
	b, m, peers := setup(t)
	_, _ = m.Join("room1", "peerA")
	_, _ = m.Join("room1", "peerB")

	senderConn := &fakeSender{}
	otherConn := &fakeSender{}
	peers.Add(peer.New("peerA", "", "Alice", "room1", senderConn, false))
	peers.Add(peer.New("peerB", "", "Bob", "room1", otherConn, false))

	b.ToRoomExceptSender("room1", "peerA", "hello")

	assert.Empty(t, senderConn.sent)
	require.Len(t, otherConn.sent, 1)
	assert.Equal(t, "hello", otherConn.sent[0])
}

func TestToRoomIncludingSenderDeliversToEveryone(t *testing.T) {
	b, m, peers := setup(t)
	_, _ = m.Join("room1", "peerA")
	_, _ = m.Join("room1", "peerB")

	connA := &fakeSender{}
	connB := &fakeSender{}
	peers.Add(peer.New("peerA", "", "Alice", "room1", connA, false))
	peers.Add(peer.New("peerB", "", "Bob", "room1", connB, false))

	b.ToRoomIncludingSender("room1", "event")

	assert.Len(t, connA.sent, 1)
	assert.Len(t, connB.sent, 1)
}

func TestToPeerUnknownPeerIsNoOp(t *testing.T) {
	b, _, _ := setup(t)
	assert.NotPanics(t, func() { b.ToPeer("ghost", "event") })
}

func TestSendFailureDoesNotAbortRemainingDeliveries(t *testing.T) {
	b, m, peers := setup(t)
	_, _ = m.Join("room1", "peerA")
	_, _ = m.Join("room1", "peerB")

	failing := &fakeSender{err: errors.New("queue full")}
	ok := &fakeSender{}
	peers.Add(peer.New("peerA", "", "Alice", "room1", failing, false))
	peers.Add(peer.New("peerB", "", "Bob", "room1", ok, false))

	assert.NotPanics(t, func() { b.ToRoomIncludingSender("room1", "event") })
	assert.Len(t, ok.sent, 1)
}
