// Package fanout delivers signaling events to the peers in a room. It is
// deliberately small: a couple of delivery primitives over internal/peer
// and internal/room, plus log-and-continue semantics for a single slow
// or disconnected client.
package fanout

import (
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/room"
)

// Broadcaster fans signaling events out to room members.
type Broadcaster struct {
	membership *room.Membership
	peers      *peer.Registry
	logger     *zap.Logger
}

func New(membership *room.Membership, peers *peer.Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{membership: membership, peers: peers, logger: logger}
}

// ToRoomExceptSender delivers v to every peer in roomID other than
// senderID. A delivery failure to one peer (e.g. a full outbound queue)
// never blocks or aborts delivery to the rest.
func (b *Broadcaster) ToRoomExceptSender(roomID, senderID string, v any) {
	for _, p := range b.peers.InRoom(b.membership.PeerIDs(roomID)) {
		if p.ID == senderID {
			continue
		}
		b.send(p, v)
	}
}

// ToRoomIncludingSender delivers v to every peer in roomID, including the
// sender.
func (b *Broadcaster) ToRoomIncludingSender(roomID string, v any) {
	for _, p := range b.peers.InRoom(b.membership.PeerIDs(roomID)) {
		b.send(p, v)
	}
}

// ToPeer delivers v to exactly one peer, if it's still registered.
func (b *Broadcaster) ToPeer(peerID string, v any) {
	p, ok := b.peers.Get(peerID)
	if !ok {
		return
	}
	b.send(p, v)
}

func (b *Broadcaster) send(p *peer.Peer, v any) {
	if err := p.Conn.Send(v); err != nil {
		b.logger.Warn("dropping event to peer", zap.String("peer_id", p.ID), zap.Error(err))
	}
}
