// Package cleanup runs the teardown cascade for a departed peer: closing
// its consumers, producers, and transports, removing it from room
// membership, tearing the room down if it's now empty, and finally
// removing the peer from the registry.
package cleanup

import (
	"context"

	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/fanout"
	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/room"
	"github.com/mossy-p/sfu-core/internal/router"
	"github.com/mossy-p/sfu-core/internal/workerpool"
)

type Coordinator struct {
	peers      *peer.Registry
	membership *room.Membership
	routers    *router.Registry
	pool       *workerpool.Pool
	broadcaster *fanout.Broadcaster
	logger     *zap.Logger
}

func New(peers *peer.Registry, membership *room.Membership, routers *router.Registry, pool *workerpool.Pool, broadcaster *fanout.Broadcaster, logger *zap.Logger) *Coordinator {
	return &Coordinator{peers: peers, membership: membership, routers: routers, pool: pool, broadcaster: broadcaster, logger: logger}
}

// CleanupPeer runs the full teardown cascade for peerID. It is idempotent:
// a peer can only be cleaned up once, guarded by Peer.MarkCleanedUp, since
// both a websocket close and an explicit leaveRoom/disconnect message can
// race to trigger it.
func (c *Coordinator) CleanupPeer(peerID string) {
	p, ok := c.peers.Get(peerID)
	if !ok {
		return
	}
	if !p.MarkCleanedUp() {
		return
	}

	roomID := p.RoomID
	workerPID, hasWorker := c.routers.WorkerPID(roomID)

	// 1. close consumers
	for _, cons := range p.Consumers() {
		_ = cons.Close()
		if hasWorker {
			c.pool.UpdateLoad(workerPID, engine.CounterConsumers, -1)
		}
	}

	// 2. close producers, unregister from the room's producer index, tell
	// the rest of the room they're gone
	for _, prod := range p.Producers() {
		_ = prod.Close()
		c.routers.Unregister(roomID, prod.ID())
		if hasWorker {
			c.pool.UpdateLoad(workerPID, engine.CounterProducers, -1)
		}
		c.broadcaster.ToRoomExceptSender(roomID, peerID, map[string]any{
			"type": "producerClosed",
			"payload": map[string]any{"producerId": prod.ID(), "peerId": peerID},
		})
	}

	// 3. close transports
	for _, t := range p.Transports() {
		_ = t.Close()
	}

	// 4. tell the rest of the room this peer left, then drop membership
	c.broadcaster.ToRoomExceptSender(roomID, peerID, map[string]any{
		"type":    "peerLeft",
		"payload": map[string]any{"peerId": peerID},
	})

	remaining, empty := c.membership.Leave(roomID, peerID)
	c.logger.Info("peer left room", zap.String("peer_id", peerID), zap.String("room_id", roomID), zap.Int("remaining", remaining))

	// 5. room cleanup if empty
	if empty {
		c.routers.Cleanup(roomID)
		c.membership.Delete(roomID)
		c.logger.Info("room emptied", zap.String("room_id", roomID))
	}

	// 6. remove from the peer registry
	c.peers.Remove(peerID)
}

// CleanupRoom ends a meeting for every peer currently in roomID, used by
// the endMeeting handler (owner-only).
func (c *Coordinator) CleanupRoom(ctx context.Context, roomID string) {
	for _, p := range c.peers.InRoom(c.membership.PeerIDs(roomID)) {
		c.CleanupPeer(p.ID)
	}
}
