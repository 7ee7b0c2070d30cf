// Package room tracks which peers belong to which room and who the room's
// owner is. It owns no media state — that's internal/router and
// internal/peer — only membership and ownership.
package room

import (
	"sync"
	"time"
)

const DefaultMaxPeers = 150

type roomState struct {
	peers     map[string]struct{}
	ownerID   string
	createdAt time.Time
}

// Membership maps room id -> peer id set + owner. The first peer to join a
// room becomes its owner and ownership is never reassigned, even if the
// owner later leaves — there is no transfer-of-ownership mechanism.
type Membership struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

func New() *Membership {
	return &Membership{rooms: make(map[string]*roomState)}
}

// Join adds peerID to roomID, creating the room if it doesn't exist yet.
// It returns whether peerID is the room's owner (true only the first time
// a room is created). The method's own lock is what gives concurrent
// joins to the same room a total order: lock, mutate, snapshot ownership,
// unlock.
func (m *Membership) Join(roomID, peerID string) (isOwner bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		rs = &roomState{
			peers:     make(map[string]struct{}),
			ownerID:   peerID,
			createdAt: time.Now(),
		}
		m.rooms[roomID] = rs
		isOwner = true
	}
	rs.peers[peerID] = struct{}{}
	return isOwner, nil
}

// Leave removes peerID from roomID. It reports the number of peers
// remaining and whether the room is now empty; the caller is responsible
// for deleting the room via Delete once it decides the room should be
// torn down.
func (m *Membership) Leave(roomID, peerID string) (remaining int, empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return 0, true
	}
	delete(rs.peers, peerID)
	remaining = len(rs.peers)
	return remaining, remaining == 0
}

// Delete removes a room's membership record entirely.
func (m *Membership) Delete(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

// Owner returns roomID's owner peer id.
func (m *Membership) Owner(roomID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return "", false
	}
	return rs.ownerID, true
}

// PeerIDs returns a snapshot of roomID's current peer ids.
func (m *Membership) PeerIDs(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rs.peers))
	for id := range rs.peers {
		out = append(out, id)
	}
	return out
}

// PeerCount returns the number of peers currently in roomID.
func (m *Membership) PeerCount(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return 0
	}
	return len(rs.peers)
}

// Exists reports whether roomID currently has a membership record.
func (m *Membership) Exists(roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok
}

// CreatedAt returns when roomID's membership record was first created.
func (m *Membership) CreatedAt(roomID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return time.Time{}, false
	}
	return rs.createdAt, true
}
