// Package peer holds per-connection state for one signaling client: its
// transports, producers, consumers and the flags the room UI needs.
// Generalized from a plain DTO shape into a live registry entry that
// also serializes handler invocations for its own peer.
package peer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// Sender is the minimal send-side of a peer's signaling transport. It is
// satisfied by internal/transport/ws's connection wrapper; kept as an
// interface here so internal/peer never imports gorilla/websocket.
type Sender interface {
	Send(v any) error
}

// Flags mirrors the UI-facing toggles a room's participant list needs.
type Flags struct {
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
	HandRaised    bool
	IsOwner       bool
}

// Peer is one connected signaling client.
type Peer struct {
	ID       string
	UserID   string
	UserName string
	RoomID   string
	Conn     Sender
	JoinedAt time.Time

	// mu serializes handler invocations for this peer, so two concurrent
	// messages from the same socket can never interleave their effects
	// on this peer's own state.
	mu sync.Mutex

	// cleanedUp guards against the cleanup cascade running twice for the
	// same peer when both the websocket close path and an explicit
	// leaveRoom/endMeeting message race to tear it down.
	cleanedUp atomic.Bool

	flags Flags

	sendTransports map[string]engine.Transport
	recvTransports map[string]engine.Transport
	lastRecv       engine.Transport
	producers      map[string]engine.Producer
	consumers      map[string]engine.Consumer
}

func New(id, userID, userName, roomID string, conn Sender, isOwner bool) *Peer {
	return &Peer{
		ID:             id,
		UserID:         userID,
		UserName:       userName,
		RoomID:         roomID,
		Conn:           conn,
		JoinedAt:       time.Now(),
		flags:          Flags{IsOwner: isOwner},
		sendTransports: make(map[string]engine.Transport),
		recvTransports: make(map[string]engine.Transport),
		producers:      make(map[string]engine.Producer),
		consumers:      make(map[string]engine.Consumer),
	}
}

// Lock/Unlock expose the per-peer handler mutex to the dispatcher, which
// wraps every message handler invocation in it.
func (p *Peer) Lock()   { p.mu.Lock() }
func (p *Peer) Unlock() { p.mu.Unlock() }

func (p *Peer) Flags() Flags { return p.flags }

// MarkCleanedUp reports whether this call is the first to mark the peer
// for teardown; subsequent calls return false.
func (p *Peer) MarkCleanedUp() bool { return p.cleanedUp.CompareAndSwap(false, true) }

func (p *Peer) SetIsOwner(v bool)       { p.flags.IsOwner = v }
func (p *Peer) SetHandRaised(v bool)    { p.flags.HandRaised = v }
func (p *Peer) SetAudioEnabled(v bool)  { p.flags.AudioEnabled = v }
func (p *Peer) SetVideoEnabled(v bool)  { p.flags.VideoEnabled = v }
func (p *Peer) SetScreenSharing(v bool) { p.flags.ScreenSharing = v }

func (p *Peer) AddSendTransport(t engine.Transport) { p.sendTransports[t.ID()] = t }
func (p *Peer) AddRecvTransport(t engine.Transport) {
	p.recvTransports[t.ID()] = t
	p.lastRecv = t
}

// Transport finds a transport owned by this peer regardless of direction.
func (p *Peer) Transport(id string) (engine.Transport, bool) {
	if t, ok := p.sendTransports[id]; ok {
		return t, true
	}
	t, ok := p.recvTransports[id]
	return t, ok
}

// LastRecvTransport returns the most recently created recv transport,
// used as the fallback target for consume when the client doesn't name
// a transport explicitly.
func (p *Peer) LastRecvTransport() (engine.Transport, bool) {
	return p.lastRecv, p.lastRecv != nil
}

func (p *Peer) Transports() []engine.Transport {
	out := make([]engine.Transport, 0, len(p.sendTransports)+len(p.recvTransports))
	for _, t := range p.sendTransports {
		out = append(out, t)
	}
	for _, t := range p.recvTransports {
		out = append(out, t)
	}
	return out
}

func (p *Peer) AddProducer(pr engine.Producer)  { p.producers[pr.ID()] = pr }
func (p *Peer) RemoveProducer(id string)        { delete(p.producers, id) }
func (p *Peer) Producer(id string) (engine.Producer, bool) {
	pr, ok := p.producers[id]
	return pr, ok
}
func (p *Peer) Producers() []engine.Producer {
	out := make([]engine.Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		out = append(out, pr)
	}
	return out
}

func (p *Peer) AddConsumer(c engine.Consumer) { p.consumers[c.ID()] = c }
func (p *Peer) RemoveConsumer(id string)      { delete(p.consumers, id) }
func (p *Peer) Consumer(id string) (engine.Consumer, bool) {
	c, ok := p.consumers[id]
	return c, ok
}
func (p *Peer) Consumers() []engine.Consumer {
	out := make([]engine.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

// Registry maps peer id -> Peer across all rooms.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
}

func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// InRoom returns the live Peer objects for a room's peer ids. Callers
// typically get ids from internal/room.Membership.PeerIDs and resolve them
// here since Membership itself holds no Peer state.
func (r *Registry) InRoom(ids []string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.peers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
