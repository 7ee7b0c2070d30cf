package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/apperrors"
	"github.com/mossy-p/sfu-core/internal/cleanup"
	"github.com/mossy-p/sfu-core/internal/events"
	"github.com/mossy-p/sfu-core/internal/fanout"
	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/room"
	"github.com/mossy-p/sfu-core/internal/router"
	"github.com/mossy-p/sfu-core/internal/workerpool"
)

// Config carries the fixed values the dispatcher's handlers need that
// come from process configuration rather than room/peer state.
type Config struct {
	JWTSecret         string
	AnnouncedIP       string
	MaxPeersPerRoom   int
	ICEConsentTimeout time.Duration
}

// Dispatcher routes inbound envelopes to the message handler table,
// wiring together every other component.
type Dispatcher struct {
	cfg Config

	pool        *workerpool.Pool
	routers     *router.Registry
	membership  *room.Membership
	peers       *peer.Registry
	broadcaster *fanout.Broadcaster
	cleanup     *cleanup.Coordinator
	relay       *events.Relay
	logger      *zap.Logger
}

func New(cfg Config, pool *workerpool.Pool, routers *router.Registry, membership *room.Membership, peers *peer.Registry, broadcaster *fanout.Broadcaster, cleanupCoord *cleanup.Coordinator, relay *events.Relay, logger *zap.Logger) *Dispatcher {
	if cfg.AnnouncedIP == "" {
		logger.Warn("announced IP is empty (ANNOUNCED_IP unset)")
	}
	return &Dispatcher{
		cfg:         cfg,
		pool:        pool,
		routers:     routers,
		membership:  membership,
		peers:       peers,
		broadcaster: broadcaster,
		cleanup:     cleanupCoord,
		relay:       relay,
		logger:      logger,
	}
}

// Dispatch decodes raw into an Envelope and runs its handler under p's own
// mutex, so two messages from the same connection can never interleave
// their effects on that peer's state.
func (d *Dispatcher) Dispatch(ctx context.Context, p *peer.Peer, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Warn("malformed message", zap.Error(err))
		return
	}

	ack := newAck(env.ID, env.Type, p.Conn)

	if _, ok := d.peers.Get(p.ID); !ok {
		ack.ReplyError(apperrors.PeerNotFound())
		return
	}

	p.Lock()
	defer p.Unlock()

	handler, ok := d.handlers()[env.Type]
	if !ok {
		d.logger.Warn("unknown message type", zap.String("type", env.Type))
		ack.ReplyError(unknownMessageType(env.Type))
		return
	}
	handler(ctx, p, env.Payload, ack)
}

// HandleDisconnect runs the cleanup cascade for a peer whose socket
// closed, equivalent to the client having sent disconnect.
func (d *Dispatcher) HandleDisconnect(peerID string) {
	d.cleanup.CleanupPeer(peerID)
}

func unknownMessageType(msgType string) error {
	return fmt.Errorf("unknown message type %q", msgType)
}

type handlerFunc func(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack)

func (d *Dispatcher) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"joinRoom":                   d.handleJoinRoom,
		"createTransport":            d.handleCreateTransport,
		"connectTransport":           d.handleConnectTransport,
		"produce":                    d.handleProduce,
		"consume":                    d.handleConsume,
		"resumeConsumer":             d.handleResumeConsumer,
		"pauseConsumer":              d.handlePauseConsumer,
		"pauseProducer":              d.handlePauseProducer,
		"resumeProducer":             d.handleResumeProducer,
		"closeProducer":              d.handleCloseProducer,
		"toggleHandRaise":            d.handleToggleHandRaise,
		"chatMessage":                d.handleChatMessage,
		"getExistingProducers":       d.handleGetExistingProducers,
		"getRoomStats":               d.handleGetRoomStats,
		"setConsumerPreferredLayers": d.handleSetConsumerPreferredLayers,
		"endMeeting":                 d.handleEndMeeting,
		"leaveRoom":                  d.handleLeaveRoom,
		"disconnect":                 d.handleLeaveRoom,
		"restartIce":                 d.handleRestartIce,
		"getRouterRtpCapabilities":   d.handleGetRouterRtpCapabilities,
	}
}
