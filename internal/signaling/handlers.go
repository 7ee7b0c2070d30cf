package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mossy-p/sfu-core/internal/apperrors"
	"github.com/mossy-p/sfu-core/internal/authn"
	"github.com/mossy-p/sfu-core/internal/engine"
	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/router"
)

type joinRoomPayload struct {
	Token       string `json:"token"`
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type participantView struct {
	PeerID   string      `json:"peerId"`
	UserName string      `json:"userName"`
	Flags    peer.Flags  `json:"flags"`
}

func participantViewOf(p *peer.Peer) participantView {
	return participantView{PeerID: p.ID, UserName: p.UserName, Flags: p.Flags()}
}

// handleJoinRoom resolves concurrent joins into the same room with a
// total order: membership.Join serializes under its own lock, so two
// concurrent joins can never both observe "first joiner" and race to
// become owner.
func (d *Dispatcher) handleJoinRoom(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req joinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		ack.ReplyError(apperrors.Unauthenticated("malformed joinRoom payload"))
		return
	}

	claims, err := authn.Verify(d.cfg.JWTSecret, req.Token)
	if err != nil {
		ack.ReplyError(apperrors.Unauthenticated(""))
		return
	}

	rtr, err := d.routers.GetOrCreate(ctx, req.RoomID)
	if err != nil {
		ack.ReplyError(apperrors.NoWorkersAvailable())
		return
	}

	peerCount := d.membership.PeerCount(req.RoomID)
	if router.IsRoomFull(peerCount, d.cfg.MaxPeersPerRoom) {
		ack.ReplyError(apperrors.RoomFull())
		return
	}

	userName := req.DisplayName
	if userName == "" {
		userName = claims.UserName
	}

	isOwner, _ := d.membership.Join(req.RoomID, p.ID)

	p.UserID = claims.UserID
	p.UserName = userName
	p.RoomID = req.RoomID
	p.SetIsOwner(isOwner)

	others := d.peers.InRoom(d.membership.PeerIDs(req.RoomID))
	views := make([]participantView, 0, len(others))
	for _, other := range others {
		if other.ID != p.ID {
			views = append(views, participantViewOf(other))
		}
	}

	d.broadcaster.ToRoomExceptSender(req.RoomID, p.ID, OutMessage{
		Type:    "peerJoined",
		Payload: participantViewOf(p),
	})

	ack.Reply(map[string]any{
		"peerId":          p.ID,
		"isOwner":         isOwner,
		"rtpCapabilities": rtr.RTPCapabilities(),
		"participants":    views,
	})
}

type createTransportPayload struct {
	Direction string `json:"direction"`
}

func (d *Dispatcher) handleCreateTransport(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req createTransportPayload
	_ = json.Unmarshal(payload, &req)

	rtr, ok := d.routers.Get(p.RoomID)
	if !ok {
		ack.ReplyError(apperrors.RouterNotFound(p.RoomID))
		return
	}

	direction := engine.DirectionSend
	if req.Direction == "recv" {
		direction = engine.DirectionRecv
	}

	opts := engine.DefaultTransportOptions(direction, d.cfg.AnnouncedIP, d.cfg.ICEConsentTimeout)
	t, err := rtr.CreateWebRTCTransport(ctx, opts)
	if err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}

	if direction == engine.DirectionSend {
		p.AddSendTransport(t)
	} else {
		p.AddRecvTransport(t)
	}

	go d.watchTransport(p.RoomID, t)

	ack.Reply(map[string]any{
		"id":             t.ID(),
		"iceParameters":  t.ICEParameters(),
		"iceCandidates":  t.ICECandidates(),
		"dtlsParameters": t.DTLSParameters(),
		"sctpParameters": t.SCTPParameters(),
	})
}

// watchTransport forwards connection-state transitions to the transport's
// owning peer, and stops once the transport closes.
func (d *Dispatcher) watchTransport(roomID string, t engine.Transport) {
	for ev := range t.Events() {
		switch ev.Kind {
		case engine.TransportICEStateChange:
			d.broadcaster.ToRoomIncludingSender(roomID, OutMessage{Type: "transportIceStateChange", Payload: map[string]any{"transportId": t.ID(), "state": ev.ICEState}})
		case engine.TransportDTLSStateChange:
			d.broadcaster.ToRoomIncludingSender(roomID, OutMessage{Type: "transportDtlsStateChange", Payload: map[string]any{"transportId": t.ID(), "state": ev.DTLSState}})
		case engine.TransportClosed:
			return
		}
	}
}

type connectTransportPayload struct {
	TransportID    string         `json:"transportId"`
	DTLSParameters map[string]any `json:"dtlsParameters"`
}

func (d *Dispatcher) handleConnectTransport(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req connectTransportPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		ack.ReplyError(apperrors.TransportNotFound())
		return
	}

	t, ok := p.Transport(req.TransportID)
	if !ok {
		ack.ReplyError(apperrors.TransportNotFound())
		return
	}

	if err := t.Connect(ctx, engine.ConnectParameters{DTLSParameters: req.DTLSParameters}); err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	ack.Reply(nil)
}

type producePayload struct {
	TransportID   string         `json:"transportId"`
	Kind          string         `json:"kind"`
	RTPParameters map[string]any `json:"rtpParameters"`
	AppData       map[string]any `json:"appData"`
}

func (d *Dispatcher) handleProduce(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req producePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		ack.ReplyError(apperrors.TransportNotFound())
		return
	}

	t, ok := p.Transport(req.TransportID)
	if !ok {
		ack.ReplyError(apperrors.TransportNotFound())
		return
	}

	kind := engine.KindVideo
	if req.Kind == "audio" {
		kind = engine.KindAudio
	}

	appData := req.AppData
	if appData == nil {
		appData = map[string]any{}
	}
	appData["peerId"] = p.ID

	prod, err := t.Produce(ctx, engine.ProduceParameters{Kind: kind, RTPParameters: req.RTPParameters, AppData: appData})
	if err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}

	isScreenShare := appData["source"] == "screen"
	switch {
	case kind == engine.KindAudio:
		p.SetAudioEnabled(true)
	case isScreenShare:
		p.SetScreenSharing(true)
	default:
		p.SetVideoEnabled(true)
	}

	p.AddProducer(prod)
	d.routers.Register(p.RoomID, prod.ID(), p.ID, kind, p.UserName)
	if workerPID, ok := d.routers.WorkerPID(p.RoomID); ok {
		d.pool.UpdateLoad(workerPID, engine.CounterProducers, 1)
	}

	newProducerEvent := OutMessage{
		Type: "newProducer",
		Payload: map[string]any{"producerId": prod.ID(), "peerId": p.ID, "kind": req.Kind, "userName": p.UserName},
	}
	d.broadcaster.ToRoomExceptSender(p.RoomID, p.ID, newProducerEvent)
	d.relay.Publish(ctx, p.RoomID, newProducerEvent)

	ack.Reply(map[string]any{"id": prod.ID()})
}

type consumePayload struct {
	TransportID     string         `json:"transportId"`
	ProducerID      string         `json:"producerId"`
	RTPCapabilities map[string]any `json:"rtpCapabilities"`
}

// handleConsume resolves which recv transport to consume on: an explicit
// transportId wins, otherwise the peer's most-recently-created recv
// transport is used.
func (d *Dispatcher) handleConsume(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req consumePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		ack.ReplyError(apperrors.TransportNotFound())
		return
	}

	rtr, ok := d.routers.Get(p.RoomID)
	if !ok {
		ack.ReplyError(apperrors.RouterNotFound(p.RoomID))
		return
	}
	if !rtr.CanConsume(req.ProducerID, req.RTPCapabilities) {
		ack.ReplyError(apperrors.CodecMismatch())
		return
	}

	var t engine.Transport
	if req.TransportID != "" {
		t, ok = p.Transport(req.TransportID)
	} else {
		t, ok = p.LastRecvTransport()
	}
	if !ok {
		ack.ReplyError(apperrors.NoRecvTransport())
		return
	}

	cons, err := t.Consume(ctx, engine.ConsumeParameters{ProducerID: req.ProducerID, RTPCapabilities: req.RTPCapabilities, Paused: true})
	if err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}

	p.AddConsumer(cons)
	if workerPID, ok := d.routers.WorkerPID(p.RoomID); ok {
		d.pool.UpdateLoad(workerPID, engine.CounterConsumers, 1)
	}
	go d.watchConsumer(p, cons)

	ack.Reply(map[string]any{
		"id":            cons.ID(),
		"producerId":    cons.ProducerID(),
		"kind":          cons.Kind(),
		"rtpParameters": cons.RTPParameters(),
		"paused":        cons.Paused(),
	})
}

// watchConsumer forwards the upstream producer's close/pause/resume into
// events the consuming peer's client needs to react to, and drops the
// consumer locally once it (or its transport) closes.
func (d *Dispatcher) watchConsumer(p *peer.Peer, cons engine.Consumer) {
	for ev := range cons.Events() {
		switch ev.Kind {
		case engine.ConsumerClosed:
			p.RemoveConsumer(cons.ID())
			return
		case engine.ConsumerProducerClosed:
			p.RemoveConsumer(cons.ID())
			d.broadcaster.ToPeer(p.ID, OutMessage{Type: "consumerClosed", Payload: map[string]any{"consumerId": cons.ID()}})
			return
		case engine.ConsumerProducerPaused:
			d.broadcaster.ToPeer(p.ID, OutMessage{Type: "consumerPaused", Payload: map[string]any{"consumerId": cons.ID()}})
		case engine.ConsumerProducerResumed:
			d.broadcaster.ToPeer(p.ID, OutMessage{Type: "consumerResumed", Payload: map[string]any{"consumerId": cons.ID()}})
		}
	}
}

type consumerIDPayload struct {
	ConsumerID string `json:"consumerId"`
}

func (d *Dispatcher) handleResumeConsumer(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req consumerIDPayload
	_ = json.Unmarshal(payload, &req)
	cons, ok := p.Consumer(req.ConsumerID)
	if !ok {
		ack.ReplyError(apperrors.ConsumerNotFound())
		return
	}
	if err := cons.Resume(ctx); err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	ack.Reply(nil)
}

func (d *Dispatcher) handlePauseConsumer(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req consumerIDPayload
	_ = json.Unmarshal(payload, &req)
	cons, ok := p.Consumer(req.ConsumerID)
	if !ok {
		ack.ReplyError(apperrors.ConsumerNotFound())
		return
	}
	if err := cons.Pause(ctx); err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	ack.Reply(nil)
}

type producerIDPayload struct {
	ProducerID string `json:"producerId"`
}

// setMediaFlag flips the peer's audio/video/screen-share flag matching
// prod's kind and appData.source, mirroring the flag handleProduce set
// when the producer was created.
func setMediaFlag(p *peer.Peer, prod engine.Producer, enabled bool) {
	switch {
	case prod.Kind() == engine.KindAudio:
		p.SetAudioEnabled(enabled)
	case prod.AppData()["source"] == "screen":
		p.SetScreenSharing(enabled)
	default:
		p.SetVideoEnabled(enabled)
	}
}

func (d *Dispatcher) handlePauseProducer(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req producerIDPayload
	_ = json.Unmarshal(payload, &req)
	prod, ok := p.Producer(req.ProducerID)
	if !ok {
		ack.ReplyError(apperrors.ProducerNotFound())
		return
	}
	if err := prod.Pause(ctx); err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	setMediaFlag(p, prod, false)
	d.broadcaster.ToRoomExceptSender(p.RoomID, p.ID, OutMessage{Type: "producerPaused", Payload: map[string]any{"producerId": req.ProducerID, "peerId": p.ID}})
	ack.Reply(nil)
}

func (d *Dispatcher) handleResumeProducer(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req producerIDPayload
	_ = json.Unmarshal(payload, &req)
	prod, ok := p.Producer(req.ProducerID)
	if !ok {
		ack.ReplyError(apperrors.ProducerNotFound())
		return
	}
	if err := prod.Resume(ctx); err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	setMediaFlag(p, prod, true)
	d.broadcaster.ToRoomExceptSender(p.RoomID, p.ID, OutMessage{Type: "producerResumed", Payload: map[string]any{"producerId": req.ProducerID, "peerId": p.ID}})
	ack.Reply(nil)
}

func (d *Dispatcher) handleCloseProducer(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req producerIDPayload
	_ = json.Unmarshal(payload, &req)
	prod, ok := p.Producer(req.ProducerID)
	if !ok {
		ack.ReplyError(apperrors.ProducerNotFound())
		return
	}

	_ = prod.Close()
	setMediaFlag(p, prod, false)
	p.RemoveProducer(req.ProducerID)
	d.routers.Unregister(p.RoomID, req.ProducerID)
	if workerPID, ok := d.routers.WorkerPID(p.RoomID); ok {
		d.pool.UpdateLoad(workerPID, engine.CounterProducers, -1)
	}
	d.broadcaster.ToRoomExceptSender(p.RoomID, p.ID, OutMessage{Type: "producerClosed", Payload: map[string]any{"producerId": req.ProducerID, "peerId": p.ID}})
	ack.Reply(nil)
}

func (d *Dispatcher) handleToggleHandRaise(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	p.SetHandRaised(!p.Flags().HandRaised)
	d.broadcaster.ToRoomIncludingSender(p.RoomID, OutMessage{Type: "handRaiseToggled", Payload: map[string]any{"peerId": p.ID, "handRaised": p.Flags().HandRaised}})
	ack.Reply(map[string]any{"handRaised": p.Flags().HandRaised})
}

type chatMessagePayload struct {
	Message string `json:"message"`
}

// handleChatMessage is the one message type that fans out including the
// sender, so every participant's chat log (including the sender's own
// client) renders from the same broadcast.
func (d *Dispatcher) handleChatMessage(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req chatMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		ack.ReplyError(unknownMessageType("chatMessage"))
		return
	}
	timestamp := time.Now()
	d.broadcaster.ToRoomIncludingSender(p.RoomID, OutMessage{
		Type: "chatMessage",
		Payload: map[string]any{
			"id":        timestamp.UnixMilli(),
			"peerId":    p.ID,
			"userName":  p.UserName,
			"message":   req.Message,
			"timestamp": timestamp,
		},
	})
	ack.Reply(nil)
}

func (d *Dispatcher) handleGetExistingProducers(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	ack.Reply(d.routers.OthersOf(p.RoomID, p.ID))
}

func (d *Dispatcher) handleGetRoomStats(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	stats, ok := d.routers.Stats(p.RoomID)
	if !ok {
		ack.ReplyError(apperrors.RouterNotFound(p.RoomID))
		return
	}
	ack.Reply(map[string]any{
		"peerCount":     d.membership.PeerCount(p.RoomID),
		"producerCount": stats.ProducerCount,
		"createdAt":     stats.CreatedAt,
		"uptimeSeconds": stats.Uptime.Seconds(),
	})
}

type setPreferredLayersPayload struct {
	ConsumerID    string `json:"consumerId"`
	SpatialLayer  int    `json:"spatialLayer"`
	TemporalLayer int    `json:"temporalLayer"`
}

func (d *Dispatcher) handleSetConsumerPreferredLayers(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req setPreferredLayersPayload
	_ = json.Unmarshal(payload, &req)
	cons, ok := p.Consumer(req.ConsumerID)
	if !ok {
		ack.ReplyError(apperrors.ConsumerNotFound())
		return
	}
	if err := cons.SetPreferredLayers(ctx, engine.PreferredLayers{SpatialLayer: req.SpatialLayer, TemporalLayer: req.TemporalLayer}); err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	ack.Reply(nil)
}

func (d *Dispatcher) handleEndMeeting(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	owner, ok := d.membership.Owner(p.RoomID)
	if !ok || owner != p.ID {
		ack.ReplyError(apperrors.NotOwner())
		return
	}

	roomID := p.RoomID
	d.broadcaster.ToRoomIncludingSender(roomID, OutMessage{Type: "meetingEnded", Payload: map[string]any{"peerId": p.ID}})
	ack.Reply(nil)

	go d.cleanup.CleanupRoom(ctx, roomID)
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	ack.Reply(nil)
	go d.cleanup.CleanupPeer(p.ID)
}

type restartIcePayload struct {
	TransportID string `json:"transportId"`
}

// handleRestartIce implements the supplemented restartIce message (not in
// the distilled handler table) so clients can recover a transport whose
// ICE connection dropped without having to rejoin the room.
func (d *Dispatcher) handleRestartIce(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	var req restartIcePayload
	_ = json.Unmarshal(payload, &req)
	t, ok := p.Transport(req.TransportID)
	if !ok {
		ack.ReplyError(apperrors.TransportNotFound())
		return
	}
	iceParams, err := t.RestartICE(ctx)
	if err != nil {
		ack.ReplyError(apperrors.Engine(err))
		return
	}
	ack.Reply(map[string]any{"iceParameters": iceParams})
}

// handleGetRouterRtpCapabilities implements the supplemented
// getRouterRtpCapabilities message, letting a client fetch the room's
// codec capabilities independently of joinRoom's ack (useful for clients
// that pre-build their device before joining).
func (d *Dispatcher) handleGetRouterRtpCapabilities(ctx context.Context, p *peer.Peer, payload json.RawMessage, ack *Ack) {
	rtr, ok := d.routers.Get(p.RoomID)
	if !ok {
		ack.ReplyError(apperrors.RouterNotFound(p.RoomID))
		return
	}
	ack.Reply(map[string]any{"routerRtpCapabilities": rtr.RTPCapabilities()})
}
