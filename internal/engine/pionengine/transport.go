package pionengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// Transport wraps one pion PeerConnection. Producers live on a transport
// created with engine.DirectionSend; consumers are added to one created
// with engine.DirectionRecv — the direction itself is signaling-layer
// metadata (internal/peer's sendTransports/recvTransports maps), so this
// type doesn't need to track it.
type Transport struct {
	id     string
	pc     *webrtc.PeerConnection
	opts   engine.TransportOptions
	router *Router

	events chan engine.TransportEvent
	closed atomic.Bool

	mu          sync.Mutex
	offer       webrtc.SessionDescription
	gathered    bool
	waitGather  chan struct{}
	pendingKind map[engine.MediaKind]chan *webrtc.TrackRemote
}

func (t *Transport) installHandlers() {
	t.waitGather = make(chan struct{})
	t.pendingKind = map[engine.MediaKind]chan *webrtc.TrackRemote{
		engine.KindAudio: make(chan *webrtc.TrackRemote, 4),
		engine.KindVideo: make(chan *webrtc.TrackRemote, 4),
	}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			t.mu.Lock()
			if !t.gathered {
				t.gathered = true
				close(t.waitGather)
			}
			t.mu.Unlock()
		}
	})

	t.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateDisconnected:
			t.emit(engine.TransportEvent{Kind: engine.TransportICEStateChange, ICEState: engine.ICEStateDisconnected})
		case webrtc.ICEConnectionStateClosed:
			t.emit(engine.TransportEvent{Kind: engine.TransportICEStateChange, ICEState: engine.ICEStateClosed})
		}
	})

	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			t.emit(engine.TransportEvent{Kind: engine.TransportDTLSStateChange, DTLSState: engine.DTLSStateFailed})
		}
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := engine.KindVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = engine.KindAudio
		}
		select {
		case t.pendingKind[kind] <- track:
		default:
		}
	})
}

func (t *Transport) emit(ev engine.TransportEvent) {
	if t.closed.Load() {
		return
	}
	select {
	case t.events <- ev:
	default:
	}
}

func (t *Transport) ID() string { return t.id }

// gatherLocalOffer creates (or refreshes, on ICE restart) a local offer and
// blocks until ICE gathering completes, so ICEParameters/ICECandidates can
// be read off the resulting SDP.
func (t *Transport) gatherLocalOffer(ctx context.Context, iceRestart bool) error {
	t.mu.Lock()
	needsOffer := t.offer.SDP == "" || iceRestart
	if iceRestart {
		t.waitGather = make(chan struct{})
		t.gathered = false
	}
	t.mu.Unlock()

	if !needsOffer {
		return nil
	}

	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return fmt.Errorf("pionengine: creating offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("pionengine: setting local description: %w", err)
	}

	t.mu.Lock()
	wait := t.waitGather
	t.mu.Unlock()

	select {
	case <-wait:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	t.offer = *t.pc.LocalDescription()
	t.mu.Unlock()
	return nil
}

func (t *Transport) parsedSDP() (*sdp.SessionDescription, bool) {
	t.mu.Lock()
	raw := t.offer.SDP
	t.mu.Unlock()
	if raw == "" {
		return nil, false
	}
	s := &sdp.SessionDescription{}
	if err := s.Unmarshal([]byte(raw)); err != nil {
		return nil, false
	}
	return s, true
}

func (t *Transport) ICEParameters() map[string]any {
	if s, ok := t.parsedSDP(); ok {
		ufrag, _ := s.Attribute("ice-ufrag")
		pwd, _ := s.Attribute("ice-pwd")
		return map[string]any{"usernameFragment": ufrag, "password": pwd, "iceLite": true}
	}
	return map[string]any{}
}

func (t *Transport) ICECandidates() []map[string]any {
	s, ok := t.parsedSDP()
	if !ok || len(s.MediaDescriptions) == 0 {
		return nil
	}
	candidates := make([]map[string]any, 0)
	for _, attr := range s.MediaDescriptions[0].Attributes {
		if attr.Key == "candidate" {
			candidates = append(candidates, map[string]any{"value": attr.Value})
		}
	}
	return candidates
}

func (t *Transport) DTLSParameters() map[string]any {
	s, ok := t.parsedSDP()
	if !ok {
		return map[string]any{"role": "server"}
	}
	fp, _ := s.Attribute("fingerprint")
	return map[string]any{"role": "server", "fingerprint": fp}
}

func (t *Transport) SCTPParameters() map[string]any {
	if !t.opts.EnableSCTP {
		return nil
	}
	return map[string]any{"maxMessageSize": t.opts.MaxSCTPMessageSize}
}

func (t *Transport) Events() <-chan engine.TransportEvent { return t.events }

// Connect applies the client's DTLS role/answer. params.DTLSParameters is
// expected to carry the client's answer SDP under "sdp", per this
// adapter's SDP-folding simplification.
func (t *Transport) Connect(ctx context.Context, params engine.ConnectParameters) error {
	if err := t.gatherLocalOffer(ctx, false); err != nil {
		return err
	}

	answerSDP, _ := params.DTLSParameters["sdp"].(string)
	if answerSDP == "" {
		return nil
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
}

// Produce waits for the next remote track of the requested kind to arrive
// over this transport's peer connection and wraps it as a Producer,
// forwarding its RTP stream the way rillnet's publisher track handler
// does.
func (t *Transport) Produce(ctx context.Context, params engine.ProduceParameters) (engine.Producer, error) {
	ch := t.pendingKind[params.Kind]
	select {
	case track := <-ch:
		p, err := newProducer(track, params)
		if err != nil {
			return nil, err
		}
		t.router.registerProducer(p)
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Consume attaches the producer's forwarded local track to this
// (recv-direction) transport and kicks off a renegotiation.
func (t *Transport) Consume(ctx context.Context, params engine.ConsumeParameters) (engine.Consumer, error) {
	producer := t.router.producer(params.ProducerID)
	if producer == nil {
		return nil, fmt.Errorf("pionengine: producer %q not found", params.ProducerID)
	}

	sender, err := t.pc.AddTrack(producer.localTrack)
	if err != nil {
		return nil, fmt.Errorf("pionengine: adding track: %w", err)
	}

	// Renegotiate so the added track reaches the client; the new offer is
	// picked up the next time ICEParameters/DTLSParameters are read.
	t.mu.Lock()
	t.offer = webrtc.SessionDescription{}
	t.mu.Unlock()
	if err := t.gatherLocalOffer(ctx, false); err != nil {
		t.mu.Lock()
		t.offer = webrtc.SessionDescription{}
		t.mu.Unlock()
	}

	c := newConsumer(sender, producer, params.Paused)
	producer.addConsumer(c)
	return c, nil
}

func (t *Transport) RestartICE(ctx context.Context) (map[string]any, error) {
	if err := t.gatherLocalOffer(ctx, true); err != nil {
		return nil, err
	}
	return t.ICEParameters(), nil
}

func (t *Transport) SetMaxIncomingBitrate(ctx context.Context, bps int) error {
	t.opts.MaxIncomingBitrate = bps
	return nil
}

func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		_ = t.pc.Close()
		t.events <- engine.TransportEvent{Kind: engine.TransportClosed}
		close(t.events)
	}
	return nil
}
