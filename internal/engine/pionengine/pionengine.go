// Package pionengine implements internal/engine's capability surface on
// top of github.com/pion/webrtc/v3, using a peer-connection-per-
// publisher/subscriber pattern generalized into a mediasoup-shaped
// createTransport/connect/produce/consume lifecycle.
//
// Simplification: real mediasoup exchanges ICE/DTLS parameters without a
// full SDP round trip. pion/webrtc is SDP-negotiated, so this adapter has
// each Transport run one PeerConnection and folds the client's answer SDP
// into ConnectParameters.DTLSParameters under the "sdp" key; everything
// above internal/engine's interface (the signaling layer, the dispatcher,
// the tests) stays oblivious to that, since it only ever sees opaque
// parameter maps.
package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// payloadTypeFor assigns the static payload types a typical mediasoup
// deployment uses for this fixed codec set.
func payloadTypeFor(mimeType, fmtpProfile string) webrtc.PayloadType {
	switch {
	case mimeType == "audio/opus":
		return 111
	case mimeType == "video/VP8":
		return 96
	case mimeType == "video/VP9":
		return 98
	case mimeType == "video/H264" && fmtpProfile == "42e01f":
		return 102
	case mimeType == "video/H264" && fmtpProfile == "4d0032":
		return 127
	default:
		return 0
	}
}

func fmtpLine(params map[string]string) string {
	if profile, ok := params["profile-level-id"]; ok {
		return fmt.Sprintf("level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=%s", profile)
	}
	return ""
}

func buildMediaEngine(codecs []engine.RTPCodecParameters) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		kind := webrtc.RTPCodecTypeVideo
		if c.Kind == engine.KindAudio {
			kind = webrtc.RTPCodecTypeAudio
		}
		profile := c.Parameters["profile-level-id"]
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    c.MimeType,
				ClockRate:   uint32(c.ClockRate),
				Channels:    uint16(c.Channels),
				SDPFmtpLine: fmtpLine(c.Parameters),
			},
			PayloadType: payloadTypeFor(c.MimeType, profile),
		}, kind)
		if err != nil {
			return nil, fmt.Errorf("pionengine: registering codec %s: %w", c.MimeType, err)
		}
	}
	return m, nil
}

// Engine hands out Workers, each bound to its own pion API instance scoped
// to a disjoint UDP port range.
type Engine struct {
	mu      sync.Mutex
	nextPID int
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) CreateWorker(ctx context.Context, portRange engine.PortRange) (engine.Worker, error) {
	e.mu.Lock()
	e.nextPID++
	pid := engine.WorkerPID(fmt.Sprintf("pion-%d", e.nextPID))
	e.mu.Unlock()

	se := webrtc.SettingEngine{}
	se.SetEphemeralUDPPortRange(uint16(portRange.Min), uint16(portRange.Max))

	return &Worker{
		pid:       pid,
		portRange: portRange,
		setting:   se,
		events:    make(chan engine.WorkerEvent, 1),
		dead:      make(chan struct{}),
	}, nil
}

// Worker stands in for a mediasoup worker subprocess: pion has no such
// process, so this is purely the unit of port-range isolation and load
// accounting the rest of the core depends on.
type Worker struct {
	pid       engine.WorkerPID
	portRange engine.PortRange
	setting   webrtc.SettingEngine

	events    chan engine.WorkerEvent
	dead      chan struct{}
	closeOnce sync.Once
}

func (w *Worker) PID() engine.WorkerPID            { return w.pid }
func (w *Worker) PortRange() engine.PortRange       { return w.portRange }
func (w *Worker) Events() <-chan engine.WorkerEvent { return w.events }

func (w *Worker) CreateRouter(ctx context.Context, codecs []engine.RTPCodecParameters) (engine.Router, error) {
	m, err := buildMediaEngine(codecs)
	if err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("pionengine: registering interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(w.setting), webrtc.WithInterceptorRegistry(i))

	return &Router{
		api:       api,
		codecs:    codecs,
		events:    make(chan engine.RouterEvent, 16),
		producers: make(map[string]*Producer),
	}, nil
}

// Kill simulates the death of the worker's underlying process for the
// pool's crash-recovery path; pion has nothing to crash on its own.
func (w *Worker) Kill() {
	w.closeOnce.Do(func() {
		w.events <- engine.WorkerEvent{Kind: engine.WorkerDied}
		close(w.events)
		close(w.dead)
	})
}

func (w *Worker) Close() error {
	return nil
}
