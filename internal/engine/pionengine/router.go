package pionengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// Router groups the transports and producers belonging to one room on one
// worker's pion API instance.
type Router struct {
	api    *webrtc.API
	codecs []engine.RTPCodecParameters

	events chan engine.RouterEvent
	closed atomic.Bool

	mu        sync.Mutex
	producers map[string]*Producer
}

func (r *Router) RTPCapabilities() map[string]any {
	codecs := make([]map[string]any, 0, len(r.codecs))
	for _, c := range r.codecs {
		codecs = append(codecs, map[string]any{
			"mimeType":   c.MimeType,
			"clockRate":  c.ClockRate,
			"channels":   c.Channels,
			"parameters": c.Parameters,
		})
	}
	return map[string]any{"codecs": codecs}
}

func (r *Router) CanConsume(producerID string, rtpCapabilities map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts engine.TransportOptions) (engine.Transport, error) {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:     uuid.New().String(),
		pc:     pc,
		opts:   opts,
		router: r,
		events: make(chan engine.TransportEvent, 8),
	}
	t.installHandlers()

	select {
	case r.events <- engine.RouterEvent{Kind: engine.RouterNewTransport, Transport: t}:
	default:
	}

	return t, nil
}

func (r *Router) Events() <-chan engine.RouterEvent { return r.events }

func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	producers := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	r.mu.Unlock()
	for _, p := range producers {
		_ = p.Close()
	}

	r.events <- engine.RouterEvent{Kind: engine.RouterClosed}
	close(r.events)
	return nil
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *Router) producer(id string) *Producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[id]
}
