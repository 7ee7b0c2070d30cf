package pionengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// Producer wraps one remote track and forwards its RTP stream into a local
// track every Consumer reads from, the same way rillnet's TrackForwarder
// fans one publisher track out to N subscriber peer connections.
type Producer struct {
	id         string
	kind       engine.MediaKind
	appData    map[string]any
	remote     *webrtc.TrackRemote
	localTrack *webrtc.TrackLocalStaticRTP

	paused atomic.Bool
	closed atomic.Bool
	events chan engine.ProducerEvent

	mu        sync.Mutex
	consumers map[string]*Consumer
}

func newProducer(remote *webrtc.TrackRemote, params engine.ProduceParameters) (*Producer, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		return nil, err
	}

	p := &Producer{
		id:         remote.ID(),
		kind:       params.Kind,
		appData:    params.AppData,
		remote:     remote,
		localTrack: local,
		events:     make(chan engine.ProducerEvent, 8),
		consumers:  make(map[string]*Consumer),
	}

	go p.forward()
	return p, nil
}

// forward reads RTP packets off the remote track and rewrites them onto
// the local track every consumer subscribes to.
func (p *Producer) forward() {
	buf := make([]byte, 1500)
	for {
		n, _, err := p.remote.Read(buf)
		if err != nil {
			p.Close()
			return
		}
		if _, err := p.localTrack.Write(buf[:n]); err != nil {
			continue
		}
	}
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() engine.MediaKind              { return p.kind }
func (p *Producer) RTPParameters() map[string]any       { return map[string]any{"codec": p.remote.Codec().MimeType} }
func (p *Producer) AppData() map[string]any             { return p.appData }
func (p *Producer) Paused() bool                        { return p.paused.Load() }
func (p *Producer) Events() <-chan engine.ProducerEvent  { return p.events }

func (p *Producer) Pause(ctx context.Context) error {
	p.paused.Store(true)
	p.broadcast(engine.ProducerPaused)
	p.forEachConsumer(func(c *Consumer) { c.onProducerEvent(engine.ConsumerProducerPaused) })
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	p.paused.Store(false)
	p.broadcast(engine.ProducerResumed)
	p.forEachConsumer(func(c *Consumer) { c.onProducerEvent(engine.ConsumerProducerResumed) })
	return nil
}

func (p *Producer) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.broadcast(engine.ProducerClosed)
		p.forEachConsumer(func(c *Consumer) { c.onProducerEvent(engine.ConsumerProducerClosed) })
		close(p.events)
	}
	return nil
}

func (p *Producer) broadcast(kind engine.ProducerEventKind) {
	select {
	case p.events <- engine.ProducerEvent{Kind: kind}:
	default:
	}
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
}

func (p *Producer) removeConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

func (p *Producer) forEachConsumer(fn func(*Consumer)) {
	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()
	for _, c := range consumers {
		fn(c)
	}
}
