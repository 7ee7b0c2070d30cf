// Package fakeengine is a deterministic, in-memory implementation of
// internal/engine's capability surface, used by the orchestration core's
// test suite and by any deployment that wants to exercise room/peer
// lifecycle without a network stack (e.g. load tests).
package fakeengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// Engine hands out Workers with strictly increasing synthetic pids.
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
	pid := engine.WorkerPID(fmt.Sprintf("fake-%d", e.nextPID))
	e.mu.Unlock()

	return &Worker{
		pid:       pid,
		portRange: portRange,
		events:    make(chan engine.WorkerEvent, 1),
	}, nil
}

// Worker is a fake media-engine worker process.
type Worker struct {
	pid       engine.WorkerPID
	portRange engine.PortRange
	events    chan engine.WorkerEvent
	closeOnce sync.Once
}

func (w *Worker) PID() engine.WorkerPID            { return w.pid }
func (w *Worker) PortRange() engine.PortRange       { return w.portRange }
func (w *Worker) Events() <-chan engine.WorkerEvent { return w.events }

func (w *Worker) CreateRouter(ctx context.Context, codecs []engine.RTPCodecParameters) (engine.Router, error) {
	return &Router{
		codecs: codecs,
		events: make(chan engine.RouterEvent, 16),
	}, nil
}

// Kill simulates a worker death signal, exactly once.
func (w *Worker) Kill() {
	w.closeOnce.Do(func() {
		w.events <- engine.WorkerEvent{Kind: engine.WorkerDied}
		close(w.events)
	})
}

func (w *Worker) Close() error {
	return nil
}

// Router is a fake media router.
type Router struct {
	codecs []engine.RTPCodecParameters
	events chan engine.RouterEvent
	closed atomic.Bool

	mu         sync.Mutex
	producers  map[string]*Producer
}

func (r *Router) RTPCapabilities() map[string]any {
	kinds := make([]string, 0, len(r.codecs))
	for _, c := range r.codecs {
		kinds = append(kinds, c.MimeType)
	}
	return map[string]any{"codecs": kinds}
}

func (r *Router) CanConsume(producerID string, rtpCapabilities map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts engine.TransportOptions) (engine.Transport, error) {
	t := &Transport{
		id:     uuid.New().String(),
		opts:   opts,
		events: make(chan engine.TransportEvent, 4),
		router: r,
	}
	select {
	case r.events <- engine.RouterEvent{Kind: engine.RouterNewTransport, Transport: t}:
	default:
	}
	return t, nil
}

func (r *Router) Events() <-chan engine.RouterEvent { return r.events }

func (r *Router) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.events <- engine.RouterEvent{Kind: engine.RouterClosed}
		close(r.events)
	}
	return nil
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producers == nil {
		r.producers = map[string]*Producer{}
	}
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

// Transport is a fake WebRTC transport.
type Transport struct {
	id     string
	opts   engine.TransportOptions
	events chan engine.TransportEvent
	router *Router
	closed atomic.Bool
}

func (t *Transport) ID() string                             { return t.id }
func (t *Transport) ICEParameters() map[string]any          { return map[string]any{"usernameFragment": t.id} }
func (t *Transport) ICECandidates() []map[string]any       { return nil }
func (t *Transport) DTLSParameters() map[string]any        { return map[string]any{"role": "server"} }
func (t *Transport) SCTPParameters() map[string]any        { return nil }
func (t *Transport) Events() <-chan engine.TransportEvent  { return t.events }

func (t *Transport) Connect(ctx context.Context, params engine.ConnectParameters) error {
	return nil
}

func (t *Transport) Produce(ctx context.Context, params engine.ProduceParameters) (engine.Producer, error) {
	p := &Producer{
		id:            uuid.New().String(),
		kind:          params.Kind,
		rtpParameters: params.RTPParameters,
		appData:       params.AppData,
		events:        make(chan engine.ProducerEvent, 8),
		consumers:     map[string]*Consumer{},
	}
	t.router.registerProducer(p)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, params engine.ConsumeParameters) (engine.Consumer, error) {
	producer := t.router.producer(params.ProducerID)
	if producer == nil {
		return nil, fmt.Errorf("producer %q not found", params.ProducerID)
	}
	c := &Consumer{
		id:         uuid.New().String(),
		producerID: params.ProducerID,
		kind:       producer.kind,
		events:     make(chan engine.ConsumerEvent, 8),
		producer:   producer,
	}
	c.paused.Store(params.Paused)
	producer.mu.Lock()
	producer.consumers[c.id] = c
	producer.mu.Unlock()
	return c, nil
}

func (t *Transport) RestartICE(ctx context.Context) (map[string]any, error) {
	return map[string]any{"usernameFragment": uuid.New().String()}, nil
}

func (t *Transport) SetMaxIncomingBitrate(ctx context.Context, bps int) error {
	return nil
}

func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.events <- engine.TransportEvent{Kind: engine.TransportClosed}
		close(t.events)
	}
	return nil
}

// Producer is a fake server-side upload handle.
type Producer struct {
	id            string
	kind          engine.MediaKind
	rtpParameters map[string]any
	appData       map[string]any
	paused        atomic.Bool
	events        chan engine.ProducerEvent
	closed        atomic.Bool

	mu        sync.Mutex
	consumers map[string]*Consumer
}

func (p *Producer) ID() string                     { return p.id }
func (p *Producer) Kind() engine.MediaKind          { return p.kind }
func (p *Producer) RTPParameters() map[string]any   { return p.rtpParameters }
func (p *Producer) AppData() map[string]any         { return p.appData }
func (p *Producer) Paused() bool                    { return p.paused.Load() }
func (p *Producer) Events() <-chan engine.ProducerEvent { return p.events }

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

// Consumer is a fake server-side subscription handle.
type Consumer struct {
	id         string
	producerID string
	kind       engine.MediaKind
	paused     atomic.Bool
	events     chan engine.ConsumerEvent
	closed     atomic.Bool
	producer   *Producer
}

func (c *Consumer) ID() string                   { return c.id }
func (c *Consumer) ProducerID() string            { return c.producerID }
func (c *Consumer) Kind() engine.MediaKind        { return c.kind }
func (c *Consumer) RTPParameters() map[string]any { return c.producer.rtpParameters }
func (c *Consumer) Paused() bool                  { return c.paused.Load() }
func (c *Consumer) ProducerPaused() bool          { return c.producer.Paused() }
func (c *Consumer) Events() <-chan engine.ConsumerEvent { return c.events }

func (c *Consumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.paused.Store(false)
	return nil
}

func (c *Consumer) SetPreferredLayers(ctx context.Context, layers engine.PreferredLayers) error {
	return nil
}

func (c *Consumer) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.producer.mu.Lock()
		delete(c.producer.consumers, c.id)
		c.producer.mu.Unlock()
		close(c.events)
	}
	return nil
}

func (c *Consumer) onProducerEvent(kind engine.ConsumerEventKind) {
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- engine.ConsumerEvent{Kind: kind}:
	default:
	}
}
