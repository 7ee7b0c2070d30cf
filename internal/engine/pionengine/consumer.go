package pionengine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/mossy-p/sfu-core/internal/engine"
)

// Consumer wraps the RTPSender pion created when the producer's local
// track was added to a subscriber's peer connection.
type Consumer struct {
	id         string
	producerID string
	kind       engine.MediaKind
	sender     *webrtc.RTPSender
	producer   *Producer

	paused atomic.Bool
	closed atomic.Bool
	events chan engine.ConsumerEvent
}

func newConsumer(sender *webrtc.RTPSender, producer *Producer, startPaused bool) *Consumer {
	c := &Consumer{
		id:         producer.id + "-" + sender.GetParameters().Encodings[0].RID,
		producerID: producer.id,
		kind:       producer.kind,
		sender:     sender,
		producer:   producer,
		events:     make(chan engine.ConsumerEvent, 8),
	}
	c.paused.Store(startPaused)
	go c.drainRTCP()
	return c
}

// drainRTCP reads the sender's RTCP feedback so pion's internal buffers
// don't block; PLI/NACK handling beyond that is left to pion's default
// interceptors registered on the worker's media engine.
func (c *Consumer) drainRTCP() {
	for {
		packets, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				continue
			}
		}
	}
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                   { return c.producerID }
func (c *Consumer) Kind() engine.MediaKind                { return c.kind }
func (c *Consumer) RTPParameters() map[string]any         { return c.producer.RTPParameters() }
func (c *Consumer) Paused() bool                          { return c.paused.Load() }
func (c *Consumer) ProducerPaused() bool                  { return c.producer.Paused() }
func (c *Consumer) Events() <-chan engine.ConsumerEvent   { return c.events }

func (c *Consumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.paused.Store(false)
	return nil
}

// SetPreferredLayers is a no-op: this adapter doesn't implement simulcast
// layer switching, only single-stream forwarding.
func (c *Consumer) SetPreferredLayers(ctx context.Context, layers engine.PreferredLayers) error {
	return nil
}

func (c *Consumer) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.producer.removeConsumer(c.id)
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
	case <-time.After(time.Millisecond):
	}
}
