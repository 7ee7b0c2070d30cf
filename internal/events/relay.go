// Package events provides an optional cross-instance fan-out transport
// for live signaling events over Redis pub/sub. Relay never reads room
// state back out of redis: it is a pub/sub pipe for already-computed
// events only, so a fleet of signaling instances behind a load balancer
// can fan an event out to peers connected to a different instance
// without persisting any room/peer state across a restart.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is the wire format published on the shared channel.
type Envelope struct {
	RoomID string          `json:"roomId"`
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// Relay publishes and subscribes to cross-instance room events. A nil
// *redis.Client makes every method a no-op, so a deployment with no
// REDIS_ADDR configured runs single-instance with zero behavior change.
type Relay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
}

// Connect dials redis at addr; pass an empty addr to get a disabled Relay.
func Connect(ctx context.Context, addr, password string, db int, instanceID string, logger *zap.Logger) (*Relay, error) {
	if addr == "" {
		return &Relay{logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("events: connecting to redis: %w", err)
	}

	return &Relay{
		client:     client,
		channel:    "sfu:room-events",
		instanceID: instanceID,
		logger:     logger,
	}, nil
}

func (r *Relay) Enabled() bool { return r.client != nil }

// Publish fans event out to every other instance subscribed to the shared
// channel. It is fire-and-forget: a publish failure is logged, never
// returned, because no signaling handler should fail a client request
// over a relay outage.
func (r *Relay) Publish(ctx context.Context, roomID string, event any) {
	if !r.Enabled() {
		return
	}

	raw, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn("events: marshal failed", zap.Error(err))
		return
	}
	env := Envelope{RoomID: roomID, Origin: r.instanceID, Event: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Warn("events: envelope marshal failed", zap.Error(err))
		return
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("events: publish failed", zap.Error(err))
	}
}

// Subscribe runs until ctx is canceled, invoking onEvent for every envelope
// received from another instance (envelopes this instance published are
// filtered out by origin).
func (r *Relay) Subscribe(ctx context.Context, onEvent func(roomID string, event json.RawMessage)) {
	if !r.Enabled() {
		return
	}

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("events: envelope unmarshal failed", zap.Error(err))
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			onEvent(env.RoomID, env.Event)
		}
	}
}

func (r *Relay) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
