package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConnectWithEmptyAddrReturnsDisabledRelay(t *testing.T) {
	relay, err := Connect(context.Background(), "", "", 0, "instance-1", zap.NewNop())
	require.NoError(t, err)
	assert.False(t, relay.Enabled())
}

func TestDisabledRelayPublishIsNoOp(t *testing.T) {
	relay, err := Connect(context.Background(), "", "", 0, "instance-1", zap.NewNop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		relay.Publish(context.Background(), "room1", map[string]string{"type": "peerJoined"})
	})
}

func TestDisabledRelaySubscribeReturnsImmediately(t *testing.T) {
	relay, err := Connect(context.Background(), "", "", 0, "instance-1", zap.NewNop())
	require.NoError(t, err)

	called := false
	relay.Subscribe(context.Background(), func(roomID string, event json.RawMessage) {
		called = true
	})
	assert.False(t, called, "a disabled relay must never invoke the callback")
}

func TestDisabledRelayCloseIsNoOp(t *testing.T) {
	relay, err := Connect(context.Background(), "", "", 0, "instance-1", zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, relay.Close())
}

func TestEnvelopeRoundTripsThroughJSON(t *testing.T) {
	env := Envelope{RoomID: "room1", Origin: "instance-1", Event: json.RawMessage(`{"type":"peerJoined"}`)}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env.RoomID, decoded.RoomID)
	assert.Equal(t, env.Origin, decoded.Origin)
	assert.JSONEq(t, string(env.Event), string(decoded.Event))
}
