// Package signaling implements a message handler table: one handler per
// client message type, dispatched under the sending peer's own mutex,
// replying through a one-shot ack.
package signaling

import "encoding/json"

// Envelope is the inbound message shape every client message follows: an
// optional client-assigned id used to correlate the ack, a type naming the
// handler, and an opaque payload the handler decodes itself.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutMessage is the outbound shape for both acks and server-initiated
// events (producerClosed, peerLeft, chatMessage, ...).
type OutMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
