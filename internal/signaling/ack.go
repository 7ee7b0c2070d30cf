package signaling

import (
	"sync"

	"github.com/mossy-p/sfu-core/internal/apperrors"
	"github.com/mossy-p/sfu-core/internal/peer"
)

// Ack is a one-shot reply handle for one inbound message: a handler must
// call exactly one of Reply/ReplyError, and only the first call has any
// effect, so a handler that accidentally calls both (or a bug that calls
// Reply twice) can't double-ack the client.
type Ack struct {
	id   string
	msgType string
	conn peer.Sender
	once sync.Once
}

func newAck(id, msgType string, conn peer.Sender) *Ack {
	return &Ack{id: id, msgType: msgType, conn: conn}
}

func (a *Ack) Reply(payload any) {
	a.once.Do(func() {
		_ = a.conn.Send(OutMessage{Type: "ack:" + a.msgType, ID: a.id, Payload: payload})
	})
}

func (a *Ack) ReplyError(err error) {
	a.once.Do(func() {
		appErr := apperrors.As(err)
		_ = a.conn.Send(OutMessage{Type: "ack:" + a.msgType, ID: a.id, Error: appErr.Error()})
	})
}
