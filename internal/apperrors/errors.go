// Package apperrors defines the error taxonomy surfaced to clients over the
// signaling channel. Every handler error is expected to resolve to one of
// these codes before it reaches an acknowledgment.
package apperrors

import "fmt"

// Code identifies a taxonomy entry. Codes are stable and may be matched on
// by clients; the human-readable Message is not.
type Code string

const (
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeRoomFull           Code = "ROOM_FULL"
	CodePeerNotFound       Code = "PEER_NOT_FOUND"
	CodeTransportNotFound  Code = "TRANSPORT_NOT_FOUND"
	CodeProducerNotFound   Code = "PRODUCER_NOT_FOUND"
	CodeConsumerNotFound   Code = "CONSUMER_NOT_FOUND"
	CodeNoRecvTransport    Code = "NO_RECV_TRANSPORT"
	CodeCodecMismatch      Code = "CODEC_MISMATCH"
	CodeRouterNotFound     Code = "ROUTER_NOT_FOUND"
	CodeNotOwner           Code = "NOT_OWNER"
	CodeEngineError        Code = "ENGINE_ERROR"
	CodeNoWorkersAvailable Code = "NO_WORKERS_AVAILABLE"
)

// Error is an application error carrying a taxonomy code plus an optional
// cause. Its Error() string is what gets surfaced in a {error} ack payload.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Unauthenticated(message string) *Error {
	if message == "" {
		message = "authentication failed"
	}
	return newError(CodeUnauthenticated, message)
}

func RoomFull() *Error {
	return newError(CodeRoomFull, "Room is full")
}

func PeerNotFound() *Error {
	return newError(CodePeerNotFound, "Peer not found")
}

func TransportNotFound() *Error {
	return newError(CodeTransportNotFound, "Transport not found")
}

func ProducerNotFound() *Error {
	return newError(CodeProducerNotFound, "Producer not found")
}

func ConsumerNotFound() *Error {
	return newError(CodeConsumerNotFound, "Consumer not found")
}

func NoRecvTransport() *Error {
	return newError(CodeNoRecvTransport, "No recv transport available")
}

func CodecMismatch() *Error {
	return newError(CodeCodecMismatch, "Cannot consume: incompatible codec")
}

func RouterNotFound(roomID string) *Error {
	return newError(CodeRouterNotFound, fmt.Sprintf("Router not found for room %q", roomID))
}

func NotOwner() *Error {
	return newError(CodeNotOwner, "Only the host can end the meeting")
}

func NoWorkersAvailable() *Error {
	return newError(CodeNoWorkersAvailable, "No media workers available")
}

// Engine wraps an error returned by the media engine capability surface,
// passing its message through unchanged.
func Engine(cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: CodeEngineError, Message: cause.Error(), Cause: cause}
}

// As extracts an *Error from err, wrapping it as EngineError if err is a
// plain error that isn't already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*Error); ok {
		return appErr
	}
	return Engine(err)
}

// Message renders err the way it should appear in a {error: string} ack.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return As(err).Error()
}
