// Package engine defines the media-engine capability surface the
// orchestration core depends on. The core never imports a concrete media
// engine directly; it is handed an Engine and talks only to these
// interfaces. Two adapters exist: internal/engine/pionengine (a real
// pion/webrtc-backed implementation) and internal/engine/fakeengine (a
// deterministic in-memory implementation used by tests).
package engine

import (
	"context"
	"time"
)

// WorkerPID is an opaque handle to a media-engine worker process.
type WorkerPID string

// Counter names the four load counters tracked per worker.
type Counter string

const (
	CounterRouters     Counter = "routers"
	CounterTransports  Counter = "transports"
	CounterConsumers   Counter = "consumers"
	CounterProducers   Counter = "producers"
)

// PortRange is the inclusive RTC UDP port range allocated to one worker.
type PortRange struct {
	Min int
	Max int
}

// MediaKind is "audio" or "video".
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// TransportDirection distinguishes a peer's send transport (carries
// producers) from its recv transport (carries consumers).
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// RTPCodecParameters describes one fixed codec entry from the router's
// codec set.
type RTPCodecParameters struct {
	Kind       MediaKind
	MimeType   string
	ClockRate  int
	Channels   int
	Parameters map[string]string
}

// MediaCodecs is the fixed codec set every router is created with:
// Opus stereo 48kHz, VP8, VP9, H264 baseline 42e01f, H264 main 4d0032,
// all at 90kHz clock for the video codecs.
var MediaCodecs = []RTPCodecParameters{
	{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{Kind: KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	{Kind: KindVideo, MimeType: "video/VP9", ClockRate: 90000},
	{Kind: KindVideo, MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]string{"profile-level-id": "42e01f"}},
	{Kind: KindVideo, MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]string{"profile-level-id": "4d0032"}},
}

// TransportOptions configures a WebRTC transport: listen on 0.0.0.0,
// announce AnnouncedIP (may be empty for local testing), 1Mbps initial
// outgoing bitrate with a 600kbps floor,
// SCTP disabled, UDP+TCP enabled preferring UDP, 20s ICE consent timeout,
// 256KiB max SCTP message size. MaxIncomingBitrate is set only on recv
// transports (1.5Mbps).
type TransportOptions struct {
	ListenIP               string
	AnnouncedIP            string
	InitialOutgoingBitrate int
	MinimumOutgoingBitrate int
	MaxIncomingBitrate     int
	EnableSCTP             bool
	EnableUDP              bool
	EnableTCP              bool
	PreferUDP              bool
	ICEConsentTimeout      time.Duration
	MaxSCTPMessageSize     int
}

// DefaultTransportOptions returns the fixed options for a transport in
// the given direction. announcedIP may be empty.
func DefaultTransportOptions(direction TransportDirection, announcedIP string, iceConsentTimeout time.Duration) TransportOptions {
	opts := TransportOptions{
		ListenIP:               "0.0.0.0",
		AnnouncedIP:            announcedIP,
		InitialOutgoingBitrate: 1_000_000,
		MinimumOutgoingBitrate: 600_000,
		EnableSCTP:             false,
		EnableUDP:              true,
		EnableTCP:              true,
		PreferUDP:              true,
		ICEConsentTimeout:      iceConsentTimeout,
		MaxSCTPMessageSize:     262144,
	}
	if direction == DirectionRecv {
		opts.MaxIncomingBitrate = 1_500_000
	}
	return opts
}

// WorkerEvent is delivered on a Worker's event channel so closures
// installed on engine objects never run directly against dispatcher
// state — the dispatcher consumes a single enum of events instead.
type WorkerEventKind string

const WorkerDied WorkerEventKind = "died"

type WorkerEvent struct {
	Kind WorkerEventKind
}

// Worker is a handle to one media-engine worker process.
type Worker interface {
	PID() WorkerPID
	PortRange() PortRange
	CreateRouter(ctx context.Context, codecs []RTPCodecParameters) (Router, error)
	// Events delivers WorkerEvent{Kind: WorkerDied} exactly once when the
	// worker dies, then closes.
	Events() <-chan WorkerEvent
	Close() error
}

// RouterEventKind enumerates the observer events a Router's lifecycle
// raises, consumed by internal/router's load-accounting hooks, which
// update the worker pool's counters.
type RouterEventKind string

const (
	RouterNewTransport RouterEventKind = "newtransport"
	RouterClosed       RouterEventKind = "closed"
)

type RouterEvent struct {
	Kind      RouterEventKind
	Transport Transport
}

// Router is a media router bound to exactly one worker, scoped to one room.
type Router interface {
	RTPCapabilities() map[string]any
	CreateWebRTCTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	CanConsume(producerID string, rtpCapabilities map[string]any) bool
	Events() <-chan RouterEvent
	Close() error
}

// TransportEventKind enumerates connection-state transitions surfaced to
// the peer that owns the transport.
type TransportEventKind string

const (
	TransportClosed        TransportEventKind = "close"
	TransportDTLSStateChange TransportEventKind = "dtlsstatechange"
	TransportICEStateChange  TransportEventKind = "icestatechange"
)

type DTLSState string
type ICEState string

const (
	DTLSStateFailed DTLSState = "failed"
	DTLSStateClosed DTLSState = "closed"

	ICEStateDisconnected ICEState = "disconnected"
	ICEStateClosed       ICEState = "closed"
)

type TransportEvent struct {
	Kind      TransportEventKind
	DTLSState DTLSState
	ICEState  ICEState
}

// ConnectParameters carries the DTLS parameters a client sends to connect
// a transport it already has ICE/SDP information for.
type ConnectParameters struct {
	DTLSParameters map[string]any
}

// ProduceParameters is the input to Transport.Produce.
type ProduceParameters struct {
	Kind          MediaKind
	RTPParameters map[string]any
	AppData       map[string]any
}

// ConsumeParameters is the input to Transport.Consume.
type ConsumeParameters struct {
	ProducerID      string
	RTPCapabilities map[string]any
	Paused          bool
}

// Transport is an encrypted bidirectional media channel between one client
// and the server.
type Transport interface {
	ID() string
	ICEParameters() map[string]any
	ICECandidates() []map[string]any
	DTLSParameters() map[string]any
	SCTPParameters() map[string]any
	Connect(ctx context.Context, params ConnectParameters) error
	Produce(ctx context.Context, params ProduceParameters) (Producer, error)
	Consume(ctx context.Context, params ConsumeParameters) (Consumer, error)
	RestartICE(ctx context.Context) (map[string]any, error)
	SetMaxIncomingBitrate(ctx context.Context, bps int) error
	Events() <-chan TransportEvent
	Close() error
}

// ProducerEventKind enumerates state transitions a Producer's close/pause/
// resume hooks surface to the room via the producer index.
type ProducerEventKind string

const (
	ProducerClosed  ProducerEventKind = "close"
	ProducerPaused  ProducerEventKind = "pause"
	ProducerResumed ProducerEventKind = "resume"
)

type ProducerEvent struct {
	Kind ProducerEventKind
}

// Producer is the server-side handle for media a client is uploading.
type Producer interface {
	ID() string
	Kind() MediaKind
	RTPParameters() map[string]any
	AppData() map[string]any
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
	Events() <-chan ProducerEvent
}

// ConsumerEventKind enumerates events surfaced from the upstream Producer
// to every Consumer forwarding from it.
type ConsumerEventKind string

const (
	ConsumerClosed          ConsumerEventKind = "close"
	ConsumerProducerClosed  ConsumerEventKind = "producerclose"
	ConsumerProducerPaused  ConsumerEventKind = "producerpause"
	ConsumerProducerResumed ConsumerEventKind = "producerresume"
)

type ConsumerEvent struct {
	Kind ConsumerEventKind
}

// PreferredLayers selects simulcast spatial/temporal quality tiers.
type PreferredLayers struct {
	SpatialLayer  int
	TemporalLayer int
}

// Consumer is the server-side handle for media a client is subscribed to,
// forwarded from a Producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RTPParameters() map[string]any
	Paused() bool
	ProducerPaused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetPreferredLayers(ctx context.Context, layers PreferredLayers) error
	Close() error
	Events() <-chan ConsumerEvent
}

// Engine is the top-level factory the worker pool uses to spin up workers.
type Engine interface {
	CreateWorker(ctx context.Context, portRange PortRange) (Worker, error)
}
