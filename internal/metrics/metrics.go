// Package metrics exposes the Prometheus gauges and counters the worker
// pool updates as workers start, die and change load, grounded on the
// teacher pack's prometheus_collector.go.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the orchestration core publishes. Only the
// Worker* gauges/counters are updated (by internal/workerpool);
// RoomsActive, PeersConnected, ProducersActive, ConsumersActive,
// JoinsTotal and JoinsRejectedTotal are registered but no package
// updates them.
type Collector struct {
	WorkersAlive       prometheus.Gauge
	WorkerRestarts     prometheus.Counter
	WorkerRouters      *prometheus.GaugeVec
	WorkerTransports   *prometheus.GaugeVec
	WorkerConsumers    *prometheus.GaugeVec
	WorkerProducers    *prometheus.GaugeVec
	RoomsActive        prometheus.Gauge
	PeersConnected     prometheus.Gauge
	ProducersActive    prometheus.Gauge
	ConsumersActive    prometheus.Gauge
	JoinsTotal         prometheus.Counter
	JoinsRejectedTotal *prometheus.CounterVec
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// NewCollector registers every metric against the default registry. The
// registration happens once per process; later calls return the same
// Collector.
func NewCollector() *Collector {
	defaultOnce.Do(func() { defaultCollector = newCollector() })
	return defaultCollector
}

func newCollector() *Collector {
	return &Collector{
		WorkersAlive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_workers_alive",
			Help: "Number of media-engine workers currently alive in the pool",
		}),
		WorkerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sfu_worker_restarts_total",
			Help: "Total number of worker restarts performed after a death signal",
		}),
		WorkerRouters: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfu_worker_routers",
			Help: "Number of routers currently placed on a worker",
		}, []string{"worker_pid"}),
		WorkerTransports: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfu_worker_transports",
			Help: "Number of transports currently open on a worker",
		}, []string{"worker_pid"}),
		WorkerConsumers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfu_worker_consumers",
			Help: "Number of consumers currently open on a worker",
		}, []string{"worker_pid"}),
		WorkerProducers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfu_worker_producers",
			Help: "Number of producers currently open on a worker",
		}, []string{"worker_pid"}),
		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_rooms_active",
			Help: "Number of rooms currently open",
		}),
		PeersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_peers_connected",
			Help: "Number of peers currently registered",
		}),
		ProducersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_producers_active",
			Help: "Number of producers currently live across all rooms",
		}),
		ConsumersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_consumers_active",
			Help: "Number of consumers currently live across all peers",
		}),
		JoinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sfu_joins_total",
			Help: "Total number of successful joinRoom handshakes",
		}),
		JoinsRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sfu_joins_rejected_total",
			Help: "Total number of rejected joinRoom attempts by reason",
		}, []string{"reason"}),
	}
}
