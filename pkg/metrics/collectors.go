package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ponos"
	subsystem = "prover"
)

// Collectors are the Prometheus series exported by a prover instance.
type Collectors struct {
	WorkloadsTotal *prometheus.CounterVec
	ShardsTotal    *prometheus.CounterVec
	ShardDuration  *prometheus.HistogramVec
	CyclesTotal    prometheus.Counter
	DeadlineMisses prometheus.Counter
	InFlightShards *prometheus.GaugeVec

	CalibratedThroughput *prometheus.GaugeVec
	CalibratedPrice      *prometheus.GaugeVec

	AlertsTotal *prometheus.CounterVec
	SinkDropped prometheus.Counter
}

// NewCollectors registers every series on registerer. Use a fresh prometheus.NewRegistry() per
// instance in tests.
func NewCollectors(registerer prometheus.Registerer) *Collectors {
	factory := promauto.With(registerer)
	return &Collectors{
		WorkloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "workloads_total",
				Help:      "Workloads completed, by status",
			},
			[]string{"status"},
		),
		ShardsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shards_total",
				Help:      "Shards executed, by device and status",
			},
			[]string{"device", "status"},
		),
		ShardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shard_duration_seconds",
				Help:      "Time from device permit acquisition to shard proof completion",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"device"},
		),
		CyclesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cycles_processed_total",
				Help:      "Execution cycles proven across all workloads",
			},
		),
		DeadlineMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deadline_misses_total",
				Help:      "Workloads that completed after their advisory deadline",
			},
		),
		InFlightShards: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inflight_shards",
				Help:      "Shards currently holding a permit on each device",
			},
			[]string{"device"},
		),
		CalibratedThroughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "calibrated_pgus_per_second",
				Help:      "Most recent calibrated throughput, by strategy",
			},
			[]string{"strategy"},
		),
		CalibratedPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "calibrated_pgu_price",
				Help:      "Most recent calibrated unit price, by strategy",
			},
			[]string{"strategy"},
		),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "alerts_total",
				Help:      "Alerts raised, by level and category",
			},
			[]string{"level", "category"},
		),
		SinkDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sink_dropped_total",
				Help:      "Events dropped because the metrics sink buffer was full",
			},
		),
	}
}

func deviceLabel(deviceId int) string {
	return strconv.Itoa(deviceId)
}
