package metrics

import (
	"maps"
	"sync"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// WorkloadSummary is everything the prover learned about one workload. It is recorded exactly once.
type WorkloadSummary struct {
	WorkloadId     string
	Mode           types.AssuranceMode
	TotalCycles    uint64
	Results        []*types.ShardResult
	ProcessingTime time.Duration
	Succeeded      bool
	DeadlineMissed bool
	Err            error
}

// Snapshot is a point-in-time copy of the cumulative counters.
type Snapshot struct {
	WorkloadsProcessed  uint64
	WorkloadsFailed     uint64
	ShardsProcessed     uint64
	ShardsFailed        uint64
	CyclesProcessed     uint64
	TotalProcessingTime time.Duration
	AverageLatency      time.Duration
	FastestWorkload     time.Duration
	SlowestWorkload     time.Duration
	DeadlineMisses      uint64
	DeviceShards        map[int]uint64
	Errors              uint64
	LastError           string
	LastUpdated         time.Time
}

// ProverMetrics aggregates performance across every workload a prover instance handled.
type ProverMetrics struct {
	mu         sync.Mutex
	snapshot   Snapshot
	collectors *Collectors
}

// NewProverMetrics creates the aggregate. Prometheus collectors are registered only when
// registerer is non-nil.
func NewProverMetrics(registerer prometheus.Registerer) *ProverMetrics {
	m := &ProverMetrics{
		snapshot: Snapshot{DeviceShards: make(map[int]uint64)},
	}
	if registerer != nil {
		m.collectors = NewCollectors(registerer)
	}
	return m
}

func (m *ProverMetrics) Collectors() *Collectors {
	return m.collectors
}

// RecordWorkload folds one completed workload into the aggregate.
func (m *ProverMetrics) RecordWorkload(summary *WorkloadSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.snapshot
	s.WorkloadsProcessed++
	if !summary.Succeeded {
		s.WorkloadsFailed++
	}
	if summary.Err != nil {
		s.Errors++
		s.LastError = summary.Err.Error()
	}
	if summary.DeadlineMissed {
		s.DeadlineMisses++
	}

	for _, r := range summary.Results {
		s.ShardsProcessed++
		s.DeviceShards[r.DeviceId]++
		if !r.Succeeded() {
			s.ShardsFailed++
		}
		s.CyclesProcessed += r.Cycles
	}

	s.TotalProcessingTime += summary.ProcessingTime
	s.AverageLatency = s.TotalProcessingTime / time.Duration(s.WorkloadsProcessed)
	if s.FastestWorkload == 0 || summary.ProcessingTime < s.FastestWorkload {
		s.FastestWorkload = summary.ProcessingTime
	}
	if summary.ProcessingTime > s.SlowestWorkload {
		s.SlowestWorkload = summary.ProcessingTime
	}
	s.LastUpdated = time.Now()

	m.export(summary)
}

func (m *ProverMetrics) export(summary *WorkloadSummary) {
	c := m.collectors
	if c == nil {
		return
	}
	status := "success"
	if !summary.Succeeded {
		status = "failure"
	}
	c.WorkloadsTotal.WithLabelValues(status).Inc()
	if summary.DeadlineMissed {
		c.DeadlineMisses.Inc()
	}
	for _, r := range summary.Results {
		shardStatus := "success"
		if !r.Succeeded() {
			shardStatus = "failure"
		}
		device := deviceLabel(r.DeviceId)
		c.ShardsTotal.WithLabelValues(device, shardStatus).Inc()
		c.ShardDuration.WithLabelValues(device).Observe(r.ProcessingTime.Seconds())
		c.CyclesTotal.Add(float64(r.Cycles))
	}
}

func (m *ProverMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshot
	s.DeviceShards = maps.Clone(m.snapshot.DeviceShards)
	return s
}

func (m *ProverMetrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.SuccessRate()
}

// SuccessRate is the percentage of workloads that produced a proof, 100 before any were recorded.
func (s Snapshot) SuccessRate() float64 {
	if s.WorkloadsProcessed == 0 {
		return 100
	}
	succeeded := s.WorkloadsProcessed - s.WorkloadsFailed
	return float64(succeeded) / float64(s.WorkloadsProcessed) * 100
}

// ObserveInFlight reports device gate occupancy.
func (m *ProverMetrics) ObserveInFlight(deviceId int, inUse int) {
	if m.collectors == nil {
		return
	}
	m.collectors.InFlightShards.WithLabelValues(deviceLabel(deviceId)).Set(float64(inUse))
}

func (m *ProverMetrics) ObserveCalibration(record *CalibrationRecord) {
	if m.collectors == nil || record == nil {
		return
	}
	m.collectors.CalibratedThroughput.WithLabelValues(record.Strategy).Set(record.PgusPerSecond)
	m.collectors.CalibratedPrice.WithLabelValues(record.Strategy).Set(record.PguPrice)
}

func (m *ProverMetrics) ObserveAlert(record *AlertRecord) {
	if m.collectors == nil || record == nil {
		return
	}
	m.collectors.AlertsTotal.WithLabelValues(record.Level, record.Category).Inc()
}
