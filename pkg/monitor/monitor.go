package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/metrics"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type AlertLevel string

const (
	AlertLevel_Warning  AlertLevel = "warning"
	AlertLevel_Critical AlertLevel = "critical"
)

type AlertCategory string

const (
	AlertCategory_Temperature AlertCategory = "temperature"
	AlertCategory_Utilization AlertCategory = "utilization"
	AlertCategory_SuccessRate AlertCategory = "success-rate"
	AlertCategory_Deadline    AlertCategory = "deadline"
)

var ErrAlertNotFound = errors.New("alert not found")

type Alert struct {
	AlertId      string
	Level        AlertLevel
	Category     AlertCategory
	Message      string
	DeviceId     *int
	RaisedAt     time.Time
	Acknowledged bool
}

// Monitor turns metric snapshots and device telemetry into alerts. Alerts for the same category,
// device and level are rate limited to one per AlertInterval.
type Monitor struct {
	config   *proverConfig.MonitorConfig
	sink     metrics.IMetricsSink
	counters *metrics.ProverMetrics
	logger   *zap.Logger

	mu       sync.Mutex
	alerts   []*Alert
	limiters map[string]*rate.Limiter
}

// NewMonitor creates a monitor. sink and counters may be nil.
func NewMonitor(
	cfg *proverConfig.MonitorConfig,
	sink metrics.IMetricsSink,
	counters *metrics.ProverMetrics,
	logger *zap.Logger,
) *Monitor {
	if cfg == nil {
		cfg = proverConfig.NewDefaultMonitorConfig()
	}
	return &Monitor{
		config:   cfg,
		sink:     sink,
		counters: counters,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Evaluate checks workload success rate and per-device temperature and utilization. A device
// utilization of zero is treated as unreported. Returns the alerts raised by this call.
func (m *Monitor) Evaluate(ctx context.Context, snapshot metrics.Snapshot, devices []*types.DeviceSnapshot) []*Alert {
	var raised []*Alert

	if snapshot.WorkloadsProcessed > 0 {
		if successRate := snapshot.SuccessRate(); successRate < m.config.SuccessRateWarning {
			raised = m.appendIfRaised(ctx, raised, AlertLevel_Warning, AlertCategory_SuccessRate, nil,
				fmt.Sprintf("workload success rate %.1f%% is below %.1f%%", successRate, m.config.SuccessRateWarning))
		}
	}

	for _, d := range devices {
		if d == nil {
			continue
		}
		deviceId := d.DeviceId
		switch {
		case d.Temperature > m.config.TemperatureCritical:
			raised = m.appendIfRaised(ctx, raised, AlertLevel_Critical, AlertCategory_Temperature, &deviceId,
				fmt.Sprintf("device %d temperature %.1fC exceeds %.1fC", deviceId, d.Temperature, m.config.TemperatureCritical))
		case d.Temperature > m.config.TemperatureWarning:
			raised = m.appendIfRaised(ctx, raised, AlertLevel_Warning, AlertCategory_Temperature, &deviceId,
				fmt.Sprintf("device %d temperature %.1fC exceeds %.1fC", deviceId, d.Temperature, m.config.TemperatureWarning))
		}
		if d.Utilization > 0 && d.Utilization < m.config.UtilizationWarning {
			raised = m.appendIfRaised(ctx, raised, AlertLevel_Warning, AlertCategory_Utilization, &deviceId,
				fmt.Sprintf("device %d utilization %.1f%% is below %.1f%%", deviceId, d.Utilization, m.config.UtilizationWarning))
		}
	}
	return raised
}

// RecordDeadlineMiss raises a critical alert for a workload that finished after its deadline.
func (m *Monitor) RecordDeadlineMiss(ctx context.Context, workloadId string, late time.Duration) *Alert {
	return m.raise(ctx, AlertLevel_Critical, AlertCategory_Deadline, nil,
		fmt.Sprintf("workload %s missed its deadline by %s", workloadId, late))
}

func (m *Monitor) appendIfRaised(ctx context.Context, raised []*Alert, level AlertLevel, category AlertCategory, deviceId *int, message string) []*Alert {
	if alert := m.raise(ctx, level, category, deviceId, message); alert != nil {
		raised = append(raised, alert)
	}
	return raised
}

func (m *Monitor) raise(ctx context.Context, level AlertLevel, category AlertCategory, deviceId *int, message string) *Alert {
	m.mu.Lock()
	if !m.limiter(level, category, deviceId).Allow() {
		m.mu.Unlock()
		return nil
	}
	alert := &Alert{
		AlertId:  uuid.New().String(),
		Level:    level,
		Category: category,
		Message:  message,
		DeviceId: deviceId,
		RaisedAt: time.Now(),
	}
	m.alerts = append(m.alerts, alert)
	if m.config.MaxAlerts > 0 && len(m.alerts) > m.config.MaxAlerts {
		m.alerts = slices.Delete(m.alerts, 0, len(m.alerts)-m.config.MaxAlerts)
	}
	published := *alert
	m.mu.Unlock()

	record := &metrics.AlertRecord{
		Level:    string(level),
		Category: string(category),
		Message:  message,
		DeviceId: deviceId,
		RaisedAt: alert.RaisedAt,
	}
	if m.counters != nil {
		m.counters.ObserveAlert(record)
	}
	if m.sink != nil {
		if err := m.sink.PublishAlert(ctx, record); err != nil {
			m.logger.Sugar().Debugw("Failed to publish alert", zap.Error(err))
		}
	}
	m.logger.Sugar().Warnw("Alert raised",
		zap.String("level", string(level)),
		zap.String("category", string(category)),
		zap.String("message", message),
	)
	return &published
}

// limiter must be called with mu held.
func (m *Monitor) limiter(level AlertLevel, category AlertCategory, deviceId *int) *rate.Limiter {
	key := fmt.Sprintf("%s/%s", category, level)
	if deviceId != nil {
		key = fmt.Sprintf("%s/%d", key, *deviceId)
	}
	l, ok := m.limiters[key]
	if !ok {
		limit := rate.Inf
		if m.config.AlertInterval > 0 {
			limit = rate.Every(m.config.AlertInterval)
		}
		l = rate.NewLimiter(limit, 1)
		m.limiters[key] = l
	}
	return l
}

// Alerts returns copies of the retained alerts, oldest first.
func (m *Monitor) Alerts(unacknowledgedOnly bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if unacknowledgedOnly && a.Acknowledged {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func (m *Monitor) Acknowledge(alertId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.AlertId == alertId {
			a.Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, alertId)
}
