package deviceCapacityManager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrGatePoisoned  = errors.New("device gate is poisoned")
)

// IGateObserver is notified whenever the number of permits held on a device changes.
type IGateObserver interface {
	ObserveInFlight(deviceId int, inUse int)
}

type GateStats struct {
	DeviceId int
	Capacity int
	InUse    int
	Peak     int
	Acquired int64
	Poisoned bool
}

type deviceGate struct {
	deviceId int
	sem      *semaphore.Weighted

	// poisonCtx is cancelled with the poison reason as its cause
	poisonCtx context.Context
	poison    context.CancelCauseFunc

	inUse    atomic.Int64
	peak     atomic.Int64
	acquired atomic.Int64
}

func (g *deviceGate) poisoned() error {
	if g.poisonCtx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w: device %d: %v", ErrGatePoisoned, g.deviceId, context.Cause(g.poisonCtx))
}

// DeviceCapacityManager bounds how many shards run on each device at once. Every device has its
// own gate of ShardsPerDevice permits; gates never contend with each other.
type DeviceCapacityManager struct {
	capacity int
	gates    []*deviceGate
	logger   *zap.Logger

	mu       sync.RWMutex
	observer IGateObserver
}

// NewDeviceCapacityManager creates one gate per device, each admitting ShardsPerDevice shards at a time
func NewDeviceCapacityManager(capacity *proverConfig.CapacityConfig, logger *zap.Logger) (*DeviceCapacityManager, error) {
	if capacity == nil || capacity.DeviceCount < 1 || capacity.ShardsPerDevice < 1 {
		return nil, fmt.Errorf("capacity manager requires at least one device with at least one slot")
	}

	gates := make([]*deviceGate, capacity.DeviceCount)
	for i := range gates {
		ctx, cancel := context.WithCancelCause(context.Background())
		gates[i] = &deviceGate{
			deviceId:  i,
			sem:       semaphore.NewWeighted(int64(capacity.ShardsPerDevice)),
			poisonCtx: ctx,
			poison:    cancel,
		}
	}
	return &DeviceCapacityManager{
		capacity: capacity.ShardsPerDevice,
		gates:    gates,
		logger:   logger,
	}, nil
}

func (m *DeviceCapacityManager) SetObserver(observer IGateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

func (m *DeviceCapacityManager) notify(g *deviceGate) {
	m.mu.RLock()
	observer := m.observer
	m.mu.RUnlock()
	if observer != nil {
		observer.ObserveInFlight(g.deviceId, int(g.inUse.Load()))
	}
}

func (m *DeviceCapacityManager) gate(deviceId int) (*deviceGate, error) {
	if deviceId < 0 || deviceId >= len(m.gates) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, deviceId)
	}
	return m.gates[deviceId], nil
}

// Acquire blocks until a permit on deviceId is free, ctx is done, or the gate is poisoned.
func (m *DeviceCapacityManager) Acquire(ctx context.Context, deviceId int) (*Permit, error) {
	g, err := m.gate(deviceId)
	if err != nil {
		return nil, err
	}
	if err := g.poisoned(); err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.poisonCtx, cancel)
	defer stop()

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if perr := g.poisoned(); perr != nil {
			return nil, perr
		}
		return nil, err
	}
	// poisoned while the permit was being granted
	if err := g.poisoned(); err != nil {
		g.sem.Release(1)
		return nil, err
	}

	inUse := g.inUse.Add(1)
	for {
		peak := g.peak.Load()
		if inUse <= peak || g.peak.CompareAndSwap(peak, inUse) {
			break
		}
	}
	g.acquired.Add(1)
	m.notify(g)

	return &Permit{
		manager:    m,
		gate:       g,
		acquiredAt: time.Now(),
	}, nil
}

// Poison marks a device unusable. Waiting and future acquirers fail with ErrGatePoisoned; permits
// already held stay valid until released.
func (m *DeviceCapacityManager) Poison(deviceId int, reason error) error {
	g, err := m.gate(deviceId)
	if err != nil {
		return err
	}
	if reason == nil {
		reason = errors.New("poisoned")
	}
	g.poison(reason)
	m.logger.Sugar().Warnw("Device gate poisoned",
		zap.Int("deviceId", deviceId),
		zap.Error(reason),
	)
	return nil
}

func (m *DeviceCapacityManager) Stats(deviceId int) (*GateStats, error) {
	g, err := m.gate(deviceId)
	if err != nil {
		return nil, err
	}
	return &GateStats{
		DeviceId: deviceId,
		Capacity: m.capacity,
		InUse:    int(g.inUse.Load()),
		Peak:     int(g.peak.Load()),
		Acquired: g.acquired.Load(),
		Poisoned: g.poisonCtx.Err() != nil,
	}, nil
}

func (m *DeviceCapacityManager) DeviceCount() int {
	return len(m.gates)
}

func (m *DeviceCapacityManager) ShardsPerDevice() int {
	return m.capacity
}

// Permit is one execution slot on a device. Release is idempotent.
type Permit struct {
	manager    *DeviceCapacityManager
	gate       *deviceGate
	acquiredAt time.Time
	once       sync.Once
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.gate.inUse.Add(-1)
		p.gate.sem.Release(1)
		p.manager.notify(p.gate)
	})
}

func (p *Permit) DeviceId() int {
	return p.gate.deviceId
}

func (p *Permit) AcquiredAt() time.Time {
	return p.acquiredAt
}
