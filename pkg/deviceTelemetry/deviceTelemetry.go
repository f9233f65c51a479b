package deviceTelemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
)

// IDeviceTelemetryProvider reports accelerator state. Values are used for reporting and alerting
// only; scheduling never depends on them.
type IDeviceTelemetryProvider interface {
	DeviceCount() int
	DeviceInfo(ctx context.Context, deviceId int) (*types.DeviceSnapshot, error)
}

// StaticDeviceTelemetry serves fixed device descriptions, optionally updated by tests or a poller.
type StaticDeviceTelemetry struct {
	mu      sync.RWMutex
	devices []types.DeviceSnapshot
}

// NewStaticDeviceTelemetry describes count identical devices with the given name and memory.
func NewStaticDeviceTelemetry(count int, name string, memoryTotal uint64) *StaticDeviceTelemetry {
	devices := make([]types.DeviceSnapshot, count)
	for i := range devices {
		devices[i] = types.DeviceSnapshot{
			DeviceId:    i,
			Name:        name,
			MemoryTotal: memoryTotal,
			MemoryFree:  memoryTotal,
		}
	}
	return &StaticDeviceTelemetry{devices: devices}
}

func (s *StaticDeviceTelemetry) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

func (s *StaticDeviceTelemetry) DeviceInfo(ctx context.Context, deviceId int) (*types.DeviceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if deviceId < 0 || deviceId >= len(s.devices) {
		return nil, fmt.Errorf("device %d not found", deviceId)
	}
	snapshot := s.devices[deviceId]
	return &snapshot, nil
}

// Update replaces the reported state of one device.
func (s *StaticDeviceTelemetry) Update(snapshot types.DeviceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot.DeviceId < 0 || snapshot.DeviceId >= len(s.devices) {
		return fmt.Errorf("device %d not found", snapshot.DeviceId)
	}
	s.devices[snapshot.DeviceId] = snapshot
	return nil
}

// Snapshot collects every device, skipping any the provider fails to describe.
func Snapshot(ctx context.Context, provider IDeviceTelemetryProvider) []*types.DeviceSnapshot {
	snapshots := make([]*types.DeviceSnapshot, 0, provider.DeviceCount())
	for i := 0; i < provider.DeviceCount(); i++ {
		info, err := provider.DeviceInfo(ctx, i)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, info)
	}
	return snapshots
}
