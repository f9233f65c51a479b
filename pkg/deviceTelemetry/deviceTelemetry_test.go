package deviceTelemetry

import (
	"context"
	"testing"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_StaticDeviceTelemetry(t *testing.T) {
	ctx := context.Background()
	telemetry := NewStaticDeviceTelemetry(2, "RTX 4090", 24<<30)
	assert.Equal(t, 2, telemetry.DeviceCount())

	info, err := telemetry.DeviceInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "RTX 4090", info.Name)
	assert.Equal(t, uint64(24<<30), info.MemoryFree)

	_, err = telemetry.DeviceInfo(ctx, 2)
	assert.Error(t, err)

	require.NoError(t, telemetry.Update(types.DeviceSnapshot{DeviceId: 1, Name: "RTX 4090", Temperature: 82}))
	info, err = telemetry.DeviceInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(82), info.Temperature)

	// returned snapshots are copies
	info.Temperature = 10
	again, _ := telemetry.DeviceInfo(ctx, 1)
	assert.Equal(t, float64(82), again.Temperature)

	assert.Len(t, Snapshot(ctx, telemetry), 2)
	assert.Error(t, telemetry.Update(types.DeviceSnapshot{DeviceId: 5}))
}
