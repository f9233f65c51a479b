package proverConfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
debug: true
capacity:
  deviceCount: 2
  shardsPerDevice: 3
  minCyclesPerShard: 1000
  maxCyclesPerShard: 100000
  checkpointInterval: 500
  enableCheckpointing: true
storage:
  type: badger
  badger:
    dir: /tmp/prover-checkpoints
calibration:
  costPerHour: 0.25
  utilizationRate: 0.8
  profitMargin: 0.2
metrics:
  enabled: true
  port: 9090
verifyFinalProof: true
`

const jsonConfig = `{
	"capacityPreset": "rtx4080",
	"estimator": {"type": "heuristic", "cyclesPerByte": 10}
}`

func Test_ProverConfig(t *testing.T) {
	t.Run("Should parse a yaml config", func(t *testing.T) {
		pc, err := NewProverConfigFromYamlBytes([]byte(yamlConfig))
		require.NoError(t, err)
		require.NoError(t, pc.Validate())

		assert.True(t, pc.Debug)
		assert.Equal(t, 2, pc.Capacity.DeviceCount)
		assert.Equal(t, 6, pc.Capacity.ShardCount())
		assert.Equal(t, StorageType_Badger, pc.Storage.Type)
		assert.Equal(t, "/tmp/prover-checkpoints", pc.Storage.BadgerConfig.Dir)
		assert.Equal(t, 0.25, pc.Calibration.CostPerHour)
		assert.Equal(t, 9090, pc.Metrics.Port)
		assert.True(t, pc.VerifyFinalProof)

		// defaults filled in
		assert.Equal(t, EngineType_Simulated, pc.Engine.Type)
		assert.Equal(t, EstimatorType_Execute, pc.Estimator.Type)
		assert.Equal(t, float64(85), pc.Monitor.TemperatureCritical)
	})
	t.Run("Should resolve a preset from a json config", func(t *testing.T) {
		pc, err := NewProverConfigFromJsonBytes([]byte(jsonConfig))
		require.NoError(t, err)
		require.NoError(t, pc.Validate())

		assert.Equal(t, 4, pc.Capacity.ShardsPerDevice)
		assert.Equal(t, uint64(3_000_000), pc.Capacity.MinCyclesPerShard)
		assert.Equal(t, StorageType_Memory, pc.Storage.Type)
		assert.Equal(t, EstimatorType_Heuristic, pc.Estimator.Type)
	})
	t.Run("Should reject an unknown preset", func(t *testing.T) {
		pc := &ProverConfig{CapacityPreset: "h100"}
		assert.Error(t, pc.Validate())
	})
	t.Run("Should reject badger storage without a directory", func(t *testing.T) {
		pc := &ProverConfig{Storage: &StorageConfig{Type: StorageType_Badger, BadgerConfig: &BadgerConfig{}}}
		assert.Error(t, pc.Validate())
	})
	t.Run("Should reject metrics without a port", func(t *testing.T) {
		pc := &ProverConfig{Metrics: &MetricsConfig{Enabled: true}}
		assert.Error(t, pc.Validate())
	})
	t.Run("Should reject a bad economic model", func(t *testing.T) {
		pc := &ProverConfig{Calibration: &CalibrationConfig{CostPerHour: 0.1, UtilizationRate: 0, ProfitMargin: 0.1}}
		assert.Error(t, pc.Validate())
	})
}

func Test_CapacityConfig(t *testing.T) {
	t.Run("Should validate capacity bounds", func(t *testing.T) {
		cases := []struct {
			name    string
			cfg     CapacityConfig
			wantErr bool
		}{
			{"valid", CapacityConfig{DeviceCount: 1, ShardsPerDevice: 1, MinCyclesPerShard: 1, MaxCyclesPerShard: 1}, false},
			{"no devices", CapacityConfig{DeviceCount: 0, ShardsPerDevice: 1, MaxCyclesPerShard: 1}, true},
			{"no shards", CapacityConfig{DeviceCount: 1, ShardsPerDevice: 0, MaxCyclesPerShard: 1}, true},
			{"min above max", CapacityConfig{DeviceCount: 1, ShardsPerDevice: 1, MinCyclesPerShard: 10, MaxCyclesPerShard: 5}, true},
			{"zero max", CapacityConfig{DeviceCount: 1, ShardsPerDevice: 1}, true},
			{"checkpointing without interval", CapacityConfig{DeviceCount: 1, ShardsPerDevice: 1, MaxCyclesPerShard: 5, EnableCheckpointing: true}, true},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := tc.cfg.Validate()
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})
	t.Run("Every preset is valid", func(t *testing.T) {
		for _, name := range PresetNames() {
			cc, err := CapacityPreset(name)
			require.NoError(t, err)
			assert.NoError(t, cc.Validate(), name)
		}
	})
	t.Run("Presets are copies", func(t *testing.T) {
		a, _ := CapacityPreset(Preset_A100)
		a.DeviceCount = 1
		b, _ := CapacityPreset(Preset_A100)
		assert.Equal(t, 8, b.DeviceCount)
	})
	t.Run("Should scale rtx4090 shards with device count", func(t *testing.T) {
		expected := map[int]int{1: 6, 2: 4, 3: 3, 4: 3, 5: 2, 8: 2}
		for devices, spd := range expected {
			cc, err := ForDeviceCount(Preset_RTX4090, devices)
			require.NoError(t, err)
			assert.Equal(t, devices, cc.DeviceCount)
			assert.Equal(t, spd, cc.ShardsPerDevice)
		}

		cc, err := ForDeviceCount(Preset_A100, 2)
		require.NoError(t, err)
		assert.Equal(t, 8, cc.ShardsPerDevice)

		_, err = ForDeviceCount(Preset_A100, 0)
		assert.Error(t, err)
	})
	t.Run("Should recommend pool size from proof size", func(t *testing.T) {
		assert.Equal(t, 1, RecommendedForProofSize(50).DeviceCount)
		assert.Equal(t, 2, RecommendedForProofSize(101).DeviceCount)
		assert.Equal(t, 3, RecommendedForProofSize(1000).DeviceCount)
		assert.Equal(t, 4, RecommendedForProofSize(5000).DeviceCount)
	})
}
