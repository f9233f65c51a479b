package proverConfig

import (
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// CapacityConfig describes the device pool and how workloads are sized into shards.
type CapacityConfig struct {
	DeviceCount         int    `json:"deviceCount" yaml:"deviceCount"`
	ShardsPerDevice     int    `json:"shardsPerDevice" yaml:"shardsPerDevice"`
	MinCyclesPerShard   uint64 `json:"minCyclesPerShard" yaml:"minCyclesPerShard"`
	MaxCyclesPerShard   uint64 `json:"maxCyclesPerShard" yaml:"maxCyclesPerShard"`
	CheckpointInterval  uint64 `json:"checkpointInterval" yaml:"checkpointInterval"`
	EnableCheckpointing bool   `json:"enableCheckpointing" yaml:"enableCheckpointing"`
}

func (cc *CapacityConfig) Validate() error {
	var allErrors field.ErrorList
	if cc.DeviceCount < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("deviceCount"), cc.DeviceCount, "deviceCount must be at least 1"))
	}
	if cc.ShardsPerDevice < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("shardsPerDevice"), cc.ShardsPerDevice, "shardsPerDevice must be at least 1"))
	}
	if cc.MinCyclesPerShard > cc.MaxCyclesPerShard {
		allErrors = append(allErrors, field.Invalid(field.NewPath("minCyclesPerShard"), cc.MinCyclesPerShard, "minCyclesPerShard must not exceed maxCyclesPerShard"))
	}
	if cc.MaxCyclesPerShard == 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxCyclesPerShard"), cc.MaxCyclesPerShard, "maxCyclesPerShard must be greater than 0"))
	}
	if cc.EnableCheckpointing && cc.CheckpointInterval == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("checkpointInterval"), "checkpointInterval is required when checkpointing is enabled"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ShardCount is the number of shards every workload is split into.
func (cc *CapacityConfig) ShardCount() int {
	return cc.DeviceCount * cc.ShardsPerDevice
}

const (
	Preset_Default = "default"
	Preset_RTX4090 = "rtx4090"
	Preset_RTX4080 = "rtx4080"
	Preset_A100    = "a100"
	Preset_RTX3090 = "rtx3090"
	Preset_RTX3080 = "rtx3080"
)

var presets = map[string]CapacityConfig{
	Preset_Default: {DeviceCount: 8, ShardsPerDevice: 4, MinCyclesPerShard: 2_000_000, MaxCyclesPerShard: 20_000_000, CheckpointInterval: 2_000_000, EnableCheckpointing: true},
	Preset_RTX4090: {DeviceCount: 8, ShardsPerDevice: 6, MinCyclesPerShard: 5_000_000, MaxCyclesPerShard: 50_000_000, CheckpointInterval: 5_000_000, EnableCheckpointing: true},
	Preset_RTX4080: {DeviceCount: 8, ShardsPerDevice: 4, MinCyclesPerShard: 3_000_000, MaxCyclesPerShard: 30_000_000, CheckpointInterval: 3_000_000, EnableCheckpointing: true},
	Preset_A100:    {DeviceCount: 8, ShardsPerDevice: 8, MinCyclesPerShard: 10_000_000, MaxCyclesPerShard: 100_000_000, CheckpointInterval: 10_000_000, EnableCheckpointing: true},
	Preset_RTX3090: {DeviceCount: 8, ShardsPerDevice: 6, MinCyclesPerShard: 4_000_000, MaxCyclesPerShard: 40_000_000, CheckpointInterval: 4_000_000, EnableCheckpointing: true},
	Preset_RTX3080: {DeviceCount: 8, ShardsPerDevice: 3, MinCyclesPerShard: 1_500_000, MaxCyclesPerShard: 15_000_000, CheckpointInterval: 1_500_000, EnableCheckpointing: true},
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CapacityPreset returns a copy of the named hardware profile.
func CapacityPreset(name string) (*CapacityConfig, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown capacity preset '%s'", name)
	}
	return &p, nil
}

// ForDeviceCount returns the named preset resized to deviceCount devices. The rtx4090 profile
// also trades shards per device against device count so total VRAM pressure stays flat.
func ForDeviceCount(name string, deviceCount int) (*CapacityConfig, error) {
	if deviceCount < 1 {
		return nil, fmt.Errorf("device count must be at least 1, got %d", deviceCount)
	}
	cc, err := CapacityPreset(name)
	if err != nil {
		return nil, err
	}
	cc.DeviceCount = deviceCount
	if name == Preset_RTX4090 {
		switch deviceCount {
		case 1:
			cc.ShardsPerDevice = 6
		case 2:
			cc.ShardsPerDevice = 4
		case 3, 4:
			cc.ShardsPerDevice = 3
		default:
			cc.ShardsPerDevice = 2
		}
	}
	return cc, nil
}

// RecommendedForProofSize picks an rtx4090 pool size for a proof of the given size in MB.
func RecommendedForProofSize(proofSizeMb uint64) *CapacityConfig {
	var devices int
	switch {
	case proofSizeMb <= 100:
		devices = 1
	case proofSizeMb <= 500:
		devices = 2
	case proofSizeMb <= 1000:
		devices = 3
	default:
		devices = 4
	}
	cc, _ := ForDeviceCount(Preset_RTX4090, devices)
	return cc
}
