package proverConfig

import (
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/config"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "PROVER_"

	Debug       = "debug"
	MetricsPort = "metrics-port"
	Preset      = "capacity-preset"
	DeviceCount = "device-count"
	StorageDir  = "storage-dir"
)

const (
	StorageType_Memory = "memory"
	StorageType_Badger = "badger"

	EngineType_Simulated = "simulated"

	EstimatorType_Heuristic = "heuristic"
	EstimatorType_Execute   = "execute"
)

// StorageConfig selects where checkpoints live while a workload is in flight
type StorageConfig struct {
	Type         string        `json:"type" yaml:"type"` // "memory" or "badger"
	BadgerConfig *BadgerConfig `json:"badger,omitempty" yaml:"badger,omitempty"`
}

// BadgerConfig contains configuration for BadgerDB storage
type BadgerConfig struct {
	// Directory where BadgerDB will store its data
	Dir string `json:"dir" yaml:"dir"`
	// InMemory runs BadgerDB in memory-only mode (for testing)
	InMemory bool `json:"inMemory,omitempty" yaml:"inMemory,omitempty"`
	// ValueLogFileSize sets the maximum size of a single value log file
	ValueLogFileSize int64 `json:"valueLogFileSize,omitempty" yaml:"valueLogFileSize,omitempty"`
	// NumVersionsToKeep sets how many versions to keep for each key
	NumVersionsToKeep int `json:"numVersionsToKeep,omitempty" yaml:"numVersionsToKeep,omitempty"`
	// GCInterval is how often the value log is garbage collected; 0 uses the store default
	GCInterval time.Duration `json:"gcInterval,omitempty" yaml:"gcInterval,omitempty"`
}

func (sc *StorageConfig) Validate() error {
	var allErrors field.ErrorList

	if sc.Type == "" {
		sc.Type = StorageType_Memory
	}

	if sc.Type != StorageType_Memory && sc.Type != StorageType_Badger {
		allErrors = append(allErrors, field.Invalid(field.NewPath("type"), sc.Type, "type must be 'memory' or 'badger'"))
	}

	if sc.Type == StorageType_Badger {
		if sc.BadgerConfig == nil {
			allErrors = append(allErrors, field.Required(field.NewPath("badger"), "badger configuration is required when type is 'badger'"))
		} else if sc.BadgerConfig.Dir == "" && !sc.BadgerConfig.InMemory {
			allErrors = append(allErrors, field.Required(field.NewPath("badger.dir"), "badger directory is required"))
		}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// SimulatedEngineConfig tunes the simulated proving engine used when no hardware backend is wired.
type SimulatedEngineConfig struct {
	// CyclesPerByte scales input size into the simulated execution length
	CyclesPerByte uint64 `json:"cyclesPerByte" yaml:"cyclesPerByte"`
	// BaseCycles is added to every execution
	BaseCycles uint64 `json:"baseCycles" yaml:"baseCycles"`
	// ProveTimePerMillionCycles is the simulated proving latency
	ProveTimePerMillionCycles time.Duration `json:"proveTimePerMillionCycles" yaml:"proveTimePerMillionCycles"`
	SetupTime                 time.Duration `json:"setupTime" yaml:"setupTime"`
	ComposeTime               time.Duration `json:"composeTime" yaml:"composeTime"`
}

type EngineConfig struct {
	Type      string                 `json:"type" yaml:"type"`
	Simulated *SimulatedEngineConfig `json:"simulated,omitempty" yaml:"simulated,omitempty"`
}

func (ec *EngineConfig) Validate() error {
	var allErrors field.ErrorList
	if ec.Type == "" {
		ec.Type = EngineType_Simulated
	}
	if ec.Type != EngineType_Simulated {
		allErrors = append(allErrors, field.Invalid(field.NewPath("type"), ec.Type, "type must be 'simulated'"))
	}
	if ec.Simulated == nil {
		ec.Simulated = &SimulatedEngineConfig{
			CyclesPerByte: 1_000,
			BaseCycles:    1_000_000,
		}
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

type EstimatorConfig struct {
	Type          string `json:"type" yaml:"type"`
	CyclesPerByte uint64 `json:"cyclesPerByte" yaml:"cyclesPerByte"`
	BaseCycles    uint64 `json:"baseCycles" yaml:"baseCycles"`
}

func (ec *EstimatorConfig) Validate() error {
	var allErrors field.ErrorList
	if ec.Type == "" {
		ec.Type = EstimatorType_Execute
	}
	if !slices.Contains([]string{EstimatorType_Heuristic, EstimatorType_Execute}, ec.Type) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("type"), ec.Type, "type must be one of [heuristic, execute]"))
	}
	if ec.Type == EstimatorType_Heuristic && ec.CyclesPerByte == 0 && ec.BaseCycles == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("cyclesPerByte"), "cyclesPerByte or baseCycles is required for the heuristic estimator"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// CalibrationConfig is the economic model used to turn throughput into a unit price.
type CalibrationConfig struct {
	CostPerHour     float64 `json:"costPerHour" yaml:"costPerHour"`
	UtilizationRate float64 `json:"utilizationRate" yaml:"utilizationRate"`
	ProfitMargin    float64 `json:"profitMargin" yaml:"profitMargin"`
}

func (cc *CalibrationConfig) Validate() error {
	var allErrors field.ErrorList
	if cc.CostPerHour < 0 || math.IsNaN(cc.CostPerHour) || math.IsInf(cc.CostPerHour, 0) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("costPerHour"), cc.CostPerHour, "costPerHour must be a non-negative number"))
	}
	if cc.UtilizationRate <= 0 || cc.UtilizationRate > 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("utilizationRate"), cc.UtilizationRate, "utilizationRate must be in (0, 1]"))
	}
	if cc.ProfitMargin < 0 || math.IsNaN(cc.ProfitMargin) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("profitMargin"), cc.ProfitMargin, "profitMargin must be non-negative"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func NewDefaultCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		CostPerHour:     0.1,
		UtilizationRate: 0.5,
		ProfitMargin:    0.1,
	}
}

type MonitorConfig struct {
	TemperatureWarning  float64       `json:"temperatureWarning" yaml:"temperatureWarning"`
	TemperatureCritical float64       `json:"temperatureCritical" yaml:"temperatureCritical"`
	UtilizationWarning  float64       `json:"utilizationWarning" yaml:"utilizationWarning"`
	SuccessRateWarning  float64       `json:"successRateWarning" yaml:"successRateWarning"`
	AlertInterval       time.Duration `json:"alertInterval" yaml:"alertInterval"`
	MaxAlerts           int           `json:"maxAlerts" yaml:"maxAlerts"`
}

func NewDefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		TemperatureWarning:  80,
		TemperatureCritical: 85,
		UtilizationWarning:  70,
		SuccessRateWarning:  95,
		AlertInterval:       time.Minute,
		MaxAlerts:           1000,
	}
}

func (mc *MonitorConfig) Validate() error {
	var allErrors field.ErrorList
	if mc.TemperatureWarning > mc.TemperatureCritical {
		allErrors = append(allErrors, field.Invalid(field.NewPath("temperatureWarning"), mc.TemperatureWarning, "temperatureWarning must not exceed temperatureCritical"))
	}
	if mc.SuccessRateWarning < 0 || mc.SuccessRateWarning > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("successRateWarning"), mc.SuccessRateWarning, "successRateWarning must be a percentage"))
	}
	if mc.MaxAlerts < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxAlerts"), mc.MaxAlerts, "maxAlerts must not be negative"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
	// SinkBufferSize bounds how many summaries may queue for the metrics sink before they are dropped
	SinkBufferSize int `json:"sinkBufferSize" yaml:"sinkBufferSize"`
}

type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
}

type ProverConfig struct {
	Debug            bool
	CapacityPreset   string             `json:"capacityPreset" yaml:"capacityPreset"`
	Capacity         *CapacityConfig    `json:"capacity" yaml:"capacity"`
	Storage          *StorageConfig     `json:"storage,omitempty" yaml:"storage,omitempty"`
	Engine           *EngineConfig      `json:"engine,omitempty" yaml:"engine,omitempty"`
	Estimator        *EstimatorConfig   `json:"estimator,omitempty" yaml:"estimator,omitempty"`
	Calibration      *CalibrationConfig `json:"calibration,omitempty" yaml:"calibration,omitempty"`
	Monitor          *MonitorConfig     `json:"monitor,omitempty" yaml:"monitor,omitempty"`
	Metrics          *MetricsConfig     `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing          *TracingConfig     `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	VerifyFinalProof bool               `json:"verifyFinalProof" yaml:"verifyFinalProof"`
}

// Validate fills unset sections with defaults and validates every section.
func (pc *ProverConfig) Validate() error {
	var allErrors field.ErrorList

	if pc.Capacity == nil {
		preset := pc.CapacityPreset
		if preset == "" {
			preset = Preset_Default
		}
		cc, err := CapacityPreset(preset)
		if err != nil {
			allErrors = append(allErrors, field.NotSupported(field.NewPath("capacityPreset"), pc.CapacityPreset, PresetNames()))
		} else {
			pc.Capacity = cc
		}
	}
	if pc.Capacity != nil {
		if err := pc.Capacity.Validate(); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("capacity"), pc.Capacity, err.Error()))
		}
	}

	if pc.Storage == nil {
		pc.Storage = &StorageConfig{Type: StorageType_Memory}
	}
	if err := pc.Storage.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("storage"), pc.Storage, err.Error()))
	}

	if pc.Engine == nil {
		pc.Engine = &EngineConfig{}
	}
	if err := pc.Engine.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("engine"), pc.Engine, err.Error()))
	}

	if pc.Estimator == nil {
		pc.Estimator = &EstimatorConfig{}
	}
	if err := pc.Estimator.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("estimator"), pc.Estimator, err.Error()))
	}

	if pc.Calibration == nil {
		pc.Calibration = NewDefaultCalibrationConfig()
	}
	if err := pc.Calibration.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("calibration"), pc.Calibration, err.Error()))
	}

	if pc.Monitor == nil {
		pc.Monitor = NewDefaultMonitorConfig()
	}
	if err := pc.Monitor.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("monitor"), pc.Monitor, err.Error()))
	}

	if pc.Metrics == nil {
		pc.Metrics = &MetricsConfig{}
	}
	if pc.Metrics.Enabled && (pc.Metrics.Port <= 0 || pc.Metrics.Port > 65535) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("metrics.port"), pc.Metrics.Port, "port must be between 1 and 65535 when metrics are enabled"))
	}
	if pc.Metrics.SinkBufferSize == 0 {
		pc.Metrics.SinkBufferSize = 256
	}

	if pc.Tracing == nil {
		pc.Tracing = &TracingConfig{}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// NewProverConfig builds a config from flags and environment when no config file is given.
func NewProverConfig() *ProverConfig {
	pc := &ProverConfig{
		Debug:          viper.GetBool(config.NormalizeFlagName(Debug)),
		CapacityPreset: viper.GetString(config.NormalizeFlagName(Preset)),
	}
	if deviceCount := viper.GetInt(config.NormalizeFlagName(DeviceCount)); deviceCount > 0 {
		preset := pc.CapacityPreset
		if preset == "" {
			preset = Preset_Default
		}
		if cc, err := ForDeviceCount(preset, deviceCount); err == nil {
			pc.Capacity = cc
		}
	}
	if port := viper.GetInt(config.NormalizeFlagName(MetricsPort)); port > 0 {
		pc.Metrics = &MetricsConfig{Enabled: true, Port: port}
	}
	if dir := viper.GetString(config.NormalizeFlagName(StorageDir)); dir != "" {
		pc.Storage = &StorageConfig{
			Type:         StorageType_Badger,
			BadgerConfig: &BadgerConfig{Dir: dir},
		}
	}
	return pc
}

func NewProverConfigFromYamlBytes(data []byte) (*ProverConfig, error) {
	var pc *ProverConfig
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return nil, err
	}
	return pc, nil
}

func NewProverConfigFromJsonBytes(data []byte) (*ProverConfig, error) {
	var pc *ProverConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, err
	}
	return pc, nil
}
