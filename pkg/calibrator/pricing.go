package calibrator

import (
	"errors"
	"fmt"
	"math"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
)

var (
	ErrZeroThroughput       = errors.New("throughput must be a positive finite number")
	ErrZeroUtilizedCapacity = errors.New("utilized capacity must be a positive finite number")
	ErrInvalidPrice         = errors.New("computed price is not a finite number")
)

type CalibrationError struct {
	Strategy Strategy
	Stage    string
	Err      error
}

func (e *CalibrationError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("calibration failed during %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s calibration failed during %s: %v", e.Strategy, e.Stage, e.Err)
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}

// PricingModel turns measured throughput into a bid price per prover gas unit:
//
//	price = costPerHour / (pgusPerSecond * 3600 * utilizationRate) * (1 + profitMargin)
type PricingModel struct {
	CostPerHour     float64
	UtilizationRate float64
	ProfitMargin    float64
}

// NewPricingModel creates a pricing model from cfg, or from the default calibration config when nil
func NewPricingModel(cfg *proverConfig.CalibrationConfig) PricingModel {
	if cfg == nil {
		cfg = proverConfig.NewDefaultCalibrationConfig()
	}
	return PricingModel{
		CostPerHour:     cfg.CostPerHour,
		UtilizationRate: cfg.UtilizationRate,
		ProfitMargin:    cfg.ProfitMargin,
	}
}

func (p PricingModel) UnitPrice(pgusPerSecond float64) (float64, error) {
	if !positiveFinite(pgusPerSecond) {
		return 0, &CalibrationError{Stage: "pricing", Err: fmt.Errorf("%w: got %v", ErrZeroThroughput, pgusPerSecond)}
	}
	pgusPerHour := pgusPerSecond * 3600
	utilized := pgusPerHour * p.UtilizationRate
	if !positiveFinite(utilized) {
		return 0, &CalibrationError{Stage: "pricing", Err: fmt.Errorf("%w: got %v", ErrZeroUtilizedCapacity, utilized)}
	}
	price := p.CostPerHour / utilized * (1 + p.ProfitMargin)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, &CalibrationError{Stage: "pricing", Err: ErrInvalidPrice}
	}
	return price, nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
