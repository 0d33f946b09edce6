// Package lotsize implements the Lot Calculator: a pure function deriving
// the client order volume from the donor's volume and account balances,
// given a sizing mode and the client symbol's volume constraints.
package lotsize

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode selects how the client lot is derived from the donor lot.
type Mode string

const (
	Fixed      Mode = "fixed"      // lot = Value, ignoring the donor's volume
	Proportion Mode = "proportion" // lot = donorVolume * Value
	Autolot    Mode = "autolot"    // lot = (clientBalance / 1000) * Value
)

// Config mirrors app_config.json's lot_config block.
type Config struct {
	Mode   Mode
	Value  float64
	MinLot float64
	MaxLot float64
}

// Calculate derives the client lot for one donor position, clamped to
// [MinLot, MaxLot] and rounded to a multiple of volumeStep, matching
// original_source/utils.py's calculate_lot_size exactly.
func Calculate(cfg Config, donorVolume, clientBalance, volumeStep float64) (float64, error) {
	value := decimal.NewFromFloat(cfg.Value)
	step := decimal.NewFromFloat(volumeStep)
	if step.IsZero() {
		step = decimal.NewFromFloat(0.01)
	}

	var lot decimal.Decimal
	switch cfg.Mode {
	case Fixed:
		lot = value
	case Proportion:
		lot = decimal.NewFromFloat(donorVolume).Mul(value)
	case Autolot:
		lot = decimal.NewFromFloat(clientBalance).Div(decimal.NewFromInt(1000)).Mul(value)
	default:
		return 0, fmt.Errorf("lotsize: unknown mode %q", cfg.Mode)
	}

	lot = roundToStep(lot, step)

	min := decimal.NewFromFloat(cfg.MinLot)
	max := decimal.NewFromFloat(cfg.MaxLot)
	if lot.LessThan(min) {
		lot = min
	}
	if lot.GreaterThan(max) {
		lot = max
	}
	lot = roundToStep(lot, step)

	result, _ := lot.Float64()
	return result, nil
}

// roundToStep rounds to the nearest multiple of step (half-up), matching
// the original's `round(lot / volume_step) * volume_step`.
func roundToStep(lot, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return lot
	}
	units := lot.Div(step).Round(0)
	return units.Mul(step)
}
