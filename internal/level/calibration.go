package level

import (
	"errors"
	"fmt"
)

// MetersPerBar is the height of a water column exerting one bar.
const MetersPerBar = 10.1972

// RawPerBar is the transducer's register scaling (hundredths of a bar).
const RawPerBar = 100.0

// PressureRange is the transducer's full-scale pressure in bar.
type PressureRange int

const (
	Range3Bar  PressureRange = 3
	Range6Bar  PressureRange = 6
	Range10Bar PressureRange = 10
)

// Valid reports whether r is one of the supported transducer ranges.
func (r PressureRange) Valid() bool {
	switch r {
	case Range3Bar, Range6Bar, Range10Bar:
		return true
	}
	return false
}

// FullScaleMeters is the deepest water column the transducer can report.
func (r PressureRange) FullScaleMeters() float64 {
	return float64(r) * MetersPerBar
}

// Calibration is the operator-supplied analog setup. It is fixed for the process lifetime.
type Calibration struct {
	Range    PressureRange
	LevelMax float64 // meters; at or above: pump on
	LevelMin float64 // meters; at or below: pump off
}

// Validate checks the band is ordered and fits inside the transducer range.
func (c Calibration) Validate() error {
	if !c.Range.Valid() {
		return fmt.Errorf("pressure range %d bar not supported (want 3, 6 or 10)", int(c.Range))
	}
	if c.LevelMin < 0 {
		return errors.New("level_min must be >= 0")
	}
	if c.LevelMin >= c.LevelMax {
		return fmt.Errorf("level_min (%.2f) must be below level_max (%.2f)", c.LevelMin, c.LevelMax)
	}
	if fs := c.Range.FullScaleMeters(); c.LevelMax > fs {
		return fmt.Errorf("level_max %.2fm exceeds %d bar full scale (%.2fm)", c.LevelMax, int(c.Range), fs)
	}
	return nil
}

// Bar converts the raw register to bar.
func Bar(raw uint16) float64 {
	return float64(raw) / RawPerBar
}

// Meters converts the raw register to meters of water column.
func Meters(raw uint16) float64 {
	return Bar(raw) * MetersPerBar
}
