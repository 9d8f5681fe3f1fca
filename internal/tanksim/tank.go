// Package tanksim emulates the pump unit and the sensor unit on one RTU line
// so the controller can be run on a bench without field hardware.
package tanksim

import (
	"math"
	"sync"
	"time"

	"modbus-pump-control/internal/level"
)

// TankParams describes the simulated tank. Rates are meters per second; a
// negative PumpRate models a pump that empties the tank.
type TankParams struct {
	Height       float64
	InitialLevel float64
	PumpRate     float64
	Drift        float64
	LowFloat     float64 // level at which the low float closes
	HighFloat    float64 // level at which the high float closes
	StuckHigh    bool    // high float reads closed regardless of level
}

// Tank holds the water level and the pump coil.
type Tank struct {
	mu     sync.RWMutex
	p      TankParams
	level  float64
	pumpOn bool
}

func NewTank(p TankParams) *Tank {
	return &Tank{p: p, level: clamp(p.InitialLevel, 0, p.Height)}
}

// Advance moves the level by dt of pumping and drift.
func (t *Tank) Advance(dt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rate := t.p.Drift
	if t.pumpOn {
		rate += t.p.PumpRate
	}
	t.level = clamp(t.level+rate*dt.Seconds(), 0, t.p.Height)
}

func (t *Tank) Level() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.level
}

func (t *Tank) SetLevel(m float64) {
	t.mu.Lock()
	t.level = clamp(m, 0, t.p.Height)
	t.mu.Unlock()
}

func (t *Tank) PumpOn() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pumpOn
}

func (t *Tank) SetPump(on bool) {
	t.mu.Lock()
	t.pumpOn = on
	t.mu.Unlock()
}

// Floats returns the low and high float switch contacts.
func (t *Tank) Floats() (low, high bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	low = t.level >= t.p.LowFloat
	high = t.p.StuckHigh || t.level >= t.p.HighFloat
	return low, high
}

// Raw returns the transducer register for the current level.
func (t *Tank) Raw() uint16 {
	m := t.Level()
	raw := math.Round(m / level.MetersPerBar * level.RawPerBar)
	return uint16(clamp(raw, 0, math.MaxUint16))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
