// Package level turns raw sensor-unit readings into a tank state and a pump decision.
// It performs no I/O and keeps no state; callers pass the last commanded pump state in.
package level

import "fmt"

// TankState is the semantic level derived from one reading.
type TankState string

const (
	Empty        TankState = "EMPTY"
	Full         TankState = "FULL"
	Intermediate TankState = "INTERMEDIATE"
	SensorFault  TankState = "SENSOR_FAULT"
)

// PumpCommand is the evaluator's decision for one cycle.
type PumpCommand string

const (
	CommandOn       PumpCommand = "ON"
	CommandOff      PumpCommand = "OFF"
	CommandNoChange PumpCommand = "NO_CHANGE"
)

// PumpState is the last state successfully written to the pump coil.
type PumpState string

const (
	PumpUnknown PumpState = "UNKNOWN"
	PumpOn      PumpState = "ON"
	PumpOff     PumpState = "OFF"
)

// State returns the pump state a command drives the coil to.
// NoChange has no target and reports PumpUnknown.
func (c PumpCommand) State() PumpState {
	switch c {
	case CommandOn:
		return PumpOn
	case CommandOff:
		return PumpOff
	default:
		return PumpUnknown
	}
}

// Mode selects which sensor the tank unit carries.
type Mode string

const (
	ModeDigital Mode = "digital"
	ModeAnalog  Mode = "analog"
)

// Reading is one poll result: either the float pair or the analog register.
// Readings are values and never modified after the reader returns them.
type Reading struct {
	Mode  Mode
	Valid bool

	// digital
	Low  bool
	High bool

	// analog
	Raw uint16
}

// Digital builds a valid float-switch reading.
func Digital(low, high bool) Reading {
	return Reading{Mode: ModeDigital, Valid: true, Low: low, High: high}
}

// Analog builds a valid transducer reading.
func Analog(raw uint16) Reading {
	return Reading{Mode: ModeAnalog, Valid: true, Raw: raw}
}

// Invalid marks a failed read of the given mode.
func Invalid(mode Mode) Reading {
	return Reading{Mode: mode}
}

// Summary renders the reading for logs and events.
func (r Reading) Summary() string {
	if !r.Valid {
		return fmt.Sprintf("%s: read error", r.Mode)
	}
	switch r.Mode {
	case ModeDigital:
		return fmt.Sprintf("low=%s high=%s", onOff(r.Low), onOff(r.High))
	case ModeAnalog:
		return fmt.Sprintf("raw=%d bar=%.2f level=%.2fm", r.Raw, Bar(r.Raw), Meters(r.Raw))
	default:
		return "no reading"
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
