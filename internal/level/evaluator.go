package level

// EvaluateDigital applies the float-switch table:
//
//	low   high   state          desired
//	off   off    Empty          On
//	on    on     Full           Off
//	off   on     SensorFault    Off
//	on    off    Intermediate   hold
func EvaluateDigital(low, high bool, last PumpState) (TankState, PumpCommand) {
	switch {
	case !low && !high:
		return Empty, decide(CommandOn, last)
	case low && high:
		return Full, decide(CommandOff, last)
	case !low && high:
		return SensorFault, decide(CommandOff, last)
	default:
		return Intermediate, CommandNoChange
	}
}

// EvaluateAnalog applies the two-threshold band. Both thresholds are inclusive.
func EvaluateAnalog(raw uint16, cal Calibration, last PumpState) (TankState, PumpCommand) {
	m := Meters(raw)
	switch {
	case m >= cal.LevelMax:
		return Full, decide(CommandOn, last)
	case m <= cal.LevelMin:
		return Empty, decide(CommandOff, last)
	default:
		return Intermediate, CommandNoChange
	}
}

// Evaluate dispatches on the reading's mode. A reading that failed to arrive is a
// SensorFault and asks for the pump to be off.
func Evaluate(r Reading, cal Calibration, last PumpState) (TankState, PumpCommand) {
	if !r.Valid {
		return SensorFault, decide(CommandOff, last)
	}
	if r.Mode == ModeAnalog {
		return EvaluateAnalog(r.Raw, cal, last)
	}
	return EvaluateDigital(r.Low, r.High, last)
}

// decide suppresses a command that the coil already reflects.
func decide(want PumpCommand, last PumpState) PumpCommand {
	if want.State() == last {
		return CommandNoChange
	}
	return want
}
