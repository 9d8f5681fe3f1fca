// Package fault classifies the failures the controller can run into on the bus
// and in the field. Only the control loop decides what a kind means.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the recovery class of an error.
type Kind int

const (
	// Transport: link down, timeout, no response. Recovered by reconnecting.
	Transport Kind = iota + 1
	// Protocol: a frame arrived but carried an exception or was short. Recovered by retrying.
	Protocol
	// SensorInconsistency: the floats report something physically impossible.
	SensorInconsistency
	// Write: a coil command was not confirmed by the pump unit.
	Write
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case SensorInconsistency:
		return "sensor_inconsistency"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Error carries a Kind together with the failing operation and unit.
type Error struct {
	Kind Kind
	Op   string // e.g. "read discrete inputs", "write coil"
	Unit uint8
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unit=%d: %s failure", e.Op, e.Unit, e.Kind)
	}
	return fmt.Sprintf("%s unit=%d: %s: %v", e.Op, e.Unit, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err still produces an error value.
func New(kind Kind, op string, unit uint8, err error) *Error {
	return &Error{Kind: kind, Op: op, Unit: unit, Err: err}
}

// KindOf returns the outermost Kind found in the chain.
// Errors that were never classified count as Transport: an unexplained
// failure on the bus is treated as a link problem.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transport
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
