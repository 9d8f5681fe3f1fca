package control

import (
	"time"

	"modbus-pump-control/internal/level"
)

// LoopState is the escalation state of the control loop.
type LoopState string

const (
	Normal       LoopState = "NORMAL"
	ErrorBackoff LoopState = "ERROR_BACKOFF"
	Reconnecting LoopState = "RECONNECTING"
)

// Action names what a step did.
type Action string

const (
	ActionCycle     Action = "cycle"
	ActionForceOff  Action = "force_off"
	ActionReconnect Action = "reconnect"
)

// LinkHealth is the consecutive failure count and whether the port is open.
type LinkHealth struct {
	ConsecutiveErrors int  `json:"consecutive_errors"`
	Connected         bool `json:"connected"`
}

// Event describes one loop step. It is handed to every Observer by value.
type Event struct {
	Time    time.Time         `json:"time"`
	State   LoopState         `json:"state"` // state the step ran in
	Action  Action            `json:"action"`
	Mode    level.Mode        `json:"mode"`
	Reading string            `json:"reading,omitempty"`
	Level   float64           `json:"level_m,omitempty"`
	Tank    level.TankState   `json:"tank,omitempty"`
	Command level.PumpCommand `json:"command,omitempty"`
	Written bool              `json:"written"`
	Pump    level.PumpState   `json:"pump"`
	Health  LinkHealth        `json:"link"`
	Next    LoopState         `json:"next"`
	Wait    time.Duration     `json:"wait"`
	ErrKind string            `json:"error_kind,omitempty"`
	Err     string            `json:"error,omitempty"`
}

// Failed reports whether the step ended in an error.
func (e Event) Failed() bool { return e.Err != "" }

// Observer receives every event on the loop goroutine. Implementations must
// not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
