// Package mqtt publishes control loop events to a broker.
package mqtt

import (
	"encoding/json"
	"time"

	"modbus-pump-control/internal/control"
)

// Publisher publishes messages under a base topic.
type Publisher interface {
	// Publish sends a cycle event to <base>/events.
	Publish(payload []byte) error

	// PublishSystem sends a lifecycle event to <base>/system.
	PublishSystem(event SystemEvent) error

	Close() error
}

// ConnectionStatus reports whether the broker connection is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a process lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string
	Retained  bool
}

// Payload is the JSON body of a cycle event.
type Payload struct {
	Pump PumpPayload `json:"pump"`
}

type PumpPayload struct {
	Timestamp string  `json:"timestamp"`
	Loop      string  `json:"loop"`
	Action    string  `json:"action"`
	Reading   string  `json:"reading,omitempty"`
	LevelM    float64 `json:"level_m,omitempty"`
	Tank      string  `json:"tank,omitempty"`
	Command   string  `json:"command,omitempty"`
	Written   bool    `json:"written"`
	State     string  `json:"state"`
	Errors    int     `json:"consecutive_errors"`
	Connected bool    `json:"connected"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// FormatPayload renders e as JSON.
func FormatPayload(e control.Event) ([]byte, error) {
	return json.Marshal(Payload{Pump: PumpPayload{
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		Loop:      string(e.State),
		Action:    string(e.Action),
		Reading:   e.Reading,
		LevelM:    e.Level,
		Tank:      string(e.Tank),
		Command:   string(e.Command),
		Written:   e.Written,
		State:     string(e.Pump),
		Errors:    e.Health.ConsecutiveErrors,
		Connected: e.Health.Connected,
		ErrorKind: e.ErrKind,
		Error:     e.Err,
	}})
}

type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload renders a lifecycle event as JSON.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{System: SystemPayloadInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
	}})
}
