// Package status keeps the latest controller state for the HTTP server.
package status

import (
	"sync"
	"time"

	"modbus-pump-control/internal/control"
)

// Config is the configuration shown on the status page.
type Config struct {
	Port          string
	Mode          string
	PumpUnit      uint8
	SensorUnit    uint8
	CycleInterval time.Duration
	Broker        string
	HTTPAddr      string
}

// Counts accumulates event outcomes since start.
type Counts struct {
	Cycles     int
	Failures   int
	Writes     int
	ForceOffs  int
	Reconnects int
}

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	Last          control.Event
	HasEvent      bool
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker is a control.Observer that keeps the last event and running counts.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{StartTime: startTime, Config: cfg},
		now:  time.Now,
	}
}

func (t *Tracker) Observe(e control.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Last = e
	t.snap.HasEvent = true
	c := &t.snap.Counts
	if e.Failed() {
		c.Failures++
	}
	switch e.Action {
	case control.ActionCycle:
		c.Cycles++
		if e.Written {
			c.Writes++
		}
	case control.ActionForceOff:
		c.ForceOffs++
	case control.ActionReconnect:
		c.Reconnects++
	}
}

func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a copy with Now set to the current time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
