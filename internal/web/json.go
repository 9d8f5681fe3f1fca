package web

import (
	"encoding/json"
	"time"

	"modbus-pump-control/internal/status"
)

// StatusJSON is the JSON representation of the controller status.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

type StatusInner struct {
	Loop          string     `json:"loop"`
	Pump          string     `json:"pump"`
	Tank          string     `json:"tank"`
	Reading       string     `json:"reading"`
	LevelM        float64    `json:"level_m,omitempty"`
	Link          LinkJSON   `json:"link"`
	LastError     string     `json:"last_error,omitempty"`
	LastEventTime string     `json:"last_event_time,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"counts"`
	Config        ConfigJSON `json:"config"`
}

type LinkJSON struct {
	Connected         bool `json:"connected"`
	ConsecutiveErrors int  `json:"consecutive_errors"`
}

type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

type CountsJSON struct {
	Cycles     int `json:"cycles"`
	Failures   int `json:"failures"`
	Writes     int `json:"coil_writes"`
	ForceOffs  int `json:"force_offs"`
	Reconnects int `json:"reconnects"`
}

type ConfigJSON struct {
	Port            string `json:"port"`
	Mode            string `json:"mode"`
	PumpUnit        uint8  `json:"pump_unit"`
	SensorUnit      uint8  `json:"sensor_unit"`
	CycleIntervalMs int64  `json:"cycle_interval_ms"`
	HTTPAddr        string `json:"http_addr"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func formatJSON(snap status.Snapshot) []byte {
	last := snap.Last
	sj := StatusJSON{Status: StatusInner{
		Loop:          orUnknown(string(last.Next)),
		Pump:          orUnknown(string(last.Pump)),
		Tank:          orUnknown(string(last.Tank)),
		Reading:       last.Reading,
		LevelM:        last.Level,
		Link:          LinkJSON{Connected: last.Health.Connected, ConsecutiveErrors: last.Health.ConsecutiveErrors},
		LastError:     last.Err,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Cycles:     snap.Counts.Cycles,
			Failures:   snap.Counts.Failures,
			Writes:     snap.Counts.Writes,
			ForceOffs:  snap.Counts.ForceOffs,
			Reconnects: snap.Counts.Reconnects,
		},
		Config: ConfigJSON{
			Port:            snap.Config.Port,
			Mode:            snap.Config.Mode,
			PumpUnit:        snap.Config.PumpUnit,
			SensorUnit:      snap.Config.SensorUnit,
			CycleIntervalMs: snap.Config.CycleInterval.Milliseconds(),
			HTTPAddr:        snap.Config.HTTPAddr,
		},
	}}
	if snap.HasEvent {
		sj.Status.LastEventTime = last.Time.UTC().Format(time.RFC3339)
	}
	data, _ := json.MarshalIndent(sj, "", "  ")
	return data
}
