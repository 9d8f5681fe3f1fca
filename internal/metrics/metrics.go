// Package metrics exports control loop events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"modbus-pump-control/internal/control"
	"modbus-pump-control/internal/level"
)

var tankStates = []level.TankState{level.Empty, level.Full, level.Intermediate, level.SensorFault}

// PromObs is a control.Observer backed by Prometheus collectors.
type PromObs struct {
	cycles     *prometheus.CounterVec
	errors     *prometheus.CounterVec
	writes     *prometheus.CounterVec
	forceOffs  prometheus.Counter
	reconnects *prometheus.CounterVec

	levelMeters prometheus.Gauge
	pumpOn      prometheus.Gauge
	consecutive prometheus.Gauge
	connected   prometheus.Gauge
	tankState   *prometheus.GaugeVec
}

// NewPromObs creates the collectors and registers them with reg.
func NewPromObs(reg prometheus.Registerer) *PromObs {
	p := &PromObs{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpctl_cycles_total",
			Help: "Poll cycles by result (ok, error).",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpctl_errors_total",
			Help: "Failed steps by error kind.",
		}, []string{"kind"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpctl_coil_writes_total",
			Help: "Confirmed pump coil writes by command.",
		}, []string{"command"}),
		forceOffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpctl_force_offs_total",
			Help: "Fail-safe pump off attempts.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpctl_reconnects_total",
			Help: "Serial reconnects by result (ok, error).",
		}, []string{"result"}),
		levelMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_tank_level_meters",
			Help: "Last analog tank level.",
		}),
		pumpOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_pump_on",
			Help: "Last confirmed pump state: 1 on, 0 off, -1 unknown.",
		}),
		consecutive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_consecutive_errors",
			Help: "Consecutive failed steps since the last good cycle or reconnect.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_link_connected",
			Help: "1 while the serial port is open.",
		}),
		tankState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pumpctl_tank_state",
			Help: "1 for the tank state of the last good reading.",
		}, []string{"state"}),
	}
	reg.MustRegister(p.cycles, p.errors, p.writes, p.forceOffs, p.reconnects,
		p.levelMeters, p.pumpOn, p.consecutive, p.connected, p.tankState)
	p.pumpOn.Set(-1)
	return p
}

func (p *PromObs) Observe(e control.Event) {
	result := "ok"
	if e.Failed() {
		result = "error"
		p.errors.WithLabelValues(e.ErrKind).Inc()
	}

	switch e.Action {
	case control.ActionCycle:
		p.cycles.WithLabelValues(result).Inc()
		if e.Written {
			p.writes.WithLabelValues(string(e.Command)).Inc()
		}
		if e.Tank != "" {
			for _, s := range tankStates {
				v := 0.0
				if s == e.Tank {
					v = 1
				}
				p.tankState.WithLabelValues(string(s)).Set(v)
			}
		}
		if e.Mode == level.ModeAnalog && e.Tank != "" {
			p.levelMeters.Set(e.Level)
		}
	case control.ActionForceOff:
		p.forceOffs.Inc()
	case control.ActionReconnect:
		p.reconnects.WithLabelValues(result).Inc()
	}

	switch e.Pump {
	case level.PumpOn:
		p.pumpOn.Set(1)
	case level.PumpOff:
		p.pumpOn.Set(0)
	default:
		p.pumpOn.Set(-1)
	}
	p.consecutive.Set(float64(e.Health.ConsecutiveErrors))
	if e.Health.Connected {
		p.connected.Set(1)
	} else {
		p.connected.Set(0)
	}
}
