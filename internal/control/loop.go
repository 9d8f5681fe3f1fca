// Package control runs the poll, decide, act cycle and the link-health
// escalation that shuts the pump off whenever the sensor cannot be trusted.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"modbus-pump-control/internal/fault"
	"modbus-pump-control/internal/level"
	"modbus-pump-control/internal/utils"
)

// SensorReader polls the sensor unit. *reader.Reader satisfies it.
type SensorReader interface {
	Read(mode level.Mode, unitID uint8, inputBase, registerAddr uint16) (level.Reading, error)
}

// PumpWriter drives the pump coil. *coil.Writer satisfies it.
type PumpWriter interface {
	ApplyIfChanged(cmd level.PumpCommand) (bool, error)
	ForceOff() error
	Last() level.PumpState
	Invalidate()
}

// Link is the part of the link manager the loop escalates to.
type Link interface {
	Reconnect(ctx context.Context) error
	IsConnected() bool
}

// Config holds the loop timing and sensor addressing.
type Config struct {
	Mode            level.Mode
	SensorUnit      uint8
	InputAddress    uint16
	RegisterAddress uint16
	Calibration     level.Calibration

	CycleInterval  time.Duration
	ErrorInterval  time.Duration
	FaultHold      time.Duration
	ErrorThreshold int
}

// Loop is the single owner of the controller state.
type Loop struct {
	cfg       Config
	reader    SensorReader
	writer    PumpWriter
	link      Link
	observers []Observer

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
	log   *log.Logger

	state    LoopState
	failures int
}

// Option customises a Loop.
type Option func(*Loop)

// WithSleep replaces the wait between steps.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(fn func() time.Time) Option {
	return func(l *Loop) { l.now = fn }
}

// WithLogger sets the logger for collaborator failures the events do not carry.
func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

// WithObserver registers an event observer. Observers run in registration order.
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

func New(cfg Config, r SensorReader, w PumpWriter, lk Link, opts ...Option) *Loop {
	if cfg.ErrorThreshold < 1 {
		cfg.ErrorThreshold = 1
	}
	l := &Loop{
		cfg:    cfg,
		reader: r,
		writer: w,
		link:   lk,
		sleep:  utils.Sleep,
		now:    time.Now,
		log:    log.Default(),
		state:  Normal,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the state the next step will run in.
func (l *Loop) State() LoopState { return l.state }

// Health returns the current link health.
func (l *Loop) Health() LinkHealth {
	return LinkHealth{ConsecutiveErrors: l.failures, Connected: l.link.IsConnected()}
}

// Run steps the loop until ctx is cancelled. The pump keeps its last
// commanded state on exit.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := l.Step(ctx)
		if err := l.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Step runs the current state once, emits its event and returns how long to
// wait before the next step.
func (l *Loop) Step(ctx context.Context) (wait time.Duration) {
	ev := Event{Time: l.now(), State: l.state, Mode: l.cfg.Mode}
	defer func() {
		if r := recover(); r != nil {
			l.failures++
			ev.ErrKind = fault.Transport.String()
			ev.Err = fmt.Sprintf("panic in %s step: %v", ev.State, r)
			l.state = ErrorBackoff
			wait = 0
			if ev.State != Normal {
				wait = l.cfg.ErrorInterval
			}
		}
		ev.Next = l.state
		ev.Wait = wait
		ev.Pump = l.safePump()
		ev.Health = LinkHealth{ConsecutiveErrors: l.failures, Connected: l.safeConnected()}
		l.emit(ev)
	}()

	switch l.state {
	case ErrorBackoff:
		return l.backoff(ctx, &ev)
	case Reconnecting:
		return l.reconnect(ctx, &ev)
	default:
		return l.cycle(ctx, &ev)
	}
}

func (l *Loop) cycle(ctx context.Context, ev *Event) time.Duration {
	ev.Action = ActionCycle

	r, err := l.reader.Read(l.cfg.Mode, l.cfg.SensorUnit, l.cfg.InputAddress, l.cfg.RegisterAddress)
	ev.Reading = r.Summary()
	if r.Valid && r.Mode == level.ModeAnalog {
		ev.Level = level.Meters(r.Raw)
	}
	if err != nil {
		return l.fail(ev, err)
	}

	tank, cmd := level.Evaluate(r, l.cfg.Calibration, l.writer.Last())
	ev.Tank, ev.Command = tank, cmd

	if ctx.Err() != nil {
		return 0
	}
	written, err := l.writer.ApplyIfChanged(cmd)
	ev.Written = written
	if err != nil {
		return l.fail(ev, err)
	}

	l.failures = 0
	if tank == level.SensorFault {
		ev.ErrKind = fault.SensorInconsistency.String()
		return l.cfg.FaultHold
	}
	return l.cfg.CycleInterval
}

func (l *Loop) fail(ev *Event, err error) time.Duration {
	l.failures++
	ev.ErrKind = fault.KindOf(err).String()
	ev.Err = err.Error()
	l.state = ErrorBackoff
	return 0
}

func (l *Loop) backoff(ctx context.Context, ev *Event) time.Duration {
	ev.Action = ActionForceOff
	if ctx.Err() != nil {
		return 0
	}
	if err := l.writer.ForceOff(); err != nil {
		ev.ErrKind = fault.KindOf(err).String()
		ev.Err = err.Error()
	} else {
		ev.Written = true
		ev.Command = level.CommandOff
	}

	if l.failures >= l.cfg.ErrorThreshold {
		l.state = Reconnecting
		return 0
	}
	l.state = Normal
	return l.cfg.ErrorInterval
}

func (l *Loop) reconnect(ctx context.Context, ev *Event) time.Duration {
	ev.Action = ActionReconnect
	if err := l.link.Reconnect(ctx); err != nil {
		ev.ErrKind = fault.KindOf(err).String()
		ev.Err = err.Error()
	}
	l.failures = 0
	l.writer.Invalidate()
	l.state = Normal
	return l.cfg.ErrorInterval
}

func (l *Loop) emit(ev Event) {
	for _, o := range l.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Printf("control: observer panic: %v", r)
				}
			}()
			o.Observe(ev)
		}()
	}
}

func (l *Loop) safePump() (s level.PumpState) {
	defer func() {
		if recover() != nil {
			s = level.PumpUnknown
		}
	}()
	return l.writer.Last()
}

func (l *Loop) safeConnected() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return l.link.IsConnected()
}
