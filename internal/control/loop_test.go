package control

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"modbus-pump-control/internal/coil"
	"modbus-pump-control/internal/fault"
	"modbus-pump-control/internal/level"
	"modbus-pump-control/internal/link"
	"modbus-pump-control/internal/reader"
	"modbus-pump-control/internal/utils"
)

type recorder struct{ calls []string }

func (r *recorder) add(s string) { r.calls = append(r.calls, s) }

type step struct {
	r   level.Reading
	err error
}

type fakeReader struct {
	rec     *recorder
	script  []step
	i       int
	panicAt int // 1-based read index that panics; 0 never
}

func (f *fakeReader) Read(mode level.Mode, unit uint8, base, reg uint16) (level.Reading, error) {
	f.rec.add("read")
	f.i++
	if f.i == f.panicAt {
		panic("serial driver exploded")
	}
	s := f.script[len(f.script)-1]
	if f.i <= len(f.script) {
		s = f.script[f.i-1]
	}
	return s.r, s.err
}

type fakeWriter struct {
	rec       *recorder
	last      level.PumpState
	applyErrs []error
	forceErr  error
}

func (f *fakeWriter) ApplyIfChanged(cmd level.PumpCommand) (bool, error) {
	target := cmd.State()
	if target == level.PumpUnknown || target == f.last {
		return false, nil
	}
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		if err != nil {
			f.rec.add("write-failed")
			return false, err
		}
	}
	f.rec.add("write:" + string(cmd))
	f.last = target
	return true, nil
}

func (f *fakeWriter) ForceOff() error {
	f.rec.add("force_off")
	if f.forceErr != nil {
		return f.forceErr
	}
	f.last = level.PumpOff
	return nil
}

func (f *fakeWriter) Last() level.PumpState { return f.last }

func (f *fakeWriter) Invalidate() {
	f.rec.add("invalidate")
	f.last = level.PumpUnknown
}

type fakeLink struct {
	rec       *recorder
	connected bool
	err       error
}

func (f *fakeLink) Reconnect(context.Context) error {
	f.rec.add("reconnect")
	f.connected = f.err == nil
	return f.err
}

func (f *fakeLink) IsConnected() bool { return f.connected }

func testConfig() Config {
	return Config{
		Mode:           level.ModeDigital,
		SensorUnit:     32,
		Calibration:    level.Calibration{Range: level.Range3Bar, LevelMax: 5, LevelMin: 2},
		CycleInterval:  60 * time.Second,
		ErrorInterval:  10 * time.Second,
		FaultHold:      10 * time.Second,
		ErrorThreshold: 3,
	}
}

type harness struct {
	rec    *recorder
	reader *fakeReader
	writer *fakeWriter
	link   *fakeLink
	events []Event
	loop   *Loop
}

func newHarness(cfg Config, script ...step) *harness {
	h := &harness{rec: &recorder{}}
	h.reader = &fakeReader{rec: h.rec, script: script}
	h.writer = &fakeWriter{rec: h.rec, last: level.PumpUnknown}
	h.link = &fakeLink{rec: h.rec, connected: true}
	h.loop = New(cfg, h.reader, h.writer, h.link,
		WithLogger(log.New(io.Discard, "", 0)),
		WithObserver(ObserverFunc(func(e Event) { h.events = append(h.events, e) })))
	return h
}

func (h *harness) steps(n int) []time.Duration {
	var waits []time.Duration
	for i := 0; i < n; i++ {
		waits = append(waits, h.loop.Step(context.Background()))
	}
	return waits
}

var errTimeout = fault.New(fault.Transport, "read discrete inputs", 32, errors.New("timeout"))

func TestDigitalScenario(t *testing.T) {
	h := newHarness(testConfig(),
		step{r: level.Digital(false, false)},
		step{r: level.Digital(true, false)},
		step{r: level.Digital(true, true)},
	)
	h.steps(3)

	want := []level.PumpCommand{level.CommandOn, level.CommandNoChange, level.CommandOff}
	for i, e := range h.events {
		if e.Command != want[i] {
			t.Fatalf("cycle %d: command %s, want %s", i, e.Command, want[i])
		}
	}
	if h.events[0].Tank != level.Empty || h.events[1].Tank != level.Intermediate || h.events[2].Tank != level.Full {
		t.Fatalf("unexpected tank states: %s %s %s", h.events[0].Tank, h.events[1].Tank, h.events[2].Tank)
	}
}

func TestAnalogScenario(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = level.ModeAnalog
	h := newHarness(cfg, step{r: level.Analog(51)}, step{r: level.Analog(19)})
	h.steps(2)

	if h.events[0].Command != level.CommandOn || h.events[1].Command != level.CommandOff {
		t.Fatalf("commands %s, %s", h.events[0].Command, h.events[1].Command)
	}
	if h.events[0].Level != level.Meters(51) {
		t.Fatalf("level %v", h.events[0].Level)
	}
}

func TestWaitsPerOutcome(t *testing.T) {
	h := newHarness(testConfig(),
		step{r: level.Digital(true, false)},
		step{r: level.Digital(false, true)},
		step{r: level.Invalid(level.ModeDigital), err: errTimeout},
	)
	waits := h.steps(4)

	want := []time.Duration{60 * time.Second, 10 * time.Second, 0, 10 * time.Second}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("step %d waited %v, want %v", i, waits[i], want[i])
		}
	}
	if h.events[1].Tank != level.SensorFault || h.events[1].ErrKind != "sensor_inconsistency" {
		t.Fatalf("fault cycle event: %+v", h.events[1])
	}
	if h.events[1].Health.ConsecutiveErrors != 0 {
		t.Fatal("a consistent fault reading is not a link error")
	}
}

func TestThreeReadErrorsForceOffThenReconnect(t *testing.T) {
	h := newHarness(testConfig(),
		step{r: level.Invalid(level.ModeDigital), err: errTimeout},
		step{r: level.Invalid(level.ModeDigital), err: errTimeout},
		step{r: level.Invalid(level.ModeDigital), err: errTimeout},
		step{r: level.Digital(true, false)},
	)
	// read+backoff three times, reconnect, then the fourth read
	h.steps(8)

	var reads []int
	for i, c := range h.rec.calls {
		if c == "read" {
			reads = append(reads, i)
		}
	}
	if len(reads) != 4 {
		t.Fatalf("expected 4 reads, got calls %v", h.rec.calls)
	}
	between := h.rec.calls[reads[2]+1 : reads[3]]
	want := []string{"force_off", "reconnect", "invalidate"}
	if strings.Join(between, ",") != strings.Join(want, ",") {
		t.Fatalf("between third error and next read: %v, want %v", between, want)
	}

	if got := strings.Count(strings.Join(h.rec.calls, ","), "reconnect"); got != 1 {
		t.Fatalf("expected exactly one reconnect, got %d", got)
	}
}

func TestCounterResetAfterReconnect(t *testing.T) {
	for _, reconnectErr := range []error{nil, errors.New("device busy")} {
		cfg := testConfig()
		h := newHarness(cfg, step{r: level.Invalid(level.ModeDigital), err: errTimeout})
		h.link.err = reconnectErr

		h.steps(7)
		if h.loop.State() != Normal {
			t.Fatalf("state after reconnect: %s", h.loop.State())
		}
		if got := h.loop.Health().ConsecutiveErrors; got != 0 {
			t.Fatalf("reconnect err=%v: counter %d, want 0", reconnectErr, got)
		}
		last := h.events[len(h.events)-1]
		if last.Action != ActionReconnect || last.Next != Normal {
			t.Fatalf("last event %+v", last)
		}
	}
}

func TestBackoffBelowThresholdReturnsToNormal(t *testing.T) {
	h := newHarness(testConfig(),
		step{r: level.Invalid(level.ModeDigital), err: errTimeout},
		step{r: level.Digital(true, true)},
	)
	h.steps(3)

	if h.events[0].Next != ErrorBackoff || h.events[0].Health.ConsecutiveErrors != 1 {
		t.Fatalf("first event %+v", h.events[0])
	}
	if h.events[1].Action != ActionForceOff || h.events[1].Next != Normal {
		t.Fatalf("backoff event %+v", h.events[1])
	}
	if h.events[2].Health.ConsecutiveErrors != 0 {
		t.Fatal("successful cycle must reset the counter")
	}
	// pump already forced off, so Full needs no write
	if h.events[2].Written {
		t.Fatal("unexpected write after force off")
	}
}

func TestWriteFailureEscalates(t *testing.T) {
	h := newHarness(testConfig(), step{r: level.Digital(false, false)})
	h.writer.applyErrs = []error{fault.New(fault.Write, "write coil", 31, errors.New("no echo"))}
	h.steps(1)

	e := h.events[0]
	if e.ErrKind != "write" || e.Next != ErrorBackoff || e.Written {
		t.Fatalf("event %+v", e)
	}
	if h.writer.Last() != level.PumpUnknown {
		t.Fatalf("pump state guessed after failed write: %s", h.writer.Last())
	}
}

func TestForceOffFailureDoesNotBlockEscalation(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorThreshold = 1
	h := newHarness(cfg, step{r: level.Invalid(level.ModeDigital), err: errTimeout})
	h.writer.forceErr = errors.New("pump unit silent")
	h.steps(3)

	want := "read,force_off,reconnect,invalidate"
	if got := strings.Join(h.rec.calls, ","); got != want {
		t.Fatalf("calls %s, want %s", got, want)
	}
}

func TestPanicIsRecoveredAsTransport(t *testing.T) {
	h := newHarness(testConfig(), step{r: level.Digital(true, false)})
	h.reader.panicAt = 1

	wait := h.loop.Step(context.Background())
	if wait != 0 {
		t.Fatalf("wait %v", wait)
	}
	e := h.events[0]
	if e.ErrKind != "transport" || !strings.Contains(e.Err, "serial driver exploded") {
		t.Fatalf("event %+v", e)
	}
	if h.loop.State() != ErrorBackoff || e.Health.ConsecutiveErrors != 1 {
		t.Fatalf("state %s errors %d", h.loop.State(), e.Health.ConsecutiveErrors)
	}
}

func TestObserverPanicDoesNotStopLoop(t *testing.T) {
	h := newHarness(testConfig(), step{r: level.Digital(true, false)})
	h.loop.observers = append([]Observer{ObserverFunc(func(Event) { panic("bad observer") })}, h.loop.observers...)
	h.steps(2)
	if len(h.events) != 2 {
		t.Fatalf("later observers missed events: %d", len(h.events))
	}
}

func TestRunStopsOnCancelWithoutWriting(t *testing.T) {
	h := newHarness(testConfig(),
		step{r: level.Digital(false, false)},
		step{r: level.Digital(true, true)},
	)
	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	h.loop.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 1 {
			cancel()
		}
		return ctx.Err()
	}

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(h.rec.calls, ","); got != "read,write:ON" {
		t.Fatalf("calls after cancel: %s", got)
	}
	if h.writer.Last() != level.PumpOn {
		t.Fatal("pump must keep its last commanded state")
	}
}

// Whole stack over the in-memory bus.
func TestRepeatedCyclesWriteCoilOnce(t *testing.T) {
	bus := link.NewFakeBus()
	handler := &link.FakeHandler{Target: bus}
	quiet := log.New(io.Discard, "", 0)
	m := link.NewWithFactory(link.Config{Serial: utils.SerialParams{Address: "/dev/fake0"}}, handler.Factory(), quiet)
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	bus.SetFloats(32, 0, false, false)

	loop := New(testConfig(), reader.New(m), coil.New(m, 31, 0), m, WithLogger(quiet))
	for i := 0; i < 10; i++ {
		if wait := loop.Step(context.Background()); wait != 60*time.Second {
			t.Fatalf("cycle %d wait %v", i, wait)
		}
	}
	if len(bus.CoilWrites) != 1 || !bus.CoilWrites[0].On || bus.CoilWrites[0].Unit != 31 {
		t.Fatalf("coil writes %+v", bus.CoilWrites)
	}
}

func TestReconnectReassertsPumpState(t *testing.T) {
	bus := link.NewFakeBus()
	handler := &link.FakeHandler{Target: bus}
	quiet := log.New(io.Discard, "", 0)
	m := link.NewWithFactory(link.Config{Serial: utils.SerialParams{Address: "/dev/fake0"}}, handler.Factory(), quiet)
	m.SetSleep(func(context.Context, time.Duration) error { return nil })
	_ = m.Connect()
	bus.SetFloats(32, 0, false, false)

	cfg := testConfig()
	cfg.ErrorThreshold = 1
	loop := New(cfg, reader.New(m), coil.New(m, 31, 0), m, WithLogger(quiet))

	loop.Step(context.Background()) // ON
	bus.ReadErrors = []error{errors.New("timeout")}
	loop.Step(context.Background()) // read fails
	loop.Step(context.Background()) // force off
	loop.Step(context.Background()) // reconnect
	loop.Step(context.Background()) // ON again

	var got []bool
	for _, w := range bus.CoilWrites {
		got = append(got, w.On)
	}
	if len(got) != 3 || !got[0] || got[1] || !got[2] {
		t.Fatalf("coil writes %v, want [on off on]", got)
	}
	if handler.Connects != 2 {
		t.Fatalf("connects %d", handler.Connects)
	}
}

func TestLogObserverLine(t *testing.T) {
	var buf bytes.Buffer
	o := NewLogObserver(log.New(&buf, "", 0))
	o.Observe(Event{
		State: Normal, Action: ActionCycle, Next: Normal,
		Reading: "low=OFF high=OFF", Tank: level.Empty, Command: level.CommandOn, Written: true,
		Pump: level.PumpOn, Health: LinkHealth{Connected: true}, Wait: time.Minute,
	})
	want := "[NORMAL] cycle low=OFF high=OFF tank=EMPTY cmd=ON (written) pump=ON link=up errors=0, next in 1m0s\n"
	if buf.String() != want {
		t.Fatalf("got %q\nwant %q", buf.String(), want)
	}

	buf.Reset()
	o.Observe(Event{
		State: ErrorBackoff, Action: ActionForceOff, Next: Reconnecting,
		Pump: level.PumpOff, Health: LinkHealth{ConsecutiveErrors: 3}, Written: true,
	})
	want = "[ERROR_BACKOFF] force_off pump off pump=OFF link=down errors=3 -> RECONNECTING\n"
	if buf.String() != want {
		t.Fatalf("got %q\nwant %q", buf.String(), want)
	}
}
