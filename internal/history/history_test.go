package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modbus-pump-control/internal/control"
	"modbus-pump-control/internal/level"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func event(i int) control.Event {
	return control.Event{
		Time:    t0.Add(time.Duration(i) * time.Minute),
		State:   control.Normal,
		Action:  control.ActionCycle,
		Mode:    level.ModeAnalog,
		Reading: "raw=51 bar=0.51 level=5.20m",
		Level:   level.Meters(51),
		Tank:    level.Full,
		Command: level.CommandOn,
		Written: i == 0,
		Pump:    level.PumpOn,
		Health:  control.LinkHealth{ConsecutiveErrors: i, Connected: true},
		Next:    control.Normal,
	}
}

func TestSaveAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, event(i)); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	recs, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Health.ConsecutiveErrors != 2 || recs[2].Health.ConsecutiveErrors != 4 {
		t.Fatalf("not chronological: %d..%d", recs[0].Health.ConsecutiveErrors, recs[2].Health.ConsecutiveErrors)
	}
	r := recs[0]
	if !r.Time.Equal(t0.Add(2*time.Minute)) || r.Tank != level.Full || r.Pump != level.PumpOn ||
		r.Mode != level.ModeAnalog || !r.Health.Connected || r.Level != level.Meters(51) {
		t.Fatalf("round trip mismatch: %+v", r)
	}

	all, err := s.Recent(ctx, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	if !all[0].Written || all[1].Written {
		t.Fatal("written flag lost")
	}
}

func TestSince(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = s.Save(ctx, event(i))
	}
	recs, err := s.Since(ctx, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records since minute 2", len(recs))
	}
}

func TestWriterFlushesOnClose(t *testing.T) {
	s := openTemp(t)
	w := NewWriter(s, 16, log.New(io.Discard, "", 0))
	for i := 0; i < 10; i++ {
		w.Observe(event(i))
	}
	w.Close()
	w.Close()

	recs, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 10 || w.Dropped() != 0 || w.Failed() != 0 {
		t.Fatalf("stored %d dropped %d failed %d", len(recs), w.Dropped(), w.Failed())
	}
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSON(&buf, []Record{{ID: 7, Event: event(0)}}); err != nil {
		t.Fatal(err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out) != 1 || out[0]["id"] != float64(7) || out[0]["tank"] != "FULL" || out[0]["pump"] != "ON" {
		t.Fatalf("unexpected export %v", out)
	}

	buf.Reset()
	if err := ExportJSON(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("empty export %q", buf.String())
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	e := event(1)
	e.ErrKind, e.Err = "transport", "read discrete inputs unit=32: transport: timeout, again"
	if err := ExportCSV(&buf, []Record{{ID: 1, Event: e}}); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 2 || len(rows[1]) != len(csvHeader) {
		t.Fatalf("rows %v", rows)
	}
	if rows[1][1] != "2026-05-04T12:01:00Z" || rows[1][6] != "5.201" || rows[1][15] != e.Err {
		t.Fatalf("row %v", rows[1])
	}
}
