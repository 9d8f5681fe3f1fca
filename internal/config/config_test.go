package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modbus-pump-control/internal/level"
)

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyHS0" || cfg.Serial.BaudRate != 9600 || cfg.Serial.Parity != "N" {
		t.Fatalf("serial defaults: %+v", cfg.Serial)
	}
	if *cfg.Serial.Retries != 3 || cfg.Serial.Quiescence != 2*time.Second || cfg.Serial.Timeout != time.Second {
		t.Fatalf("link defaults: %+v", cfg.Serial)
	}
	if cfg.Pump.SlaveID != 31 || cfg.Sensor.SlaveID != 32 {
		t.Fatalf("unit defaults: pump=%d sensor=%d", cfg.Pump.SlaveID, cfg.Sensor.SlaveID)
	}
	lc := cfg.LoopConfig()
	if lc.Mode != level.ModeDigital || lc.CycleInterval != time.Minute || lc.ErrorInterval != 10*time.Second ||
		lc.FaultHold != 10*time.Second || lc.ErrorThreshold != 3 {
		t.Fatalf("loop defaults: %+v", lc)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pumpctl.yaml")
	doc := `
serial:
  port: /dev/ttyUSB0
  parity: e
  retries: 0
  quiescence: 500ms
pump:
  slave_id: 1
  coil_address: 1
sensor:
  slave_id: 2
  register_address: 4
control:
  mode: Analog
  cycle_interval: 30s
calibration:
  pressure_range: 3
  level_max: 5
  level_min: 2
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	lk := cfg.LinkConfig()
	if lk.Serial.Address != "/dev/ttyUSB0" || lk.Serial.Parity != "E" || lk.Retries != 0 || lk.Quiescence != 500*time.Millisecond {
		t.Fatalf("link config: %+v", lk)
	}
	lc := cfg.LoopConfig()
	if lc.Mode != level.ModeAnalog || lc.SensorUnit != 2 || lc.RegisterAddress != 4 || lc.CycleInterval != 30*time.Second {
		t.Fatalf("loop config: %+v", lc)
	}
	if lc.Calibration.Range != level.Range3Bar || lc.Calibration.LevelMax != 5 {
		t.Fatalf("calibration: %+v", lc.Calibration)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"mode":        "control: {mode: ultrasonic}",
		"parity":      "serial: {parity: X}",
		"same unit":   "pump: {slave_id: 5}\nsensor: {slave_id: 5}",
		"unit range":  "pump: {slave_id: 250}",
		"threshold":   "control: {error_threshold: -1}",
		"band":        "control: {mode: analog}\ncalibration: {pressure_range: 3, level_max: 2, level_min: 4}",
		"range":       "control: {mode: analog}\ncalibration: {pressure_range: 4, level_max: 5, level_min: 1}",
		"above scale": "control: {mode: analog}\ncalibration: {pressure_range: 3, level_max: 40, level_min: 1}",
		"retries":     "serial: {retries: -2}",
		"stop bits":   "serial: {stop_bits: 3}",
		"bad yaml":    "serial: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := Default()
	cfg.Serial.Parity = "e"
	before := cfg.Serial.Parity
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "parity") {
		t.Fatalf("expected parity error, got %v", err)
	}
	if cfg.Serial.Parity != before {
		t.Fatal("Validate changed the config")
	}
}

func TestDigitalIgnoresCalibration(t *testing.T) {
	if _, err := Parse([]byte("calibration: {pressure_range: 7}")); err != nil {
		t.Fatalf("digital mode must not validate calibration: %v", err)
	}
}
