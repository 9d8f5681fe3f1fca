package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modbus-pump-control/internal/config"
)

func TestLoadConfigDefaultsWhenDefaultFileMissing(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := loadConfig(flags{configPath: defaultConfigPath})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyHS0" {
		t.Fatalf("port %q", cfg.Serial.Port)
	}
}

func TestLoadConfigExplicitMissingFileFails(t *testing.T) {
	if _, err := loadConfig(flags{configPath: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pumpctl.yaml")
	doc := "serial: {port: /dev/ttyS0}\ncontrol: {mode: digital, cycle_interval: 60s}\ncalibration: {pressure_range: 3, level_max: 5, level_min: 2}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(flags{
		configPath: path,
		port:       "/tmp/vport2",
		mode:       "analog",
		cycle:      5 * time.Second,
		faultHold:  time.Minute,
		httpAddr:   ":9100",
		trace:      true,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serial.Port != "/tmp/vport2" || cfg.Control.Mode != "analog" || cfg.Control.CycleInterval != 5*time.Second ||
		cfg.Control.FaultHold != time.Minute || cfg.HTTP.Addr != ":9100" || !cfg.Serial.Trace {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigOverrideValidated(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := loadConfig(flags{configPath: defaultConfigPath, mode: "sonar"}); err == nil {
		t.Fatal("expected invalid mode error")
	}
}

func TestOpenLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pumpctl.log")
	for _, msg := range []string{"first", "second"} {
		logger, closeLog, err := openLog(config.Log{File: path, Prefix: "pumpctl: "})
		if err != nil {
			t.Fatal(err)
		}
		logger.Print(msg)
		closeLog()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Count(out, "pumpctl: ") != 2 || !strings.Contains(out, "first") || !strings.Contains(out, "second") {
		t.Fatalf("log file:\n%s", out)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
