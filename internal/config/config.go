// Package config loads the controller's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"modbus-pump-control/internal/control"
	"modbus-pump-control/internal/level"
	"modbus-pump-control/internal/link"
	"modbus-pump-control/internal/utils"
)

// Root mirrors pumpctl.yaml.
type Root struct {
	Serial      Serial      `yaml:"serial"`
	Pump        Pump        `yaml:"pump"`
	Sensor      Sensor      `yaml:"sensor"`
	Control     Control     `yaml:"control"`
	Calibration Calibration `yaml:"calibration"`
	Log         Log         `yaml:"log"`
	HTTP        HTTP        `yaml:"http"`
	MQTT        MQTT        `yaml:"mqtt"`
	History     History     `yaml:"history"`
}

type Serial struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	DataBits   int           `yaml:"data_bits"`
	Parity     string        `yaml:"parity"` // N | E | O
	StopBits   int           `yaml:"stop_bits"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    *int          `yaml:"retries"`
	Quiescence time.Duration `yaml:"quiescence"`
	Trace      bool          `yaml:"trace"`
}

type Pump struct {
	SlaveID     uint8  `yaml:"slave_id"`
	CoilAddress uint16 `yaml:"coil_address"`
}

type Sensor struct {
	SlaveID         uint8  `yaml:"slave_id"`
	InputAddress    uint16 `yaml:"input_address"`
	RegisterAddress uint16 `yaml:"register_address"`
}

type Control struct {
	Mode           string        `yaml:"mode"` // digital | analog
	CycleInterval  time.Duration `yaml:"cycle_interval"`
	ErrorInterval  time.Duration `yaml:"error_interval"`
	FaultHold      time.Duration `yaml:"fault_hold"`
	ErrorThreshold int           `yaml:"error_threshold"`
}

type Calibration struct {
	PressureRange int     `yaml:"pressure_range"` // bar: 3 | 6 | 10
	LevelMax      float64 `yaml:"level_max"`      // meters
	LevelMin      float64 `yaml:"level_min"`      // meters
}

type Log struct {
	File   string `yaml:"file"`
	Prefix string `yaml:"prefix"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type MQTT struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Topic     string        `yaml:"topic"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	QueueSize int           `yaml:"queue_size"`
}

type History struct {
	Enabled   bool   `yaml:"enabled"`
	DBPath    string `yaml:"db_path"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the configuration of the reference installation.
func Default() Root {
	var cfg Root
	applyDefaults(&cfg)
	return cfg
}

// LoadYAML reads path, fills defaults and validates the result.
func LoadYAML(path string) (Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Root{}, err
	}
	return Parse(b)
}

// Parse is LoadYAML without the file.
func Parse(b []byte) (Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Root{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Root{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Root) {
	s := &cfg.Serial
	if s.Port == "" {
		s.Port = "/dev/ttyHS0"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.Parity == "" {
		s.Parity = "N"
	}
	s.Parity = strings.ToUpper(s.Parity)
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = time.Second
	}
	if s.Retries == nil {
		n := 3
		s.Retries = &n
	}
	if s.Quiescence == 0 {
		s.Quiescence = 2 * time.Second
	}

	if cfg.Pump.SlaveID == 0 {
		cfg.Pump.SlaveID = 31
	}
	if cfg.Sensor.SlaveID == 0 {
		cfg.Sensor.SlaveID = 32
	}

	c := &cfg.Control
	if c.Mode == "" {
		c.Mode = string(level.ModeDigital)
	}
	c.Mode = strings.ToLower(c.Mode)
	if c.CycleInterval == 0 {
		c.CycleInterval = 60 * time.Second
	}
	if c.ErrorInterval == 0 {
		c.ErrorInterval = 10 * time.Second
	}
	if c.FaultHold == 0 {
		c.FaultHold = 10 * time.Second
	}
	if c.ErrorThreshold == 0 {
		c.ErrorThreshold = 3
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "pumpctl"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "pumpctl"
	}
	if cfg.MQTT.Heartbeat == 0 {
		cfg.MQTT.Heartbeat = 15 * time.Minute
	}
	if cfg.MQTT.QueueSize == 0 {
		cfg.MQTT.QueueSize = 100
	}
	if cfg.History.DBPath == "" {
		cfg.History.DBPath = "pumpctl.db"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
}

// Validate checks the configuration without changing it.
func (cfg Root) Validate() error {
	var errs []error
	s := cfg.Serial
	if s.Port == "" {
		errs = append(errs, errors.New("serial.port is required"))
	}
	if s.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate %d must be positive", s.BaudRate))
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		errs = append(errs, fmt.Errorf("serial.data_bits %d out of range 5-8", s.DataBits))
	}
	switch s.Parity {
	case "N", "E", "O":
	default:
		errs = append(errs, fmt.Errorf("serial.parity %q must be N, E or O", s.Parity))
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		errs = append(errs, fmt.Errorf("serial.stop_bits %d must be 1 or 2", s.StopBits))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("serial.timeout must be positive"))
	}
	if s.Retries != nil && *s.Retries < 0 {
		errs = append(errs, errors.New("serial.retries must be >= 0"))
	}
	if s.Quiescence < 0 {
		errs = append(errs, errors.New("serial.quiescence must be >= 0"))
	}

	if !validUnit(cfg.Pump.SlaveID) {
		errs = append(errs, fmt.Errorf("pump.slave_id %d out of range 1-247", cfg.Pump.SlaveID))
	}
	if !validUnit(cfg.Sensor.SlaveID) {
		errs = append(errs, fmt.Errorf("sensor.slave_id %d out of range 1-247", cfg.Sensor.SlaveID))
	}
	if cfg.Pump.SlaveID == cfg.Sensor.SlaveID {
		errs = append(errs, fmt.Errorf("pump and sensor share slave id %d", cfg.Pump.SlaveID))
	}

	c := cfg.Control
	switch level.Mode(c.Mode) {
	case level.ModeDigital:
	case level.ModeAnalog:
		if err := cfg.LevelCalibration().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("calibration: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("control.mode %q must be digital or analog", c.Mode))
	}
	if c.CycleInterval <= 0 || c.ErrorInterval <= 0 || c.FaultHold <= 0 {
		errs = append(errs, errors.New("control intervals must be positive"))
	}
	if c.ErrorThreshold < 1 {
		errs = append(errs, errors.New("control.error_threshold must be >= 1"))
	}

	if cfg.MQTT.Broker != "" && cfg.MQTT.QueueSize < 1 {
		errs = append(errs, errors.New("mqtt.queue_size must be >= 1"))
	}
	if cfg.History.Enabled && cfg.History.QueueSize < 1 {
		errs = append(errs, errors.New("history.queue_size must be >= 1"))
	}
	return errors.Join(errs...)
}

func validUnit(id uint8) bool { return id >= 1 && id <= 247 }

// SerialParams returns the line settings for the link manager.
func (cfg Root) SerialParams() utils.SerialParams {
	return utils.SerialParams{
		Address:  cfg.Serial.Port,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
		Timeout:  cfg.Serial.Timeout,
	}
}

// LinkConfig returns the link manager configuration.
func (cfg Root) LinkConfig() link.Config {
	retries := 0
	if cfg.Serial.Retries != nil {
		retries = *cfg.Serial.Retries
	}
	return link.Config{
		Serial:     cfg.SerialParams(),
		Retries:    retries,
		Quiescence: cfg.Serial.Quiescence,
		Trace:      cfg.Serial.Trace,
	}
}

func (cfg Root) LevelCalibration() level.Calibration {
	return level.Calibration{
		Range:    level.PressureRange(cfg.Calibration.PressureRange),
		LevelMax: cfg.Calibration.LevelMax,
		LevelMin: cfg.Calibration.LevelMin,
	}
}

// LoopConfig returns the control loop configuration.
func (cfg Root) LoopConfig() control.Config {
	return control.Config{
		Mode:            level.Mode(cfg.Control.Mode),
		SensorUnit:      cfg.Sensor.SlaveID,
		InputAddress:    cfg.Sensor.InputAddress,
		RegisterAddress: cfg.Sensor.RegisterAddress,
		Calibration:     cfg.LevelCalibration(),
		CycleInterval:   cfg.Control.CycleInterval,
		ErrorInterval:   cfg.Control.ErrorInterval,
		FaultHold:       cfg.Control.FaultHold,
		ErrorThreshold:  cfg.Control.ErrorThreshold,
	}
}
