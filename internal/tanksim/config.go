package tanksim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"modbus-pump-control/internal/utils"
)

// Config mirrors tanksim.yaml.
type Config struct {
	Serial struct {
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
		DataBits int    `yaml:"data_bits"`
		StopBits int    `yaml:"stop_bits"`
		Parity   string `yaml:"parity"`
	} `yaml:"serial"`

	// Optional: create a virtual serial pair via socat (Unix-like systems).
	SpawnSocat bool   `yaml:"spawn_socat"`
	SocatLink  string `yaml:"socat_link"` // path the simulator opens
	SocatPeer  string `yaml:"socat_peer"` // path for pumpctl

	Pump struct {
		SlaveID     uint8  `yaml:"slave_id"`
		CoilAddress uint16 `yaml:"coil_address"`
	} `yaml:"pump"`
	Sensor struct {
		SlaveID         uint8  `yaml:"slave_id"`
		InputAddress    uint16 `yaml:"input_address"`
		RegisterAddress uint16 `yaml:"register_address"`
	} `yaml:"sensor"`

	Tank struct {
		Height       float64 `yaml:"height"`
		InitialLevel float64 `yaml:"initial_level"`
		PumpRate     float64 `yaml:"pump_rate"`
		Drift        float64 `yaml:"drift"`
		LowFloat     float64 `yaml:"low_float"`
		HighFloat    float64 `yaml:"high_float"`
		StuckHigh    bool    `yaml:"stuck_high"`
	} `yaml:"tank"`

	Tick      time.Duration `yaml:"tick"`
	DropEvery int           `yaml:"drop_every"`
}

// LoadConfig reads path and fills defaults. A missing path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if cfg.Pump.SlaveID == 0 {
		cfg.Pump.SlaveID = 31
	}
	if cfg.Sensor.SlaveID == 0 {
		cfg.Sensor.SlaveID = 32
	}
	if cfg.Tank.Height <= 0 {
		cfg.Tank.Height = 8
	}
	if cfg.Tank.PumpRate == 0 {
		cfg.Tank.PumpRate = 0.01
	}
	if cfg.Tank.Drift == 0 {
		cfg.Tank.Drift = -0.004
	}
	if cfg.Tank.HighFloat == 0 {
		cfg.Tank.HighFloat = cfg.Tank.Height * 0.8
	}
	if cfg.Tank.LowFloat == 0 {
		cfg.Tank.LowFloat = cfg.Tank.Height * 0.2
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.SpawnSocat && cfg.Serial.Port == "" {
		cfg.Serial.Port = cfg.SocatLink
	}
	if cfg.Serial.Port == "" {
		return Config{}, fmt.Errorf("serial.port (or spawn_socat with socat_link) is required")
	}
	if cfg.SpawnSocat && (cfg.SocatLink == "" || cfg.SocatPeer == "") {
		return Config{}, fmt.Errorf("spawn_socat requires socat_link and socat_peer")
	}
	if cfg.Tank.LowFloat >= cfg.Tank.HighFloat {
		return Config{}, fmt.Errorf("tank.low_float must be below tank.high_float")
	}
	return cfg, nil
}

func (c Config) SerialParams() utils.SerialParams {
	return utils.SerialParams{
		Address:  c.Serial.Port,
		BaudRate: c.Serial.BaudRate,
		DataBits: c.Serial.DataBits,
		StopBits: c.Serial.StopBits,
		Parity:   c.Serial.Parity,
		Timeout:  10 * time.Second,
	}
}

func (c Config) Units() Units {
	return Units{
		PumpID:       c.Pump.SlaveID,
		CoilAddress:  c.Pump.CoilAddress,
		SensorID:     c.Sensor.SlaveID,
		InputBase:    c.Sensor.InputAddress,
		RegisterAddr: c.Sensor.RegisterAddress,
	}
}

func (c Config) TankParams() TankParams {
	return TankParams{
		Height:       c.Tank.Height,
		InitialLevel: c.Tank.InitialLevel,
		PumpRate:     c.Tank.PumpRate,
		Drift:        c.Tank.Drift,
		LowFloat:     c.Tank.LowFloat,
		HighFloat:    c.Tank.HighFloat,
		StuckHigh:    c.Tank.StuckHigh,
	}
}
