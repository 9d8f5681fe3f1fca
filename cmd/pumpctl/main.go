// Command pumpctl keeps a tank between its float switches (or analog
// thresholds) by switching a remote pump over Modbus RTU.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"modbus-pump-control/internal/coil"
	"modbus-pump-control/internal/config"
	"modbus-pump-control/internal/control"
	"modbus-pump-control/internal/history"
	"modbus-pump-control/internal/level"
	"modbus-pump-control/internal/link"
	"modbus-pump-control/internal/metrics"
	"modbus-pump-control/internal/mqtt"
	"modbus-pump-control/internal/reader"
	"modbus-pump-control/internal/status"
	"modbus-pump-control/internal/web"
)

const defaultConfigPath = "config/pumpctl.yaml"

type flags struct {
	configPath    string
	port          string
	mode          string
	cycle         time.Duration
	errorInterval time.Duration
	faultHold     time.Duration
	httpAddr      string
	probe         bool
	trace         bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", defaultConfigPath, "path to pumpctl YAML config")
	flag.StringVar(&f.port, "port", "", "serial device (overrides serial.port)")
	flag.StringVar(&f.mode, "mode", "", "sensor mode: digital or analog (overrides control.mode)")
	flag.DurationVar(&f.cycle, "cycle", 0, "poll interval (overrides control.cycle_interval)")
	flag.DurationVar(&f.errorInterval, "error-interval", 0, "wait after a failed cycle (overrides control.error_interval)")
	flag.DurationVar(&f.faultHold, "fault-hold", 0, "wait after a sensor fault (overrides control.fault_hold)")
	flag.StringVar(&f.httpAddr, "http", "", "status/metrics listen address (overrides http.addr)")
	flag.BoolVar(&f.probe, "probe", false, "read the sensor once, print the decision and exit without writing")
	flag.BoolVar(&f.trace, "trace", false, "log every RTU frame")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, closeLog, err := openLog(cfg.Log)
	if err != nil {
		log.Fatalf("log: %v", err)
	}
	defer closeLog()

	if f.probe {
		if err := probe(cfg, logger, os.Stdout); err != nil {
			logger.Printf("probe failed: %v", err)
			closeLog()
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Printf("fatal: %v", err)
		closeLog()
		os.Exit(1)
	}
}

// loadConfig reads the file (a missing default file means built-in defaults)
// and applies flag overrides before validating.
func loadConfig(f flags) (config.Root, error) {
	cfg, err := config.LoadYAML(f.configPath)
	if errors.Is(err, fs.ErrNotExist) && f.configPath == defaultConfigPath {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return config.Root{}, err
	}

	if f.port != "" {
		cfg.Serial.Port = f.port
	}
	if f.mode != "" {
		cfg.Control.Mode = f.mode
	}
	if f.cycle > 0 {
		cfg.Control.CycleInterval = f.cycle
	}
	if f.errorInterval > 0 {
		cfg.Control.ErrorInterval = f.errorInterval
	}
	if f.faultHold > 0 {
		cfg.Control.FaultHold = f.faultHold
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.trace {
		cfg.Serial.Trace = true
	}
	return cfg, cfg.Validate()
}

// openLog returns a logger writing to stderr and, when configured, appending
// to a log file.
func openLog(lc config.Log) (*log.Logger, func(), error) {
	prefix := lc.Prefix
	if lc.File == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), func() {}, nil
	}
	lf, err := os.OpenFile(lc.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.New(io.MultiWriter(os.Stderr, lf), prefix, log.LstdFlags), func() { lf.Close() }, nil
}

func newLink(cfg config.Root, logger *log.Logger) *link.Manager {
	lc := cfg.LinkConfig()
	lc.Logger = logger
	return link.New(lc)
}

// probe performs one read and prints what the loop would decide.
func probe(cfg config.Root, logger *log.Logger, out io.Writer) error {
	lk := newLink(cfg, logger)
	if err := lk.Connect(); err != nil {
		return err
	}
	defer lk.Close()

	lc := cfg.LoopConfig()
	r, err := reader.New(lk).Read(lc.Mode, lc.SensorUnit, lc.InputAddress, lc.RegisterAddress)
	if err != nil {
		return err
	}
	tank, cmd := level.Evaluate(r, lc.Calibration, level.PumpUnknown)
	fmt.Fprintf(out, "reading: %s\ntank:    %s\ndesired: %s\n", r.Summary(), tank, cmd)
	return nil
}

func run(cfg config.Root, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reason := make(chan string, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			logger.Printf("received %v, shutting down", s)
			reason <- signalName(s)
			cancel()
		case <-ctx.Done():
		}
	}()

	lk := newLink(cfg, logger)
	if err := lk.Connect(); err != nil {
		// the loop's reconnect path takes over
		logger.Printf("initial connect failed: %v", err)
	}
	defer lk.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracker := status.NewTracker(time.Now(), status.Config{
		Port:          cfg.Serial.Port,
		Mode:          cfg.Control.Mode,
		PumpUnit:      cfg.Pump.SlaveID,
		SensorUnit:    cfg.Sensor.SlaveID,
		CycleInterval: cfg.Control.CycleInterval,
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
	})

	opts := []control.Option{
		control.WithLogger(logger),
		control.WithObserver(control.NewLogObserver(logger)),
		control.WithObserver(tracker),
		control.WithObserver(metrics.NewPromObs(reg)),
	}

	var store *history.Store
	if cfg.History.Enabled {
		s, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return err
		}
		store = s
		defer store.Close()
		hw := history.NewWriter(store, cfg.History.QueueSize, logger)
		defer hw.Close()
		opts = append(opts, control.WithObserver(hw))
	}

	var publisher *mqtt.RealPublisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			// MQTT is optional; keep controlling the pump without it
			logger.Printf("mqtt disabled: %v", err)
		} else {
			publisher = p
			defer publisher.Close()
			mo := mqtt.NewObserver(publisher, cfg.MQTT.Heartbeat, cfg.MQTT.QueueSize, logger)
			defer mo.Close()
			opts = append(opts,
				control.WithObserver(mo),
				control.WithObserver(control.ObserverFunc(func(control.Event) {
					tracker.SetMQTTConnected(publisher.IsConnected())
				})))
			if err := publisher.PublishSystem(mqtt.SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}); err != nil {
				logger.Printf("failed to publish startup event: %v", err)
			}
		}
	}

	if cfg.HTTP.Addr != "" {
		var hist web.HistorySource
		if store != nil {
			hist = store
		}
		srv := web.New(cfg.HTTP.Addr, tracker, reg, hist)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("http server: %v", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		logger.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	pump := coil.New(lk, cfg.Pump.SlaveID, cfg.Pump.CoilAddress)
	loop := control.New(cfg.LoopConfig(), reader.New(lk), pump, lk, opts...)

	logger.Printf("started: port=%s mode=%s pump=%d/%d sensor=%d cycle=%v error=%v fault_hold=%v threshold=%d",
		cfg.Serial.Port, cfg.Control.Mode, cfg.Pump.SlaveID, cfg.Pump.CoilAddress, cfg.Sensor.SlaveID,
		cfg.Control.CycleInterval, cfg.Control.ErrorInterval, cfg.Control.FaultHold, cfg.Control.ErrorThreshold)

	err := loop.Run(ctx)

	if publisher != nil {
		ev := mqtt.SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Retained: true}
		select {
		case ev.Reason = <-reason:
		default:
		}
		if perr := publisher.PublishSystem(ev); perr != nil {
			logger.Printf("failed to publish shutdown event: %v", perr)
		}
	}
	logger.Printf("stopped; pump left %s", pump.Last())
	return err
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
