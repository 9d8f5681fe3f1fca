// Command tanksim emulates the pump unit and the tank sensor unit on a serial
// line, optionally creating a virtual socat pair for pumpctl to connect to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"modbus-pump-control/internal/tanksim"
	"modbus-pump-control/internal/utils"
)

func main() {
	var (
		cfgPath string
		verbose bool
	)
	flag.StringVar(&cfgPath, "config", "config/tanksim.yaml", "path to tanksim YAML config")
	flag.BoolVar(&verbose, "v", false, "log every answered frame")
	flag.Parse()

	cfg, err := tanksim.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg tanksim.Config, verbose bool) error {
	var socatCmd *exec.Cmd
	if cfg.SpawnSocat {
		socatCmd = utils.BuildSocatPairCmd(ctx, utils.SocatPair{Link: cfg.SocatLink, Peer: cfg.SocatPeer})
		socatCmd.Stdout = os.Stdout
		socatCmd.Stderr = os.Stderr
		if err := socatCmd.Start(); err != nil {
			return fmt.Errorf("start socat: %w", err)
		}
		log.Printf("tanksim: spawned socat pair link=%s peer=%s (pid=%d)", cfg.SocatLink, cfg.SocatPeer, socatCmd.Process.Pid)
		// wait for the pty links to appear
		time.Sleep(400 * time.Millisecond)
		defer stopSocat(socatCmd)
	}

	rw, err := utils.OpenSerial(cfg.SerialParams())
	if err != nil {
		return err
	}
	defer rw.Close()

	tank := tanksim.NewTank(cfg.TankParams())
	dev := tanksim.NewDevice(tank, cfg.Units())
	dev.DropEvery = cfg.DropEvery

	go tank.Run(ctx, cfg.Tick, log.Default())

	var frameLog *log.Logger
	if verbose {
		frameLog = log.Default()
	}
	u := cfg.Units()
	log.Printf("tanksim: serving %s pump=%d/coil %d sensor=%d/inputs %d/register %d level=%.2fm",
		cfg.Serial.Port, u.PumpID, u.CoilAddress, u.SensorID, u.InputBase, u.RegisterAddr, tank.Level())

	done := make(chan error, 1)
	go func() { done <- dev.Serve(ctx, rw, frameLog) }()

	select {
	case <-ctx.Done():
		rw.Close()
		<-done
		return nil
	case err := <-done:
		return err
	}
}

func stopSocat(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	exited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(exited) }()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
	}
}
