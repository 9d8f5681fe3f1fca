package utils

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams describes one RTU serial line.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// EnsureSerialDefaults fills the 9600 8N1 line settings the field units ship with.
func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 9600
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	sp.Parity = strings.ToUpper(strings.TrimSpace(sp.Parity))
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = time.Second
	}
}

// SerialConfig converts the params into the goburrow/serial form.
func SerialConfig(sp SerialParams) serial.Config {
	EnsureSerialDefaults(&sp)
	return serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	}
}

// OpenSerial opens the raw port. Used by the bench simulator; the controller
// goes through the modbus RTU handler instead.
func OpenSerial(sp SerialParams) (io.ReadWriteCloser, error) {
	sc := SerialConfig(sp)
	rw, err := serial.Open(&sc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", sc.Address, err)
	}
	return rw, nil
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type SocatPair struct {
	Link string
	Peer string
}

// BuildSocatPairCmd creates a linked pair of pseudo terminals so the controller
// and the simulator can talk without hardware.
func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	return exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
}
