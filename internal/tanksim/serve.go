package tanksim

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"time"

	"github.com/goburrow/serial"
)

// Serve answers RTU frames on rw until it fails or ctx is done. Every request
// the device handles is a fixed 8-byte frame; anything else desynchronises
// the stream and is skipped byte by byte.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriter, logger *log.Logger) error {
	req := make([]byte, 8)
	n := 0
	for ctx.Err() == nil {
		m, err := rw.Read(req[n:])
		if errors.Is(err, serial.ErrTimeout) {
			// idle line; a partial frame is stale by now
			n = 0
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		n += m
		if n < len(req) {
			continue
		}
		if crc16(req[:6]) != binary.LittleEndian.Uint16(req[6:8]) {
			// resync on the next byte
			copy(req, req[1:])
			n = len(req) - 1
			continue
		}
		n = 0
		resp, ok := d.Handle(req[0], req[1:6])
		if !ok {
			continue
		}
		if _, err := rw.Write(frame(req[0], resp)); err != nil {
			return err
		}
		if logger != nil {
			logger.Printf("tanksim: unit=%d fc=0x%02X -> % X", req[0], req[1], resp)
		}
	}
	return nil
}

// Run advances the tank every tick until ctx is done.
func (t *Tank) Run(ctx context.Context, tick time.Duration, logger *log.Logger) {
	if tick <= 0 {
		tick = time.Second
	}
	tk := time.NewTicker(tick)
	defer tk.Stop()
	var lastPump bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.Advance(tick)
			if on := t.PumpOn(); on != lastPump && logger != nil {
				lastPump = on
				logger.Printf("tanksim: pump %v at level %.2fm", onOff(on), t.Level())
			}
		}
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
