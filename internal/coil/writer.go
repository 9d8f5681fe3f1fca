// Package coil drives the pump unit's relay coil and remembers what it was
// last successfully told.
package coil

import (
	"encoding/binary"
	"fmt"
	"sync"

	"modbus-pump-control/internal/fault"
	"modbus-pump-control/internal/level"
	"modbus-pump-control/internal/link"
)

const (
	valueOn  uint16 = 0xFF00
	valueOff uint16 = 0x0000

	opWriteCoil = "write coil"
)

// Transactor runs one bus transaction. *link.Manager satisfies it.
type Transactor interface {
	Do(unitID uint8, op string, fn func(link.Bus) error) error
}

// Writer owns the last commanded pump state. It is only updated after the
// pump unit echoes a write back.
type Writer struct {
	link Transactor
	unit uint8
	addr uint16

	mu   sync.Mutex
	last level.PumpState
}

func New(t Transactor, unitID uint8, addr uint16) *Writer {
	return &Writer{link: t, unit: unitID, addr: addr, last: level.PumpUnknown}
}

// Last returns the last confirmed pump state.
func (w *Writer) Last() level.PumpState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Invalidate forgets the pump state so the next decision is written again.
func (w *Writer) Invalidate() {
	w.mu.Lock()
	w.last = level.PumpUnknown
	w.mu.Unlock()
}

// ApplyIfChanged writes cmd when it differs from the last confirmed state.
// NoChange and already-applied commands return (false, nil).
func (w *Writer) ApplyIfChanged(cmd level.PumpCommand) (bool, error) {
	target := cmd.State()
	if target == level.PumpUnknown || target == w.Last() {
		return false, nil
	}
	if err := w.write(target); err != nil {
		return false, err
	}
	return true, nil
}

// ForceOff writes Off regardless of the remembered state.
func (w *Writer) ForceOff() error {
	return w.write(level.PumpOff)
}

func (w *Writer) write(target level.PumpState) error {
	value := valueOff
	if target == level.PumpOn {
		value = valueOn
	}
	err := w.link.Do(w.unit, opWriteCoil, func(b link.Bus) error {
		echo, err := b.WriteSingleCoil(w.addr, value)
		if err != nil {
			return err
		}
		if len(echo) >= 4 && binary.BigEndian.Uint16(echo[2:4]) != value {
			return fmt.Errorf("coil %d echoed 0x%04X, want 0x%04X", w.addr, binary.BigEndian.Uint16(echo[2:4]), value)
		}
		return nil
	})
	if err != nil {
		return fault.New(fault.Write, fmt.Sprintf("%s %d=%s", opWriteCoil, w.addr, target), w.unit, err)
	}
	w.mu.Lock()
	w.last = target
	w.mu.Unlock()
	return nil
}
