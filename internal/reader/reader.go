// Package reader polls the sensor unit: the float-switch pair as two discrete
// inputs, or the pressure transducer as one holding register.
package reader

import (
	"encoding/binary"
	"fmt"

	"modbus-pump-control/internal/fault"
	"modbus-pump-control/internal/level"
	"modbus-pump-control/internal/link"
)

// Transactor runs one bus transaction. *link.Manager satisfies it.
type Transactor interface {
	Do(unitID uint8, op string, fn func(link.Bus) error) error
}

// Reader issues sensor reads over a shared link.
type Reader struct {
	link Transactor
}

func New(t Transactor) *Reader {
	return &Reader{link: t}
}

const (
	opReadInputs   = "read discrete inputs"
	opReadRegister = "read holding register"
)

// ReadDigitalPair reads inputs base (low float) and base+1 (high float).
// On failure the returned Reading is invalid.
func (r *Reader) ReadDigitalPair(unitID uint8, base uint16) (level.Reading, error) {
	var low, high bool
	err := r.link.Do(unitID, opReadInputs, func(b link.Bus) error {
		data, err := b.ReadDiscreteInputs(base, 2)
		if err != nil {
			return err
		}
		if len(data) < 1 {
			return fault.New(fault.Protocol, opReadInputs, unitID,
				fmt.Errorf("short payload: %d bytes, want 1", len(data)))
		}
		low = data[0]&0x01 != 0
		high = data[0]&0x02 != 0
		return nil
	})
	if err != nil {
		return level.Invalid(level.ModeDigital), err
	}
	return level.Digital(low, high), nil
}

// ReadAnalog reads the big-endian transducer register at addr.
func (r *Reader) ReadAnalog(unitID uint8, addr uint16) (level.Reading, error) {
	var raw uint16
	err := r.link.Do(unitID, opReadRegister, func(b link.Bus) error {
		data, err := b.ReadHoldingRegisters(addr, 1)
		if err != nil {
			return err
		}
		if len(data) < 2 {
			return fault.New(fault.Protocol, opReadRegister, unitID,
				fmt.Errorf("short payload: %d bytes, want 2", len(data)))
		}
		raw = binary.BigEndian.Uint16(data)
		return nil
	})
	if err != nil {
		return level.Invalid(level.ModeAnalog), err
	}
	return level.Analog(raw), nil
}

// Read dispatches on mode using the configured addresses.
func (r *Reader) Read(mode level.Mode, unitID uint8, inputBase, registerAddr uint16) (level.Reading, error) {
	if mode == level.ModeAnalog {
		return r.ReadAnalog(unitID, registerAddr)
	}
	return r.ReadDigitalPair(unitID, inputBase)
}
