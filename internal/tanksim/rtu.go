package tanksim

import (
	"encoding/binary"
	"sync"

	"github.com/goburrow/modbus"
)

// Units maps the two slave ids and their register addresses onto a Tank.
type Units struct {
	PumpID       uint8
	CoilAddress  uint16
	SensorID     uint8
	InputBase    uint16
	RegisterAddr uint16
}

// Device answers RTU requests for the pump unit and the sensor unit.
type Device struct {
	tank  *Tank
	units Units

	// DropEvery leaves every n-th addressed request unanswered; 0 answers all.
	DropEvery int

	mu       sync.Mutex
	requests int
}

func NewDevice(tank *Tank, units Units) *Device {
	return &Device{tank: tank, units: units}
}

// Handle returns the response PDU for a request PDU addressed to unit, and
// false when the request must go unanswered (foreign unit or dropped).
func (d *Device) Handle(unit uint8, pdu []byte) ([]byte, bool) {
	if len(pdu) == 0 || (unit != d.units.PumpID && unit != d.units.SensorID) {
		return nil, false
	}
	d.mu.Lock()
	d.requests++
	drop := d.DropEvery > 0 && d.requests%d.DropEvery == 0
	d.mu.Unlock()
	if drop {
		return nil, false
	}
	return d.handlePDU(unit, pdu), true
}

func (d *Device) handlePDU(unit uint8, pdu []byte) []byte {
	if len(pdu) < 5 {
		return exception(pdu[0], modbus.ExceptionCodeIllegalDataValue)
	}
	fn := pdu[0]
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	switch {
	case fn == modbus.FuncCodeReadCoils && unit == d.units.PumpID:
		if addr != d.units.CoilAddress || qty != 1 {
			return exception(fn, modbus.ExceptionCodeIllegalDataAddress)
		}
		return []byte{fn, 1, boolBit(d.tank.PumpOn())}

	case fn == modbus.FuncCodeWriteSingleCoil && unit == d.units.PumpID:
		if addr != d.units.CoilAddress {
			return exception(fn, modbus.ExceptionCodeIllegalDataAddress)
		}
		switch qty {
		case 0xFF00:
			d.tank.SetPump(true)
		case 0x0000:
			d.tank.SetPump(false)
		default:
			return exception(fn, modbus.ExceptionCodeIllegalDataValue)
		}
		return append([]byte{fn}, pdu[1:5]...)

	case fn == modbus.FuncCodeReadDiscreteInputs && unit == d.units.SensorID:
		if addr < d.units.InputBase || int(addr)+int(qty) > int(d.units.InputBase)+2 || qty == 0 {
			return exception(fn, modbus.ExceptionCodeIllegalDataAddress)
		}
		low, high := d.tank.Floats()
		bits := []bool{low, high}[addr-d.units.InputBase:]
		var b byte
		for i := 0; i < int(qty); i++ {
			if bits[i] {
				b |= 1 << uint(i)
			}
		}
		return []byte{fn, 1, b}

	case fn == modbus.FuncCodeReadHoldingRegisters && unit == d.units.SensorID:
		if addr != d.units.RegisterAddr || qty != 1 {
			return exception(fn, modbus.ExceptionCodeIllegalDataAddress)
		}
		resp := []byte{fn, 2, 0, 0}
		binary.BigEndian.PutUint16(resp[2:], d.tank.Raw())
		return resp

	default:
		return exception(fn, modbus.ExceptionCodeIllegalFunction)
	}
}

func exception(fn byte, code byte) []byte { return []byte{fn | 0x80, code} }

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// crc16 computes the Modbus RTU CRC over data.
func crc16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// frame appends the CRC to unit+pdu.
func frame(unit uint8, pdu []byte) []byte {
	out := make([]byte, 0, len(pdu)+3)
	out = append(out, unit)
	out = append(out, pdu...)
	return binary.LittleEndian.AppendUint16(out, crc16(out))
}
