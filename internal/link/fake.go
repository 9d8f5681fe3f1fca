package link

import (
	"encoding/binary"
	"sync"

	"modbus-pump-control/internal/utils"
)

// CoilWrite records one FC05 request seen by FakeBus.
type CoilWrite struct {
	Unit    uint8
	Address uint16
	On      bool
}

// FakeBus is an in-memory pair of RTU units for tests.
// Scripted errors are consumed in order; a nil entry means the call succeeds.
type FakeBus struct {
	mu   sync.Mutex
	unit uint8

	Inputs  map[uint8][]bool
	Holding map[uint8][]uint16
	Coils   map[uint8]map[uint16]bool

	ReadErrors  []error
	WriteErrors []error
	PanicOnRead bool

	ReadCalls  int
	CoilWrites []CoilWrite
}

// NewFakeBus creates an empty bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		Inputs:  map[uint8][]bool{},
		Holding: map[uint8][]uint16{},
		Coils:   map[uint8]map[uint16]bool{},
	}
}

// SetFloats sets the two float inputs of unit at base.
func (f *FakeBus) SetFloats(unit uint8, base uint16, low, high bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.Inputs[unit]
	for len(in) < int(base)+2 {
		in = append(in, false)
	}
	in[base], in[base+1] = low, high
	f.Inputs[unit] = in
}

// SetRegister sets one holding register of unit.
func (f *FakeBus) SetRegister(unit uint8, addr uint16, v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs := f.Holding[unit]
	for len(regs) <= int(addr) {
		regs = append(regs, 0)
	}
	regs[addr] = v
	f.Holding[unit] = regs
}

// Coil returns the coil value and whether it was ever written.
func (f *FakeBus) Coil(unit uint8, addr uint16) (on, written bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	on, written = f.Coils[unit][addr]
	return on, written
}

func (f *FakeBus) use(unit uint8) {
	f.mu.Lock()
	f.unit = unit
	f.mu.Unlock()
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *FakeBus) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadCalls++
	if f.PanicOnRead {
		panic("fake bus: read panic")
	}
	if err := pop(&f.ReadErrors); err != nil {
		return nil, err
	}
	in := f.Inputs[f.unit]
	out := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		idx := int(address) + i
		if idx < len(in) && in[idx] {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

func (f *FakeBus) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadCalls++
	if f.PanicOnRead {
		panic("fake bus: read panic")
	}
	if err := pop(&f.ReadErrors); err != nil {
		return nil, err
	}
	regs := f.Holding[f.unit]
	out := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		idx := int(address) + i
		if idx < len(regs) {
			binary.BigEndian.PutUint16(out[i*2:], regs[idx])
		}
	}
	return out, nil
}

func (f *FakeBus) WriteSingleCoil(address, value uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.WriteErrors); err != nil {
		return nil, err
	}
	on := value == 0xFF00
	f.CoilWrites = append(f.CoilWrites, CoilWrite{Unit: f.unit, Address: address, On: on})
	if f.Coils[f.unit] == nil {
		f.Coils[f.unit] = map[uint16]bool{}
	}
	f.Coils[f.unit][address] = on
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], address)
	binary.BigEndian.PutUint16(out[2:4], value)
	return out, nil
}

// FakeHandler serves a FakeBus and counts lifecycle calls.
type FakeHandler struct {
	Target *FakeBus

	ConnectErrors []error
	Connects      int
	Closes        int
}

func (h *FakeHandler) Connect() error {
	h.Connects++
	return pop(&h.ConnectErrors)
}

func (h *FakeHandler) Close() error {
	h.Closes++
	return nil
}

func (h *FakeHandler) Bus(unitID uint8) Bus {
	h.Target.use(unitID)
	return h.Target
}

// Factory returns a HandlerFactory that always hands out h, so counts
// survive reconnects.
func (h *FakeHandler) Factory() HandlerFactory {
	return func(utils.SerialParams) Handler { return h }
}
