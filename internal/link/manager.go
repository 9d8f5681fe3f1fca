// Package link owns the serial connection to the RTU bus. Every transaction to the
// pump unit or the sensor unit goes through one Manager, one at a time.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"modbus-pump-control/internal/fault"
	"modbus-pump-control/internal/utils"
)

// ErrNotConnected is returned for transactions attempted while the port is closed.
var ErrNotConnected = errors.New("serial link not connected")

// Bus is the subset of modbus.Client the controller issues.
type Bus interface {
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

// Handler is one openable transport. Bus addresses the given slave.
type Handler interface {
	Connect() error
	Close() error
	Bus(unitID uint8) Bus
}

// HandlerFactory builds a fresh handler for every (re)connect.
type HandlerFactory func(sp utils.SerialParams) Handler

// Config is the link's part of the controller configuration.
type Config struct {
	Serial     utils.SerialParams
	Retries    int           // extra attempts per transaction on transport errors
	Quiescence time.Duration // wait between close and reopen
	Trace      bool          // log every RTU frame
	Logger     *log.Logger
}

// Manager is the single owner of the serial port.
type Manager struct {
	cfg     Config
	factory HandlerFactory
	sleep   func(context.Context, time.Duration) error
	log     *log.Logger

	mu        sync.Mutex
	h         Handler
	connected bool
}

// New creates a manager that talks Modbus RTU through goburrow/modbus.
func New(cfg Config) *Manager {
	var trace *log.Logger
	if cfg.Trace {
		trace = cfg.Logger
		if trace == nil {
			trace = log.Default()
		}
	}
	return NewWithFactory(cfg, func(sp utils.SerialParams) Handler {
		return NewRTUHandler(sp, trace)
	}, cfg.Logger)
}

// NewWithFactory creates a manager around an arbitrary handler factory.
func NewWithFactory(cfg Config, factory HandlerFactory, logger *log.Logger) *Manager {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		sleep:   utils.Sleep,
		log:     logger,
	}
}

// SetSleep replaces the quiescence wait, for tests.
func (m *Manager) SetSleep(fn func(context.Context, time.Duration) error) {
	m.sleep = fn
}

// Connect opens the port. Failures are returned, never raised.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked()
}

func (m *Manager) connectLocked() (err error) {
	op := "connect " + m.cfg.Serial.Address
	defer func() {
		if r := recover(); r != nil {
			m.connected = false
			m.h = nil
			err = fault.New(fault.Transport, op, 0, fmt.Errorf("panic: %v", r))
		}
	}()

	if m.h == nil {
		m.h = m.factory(m.cfg.Serial)
	}
	if err := m.h.Connect(); err != nil {
		m.connected = false
		return fault.New(fault.Transport, op, 0, err)
	}
	m.connected = true
	return nil
}

// IsConnected reports the outcome of the last Connect/Close.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Close releases the port. It is idempotent; close errors are logged and dropped.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *Manager) closeLocked() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("link: panic while closing %s: %v", m.cfg.Serial.Address, r)
		}
		m.h = nil
		m.connected = false
	}()
	if m.h == nil {
		return
	}
	if err := m.h.Close(); err != nil {
		m.log.Printf("link: close %s: %v", m.cfg.Serial.Address, err)
	}
}

// Reconnect closes the port, waits for the OS to release the device and opens
// it again with a fresh handler. A half-open handle can keep the device busy,
// so retrying without the close would not recover it.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Close()
	m.log.Printf("link: reconnecting %s in %v", m.cfg.Serial.Address, m.cfg.Quiescence)
	if err := m.sleep(ctx, m.cfg.Quiescence); err != nil {
		return err
	}
	return m.Connect()
}

// Do runs fn against unitID as one transaction.
//
// Transport failures are retried up to Retries extra times. Modbus exception
// responses are returned at once as fault.Protocol, as is anything fn already
// classified. A panic inside the transport becomes a fault.Transport error.
func (m *Manager) Do(unitID uint8, op string, fn func(Bus) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || m.h == nil {
		return fault.New(fault.Transport, op, unitID, ErrNotConnected)
	}

	var err error
	for attempt := 0; attempt <= m.cfg.Retries; attempt++ {
		err = m.attempt(unitID, fn)
		if err == nil {
			return nil
		}

		var fe *fault.Error
		if errors.As(err, &fe) {
			return err
		}
		var me *modbus.ModbusError
		if errors.As(err, &me) {
			return fault.New(fault.Protocol, op, unitID, err)
		}
	}
	return fault.New(fault.Transport, op, unitID, fmt.Errorf("after %d attempt(s): %w", m.cfg.Retries+1, err))
}

func (m *Manager) attempt(unitID uint8, fn func(Bus) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return fn(m.h.Bus(unitID))
}
