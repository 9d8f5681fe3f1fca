package link

import (
	"log"

	"github.com/goburrow/modbus"

	"modbus-pump-control/internal/utils"
)

// rtuHandler adapts goburrow's RTU client handler to Handler.
type rtuHandler struct {
	h      *modbus.RTUClientHandler
	client modbus.Client
}

// NewRTUHandler configures (but does not open) an RTU handler on sp.
// A non-nil trace logger dumps every frame.
func NewRTUHandler(sp utils.SerialParams, trace *log.Logger) Handler {
	h := modbus.NewRTUClientHandler(sp.Address)
	h.Config = utils.SerialConfig(sp)
	// Keep the port open between cycles; the manager decides when to close it.
	h.IdleTimeout = 0
	if trace != nil {
		h.Logger = trace
	}
	return &rtuHandler{h: h, client: modbus.NewClient(h)}
}

func (r *rtuHandler) Connect() error { return r.h.Connect() }

func (r *rtuHandler) Close() error { return r.h.Close() }

// Bus retargets the shared handler at unitID. Callers hold the manager lock.
func (r *rtuHandler) Bus(unitID uint8) Bus {
	r.h.SlaveId = unitID
	return r.client
}
