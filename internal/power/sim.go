package power

import (
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/greenloop/hydroctl/internal/hardware"
)

// SimDeviceID is the device id the simulated sink controller reports.
const SimDeviceID = 0x25

// Sim emulates the sink controller and the bus monitor on a mock port so the
// boot sequence can run without hardware.
type Sim struct {
	mu sync.Mutex
	v  physic.ElectricPotential
}

// NewSim registers both peers on port. The monitor reports v until changed.
func NewSim(port *hardware.MockPort, pdAddr, monAddr uint16, v physic.ElectricPotential) *Sim {
	s := &Sim{v: v}
	port.SetRegister(pdAddr, regDeviceID, []byte{SimDeviceID})
	port.SetRegister(monAddr, regINAConfig, []byte{0x39, 0x9F})
	port.SetRegisterFunc(monAddr, regINABusVoltage, func() []byte {
		b := EncodeBusVoltage(s.Voltage())
		return b[:]
	})
	return s
}

// SetVoltage changes the simulated bus voltage.
func (s *Sim) SetVoltage(v physic.ElectricPotential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

// Voltage returns the simulated bus voltage.
func (s *Sim) Voltage() physic.ElectricPotential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}
