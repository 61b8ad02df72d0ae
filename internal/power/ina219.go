package power

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// INA219 registers.
const (
	regINAConfig     = 0x00
	regINABusVoltage = 0x02
)

const (
	// DefaultINA219Addr is the monitor address with A0/A1 grounded.
	DefaultINA219Addr = 0x40
	// DefaultINA219Config is 32 V range, 320 mV shunt range, 12-bit
	// continuous conversion (the power-on default).
	DefaultINA219Config = 0x399F

	busVoltageLSB = 4 * physic.MilliVolt
)

// INA219 is a high-side bus voltage and current monitor.
type INA219 struct {
	bus  drivers.I2C
	addr uint16
}

// NewINA219 returns a driver for the monitor at addr.
func NewINA219(bus drivers.I2C, addr uint16) *INA219 {
	return &INA219{bus: bus, addr: addr}
}

// Configure writes the configuration register.
func (d *INA219) Configure(cfg uint16) error {
	if err := d.bus.Tx(d.addr, []byte{regINAConfig, byte(cfg >> 8), byte(cfg)}, nil); err != nil {
		return fmt.Errorf("ina219: configure: %w", err)
	}
	return nil
}

// BusVoltage reads the measured bus voltage.
func (d *INA219) BusVoltage() (physic.ElectricPotential, error) {
	var buf [2]byte
	if err := d.bus.Tx(d.addr, []byte{regINABusVoltage}, buf[:]); err != nil {
		return 0, fmt.Errorf("ina219: read bus voltage: %w", err)
	}
	return DecodeBusVoltage(buf), nil
}

// DecodeBusVoltage converts the bus voltage register: the 13-bit reading
// sits in bits 15:3 with a 4 mV LSB.
func DecodeBusVoltage(b [2]byte) physic.ElectricPotential {
	raw := uint16(b[0])<<5 | uint16(b[1])>>3
	return physic.ElectricPotential(raw) * busVoltageLSB
}

// EncodeBusVoltage builds the register contents for v. The status bits 2:0
// are left clear.
func EncodeBusVoltage(v physic.ElectricPotential) [2]byte {
	raw := uint16(v/busVoltageLSB) & 0x1FFF
	return [2]byte{byte(raw >> 5), byte(raw&0x1F) << 3}
}
