// Package power drives the two peers the boot sequencer talks to while it
// owns the bus in controller mode: the STUSB4500 USB-PD sink controller and
// the INA219 bus monitor. Both are built on drivers.I2C.
package power

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// STUSB4500 registers.
const (
	regPDCommandCtrl = 0x1A
	regDeviceID      = 0x2F
	regTxHeaderLow   = 0x51
	regDPMPDONumb    = 0x70
	regDPMSnkPDO1    = 0x85
)

const (
	// DefaultSTUSB4500Addr is the sink controller address with ADDR pins low.
	DefaultSTUSB4500Addr = 0x28

	txHeaderSoftReset = 0x0D
	pdCommandSend     = 0x26

	// Reserved bits carried in the factory PDO image; preserved on rewrite.
	pdoReserved = 0x00400000
)

// STUSB4500 is a USB-PD sink controller.
type STUSB4500 struct {
	bus  drivers.I2C
	addr uint16
}

// NewSTUSB4500 returns a driver for the controller at addr.
func NewSTUSB4500(bus drivers.I2C, addr uint16) *STUSB4500 {
	return &STUSB4500{bus: bus, addr: addr}
}

// DeviceID reads the device identification register.
func (d *STUSB4500) DeviceID() (byte, error) {
	var buf [1]byte
	if err := d.bus.Tx(d.addr, []byte{regDeviceID}, buf[:]); err != nil {
		return 0, fmt.Errorf("stusb4500: read device id: %w", err)
	}
	return buf[0], nil
}

// EncodeFixedPDO packs a fixed-supply sink PDO: operating current in 10 mA
// units in bits 9:0 and voltage in 50 mV units in bits 19:10.
func EncodeFixedPDO(v physic.ElectricPotential, ma uint32) uint32 {
	mv := uint32(v / physic.MilliVolt)
	return (mv/50&0x3FF)<<10 | (ma / 10 & 0x3FF)
}

// DecodeFixedPDO is the inverse of EncodeFixedPDO.
func DecodeFixedPDO(pdo uint32) (physic.ElectricPotential, uint32) {
	mv := (pdo >> 10 & 0x3FF) * 50
	return physic.ElectricPotential(mv) * physic.MilliVolt, (pdo & 0x3FF) * 10
}

// RequestProfile programs sink PDO number n (1-3) with v at ma, selects it as
// the highest-priority PDO and issues a soft reset so the source renegotiates.
func (d *STUSB4500) RequestProfile(n int, v physic.ElectricPotential, ma uint32) error {
	if n < 1 || n > 3 {
		return fmt.Errorf("stusb4500: invalid PDO number %d", n)
	}
	id, err := d.DeviceID()
	if err != nil {
		return err
	}
	slog.Debug("stusb4500: device id", "id", fmt.Sprintf("0x%02x", id))

	pdo := make([]byte, 5)
	pdo[0] = byte(regDPMSnkPDO1 + 4*(n-1))
	binary.LittleEndian.PutUint32(pdo[1:], EncodeFixedPDO(v, ma)|pdoReserved)

	writes := [][]byte{
		pdo,
		{regDPMPDONumb, byte(n)},
		{regTxHeaderLow, txHeaderSoftReset},
		{regPDCommandCtrl, pdCommandSend},
	}
	for _, w := range writes {
		if err := d.bus.Tx(d.addr, w, nil); err != nil {
			return fmt.Errorf("stusb4500: write reg 0x%02x: %w", w[0], err)
		}
	}
	slog.Info("stusb4500: profile requested", "pdo", n, "voltage", v, "current_ma", ma)
	return nil
}
