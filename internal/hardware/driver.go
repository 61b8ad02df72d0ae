// Package hardware provides the hardware abstraction layer for the hydroponic
// controller board. It defines the Board interface implemented by both the
// real sysfs/periph board and the mock board, and the Bus ownership token
// that arbitrates the shared two-wire bus between negotiation and target mode.
package hardware

import (
	"context"
	"fmt"
)

// WaterLevelFault is reported by WaterLevel when the sensor cannot be read.
const WaterLevelFault uint8 = 0xFF

// LED identifies one of the board's status LEDs.
type LED int

const (
	LEDRed LED = iota
	LEDGreen
	numLEDs
)

func (l LED) String() string {
	switch l {
	case LEDRed:
		return "red"
	case LEDGreen:
		return "green"
	default:
		return fmt.Sprintf("led(%d)", int(l))
	}
}

// Board is the hardware abstraction interface for the controller board.
// Sensor and actuator calls are synchronous and safe for concurrent use.
type Board interface {
	// Init initializes pins and sensors. Must be called before any other method.
	Init(ctx context.Context) error

	// WaterLevel returns the reservoir level in percent (0-100), or
	// WaterLevelFault if the sensor cannot be read.
	WaterLevel() uint8

	// Conductivity returns the conductivity probe voltage in volts.
	Conductivity() float32

	// SetPumpDuty sets the pump PWM duty (0-255).
	SetPumpDuty(duty uint8)

	// PumpDuty returns the last pump duty written.
	PumpDuty() uint8

	// SetLED sets a status LED brightness (0 = off, 255 = full).
	SetLED(led LED, level uint8)

	// ToggleLED switches an LED between off and full brightness.
	ToggleLED(led LED)

	// ResetPD pulses the reset line of the power-delivery sink controller.
	ResetPD(ctx context.Context) error

	// Bus returns the shared two-wire bus.
	Bus() *Bus

	// IsReal returns true for real hardware, false for a mock.
	IsReal() bool

	// Close releases pins and file descriptors.
	Close() error
}

// HardwareError is returned when a hardware operation fails.
type HardwareError struct {
	msg string
}

func (e HardwareError) Error() string { return e.msg }

// ErrHardware creates a new hardware error.
func ErrHardware(msg string) error { return HardwareError{msg: msg} }
