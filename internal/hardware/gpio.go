//go:build linux

package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// STUSB4500 RESET is active high; the datasheet asks for at least 100us.
	pdResetHold = time.Millisecond
	// Time for the sink controller to reload its NVM after reset.
	pdBootWait = 25 * time.Millisecond
)

// openPin resolves a named pin. An empty name yields a nil pin.
func openPin(name, role string) (gpio.PinIO, error) {
	if name == "" {
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: failed to open %s (%s)", name, role)
	}
	return p, nil
}

// initHost initializes the periph.io host drivers. Safe to call repeatedly.
func initHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: host init failed: %w", err)
	}
	return nil
}

// pwmOut drives pin with an 8-bit duty at freq. Inverted outputs are used for
// the status LEDs, which are wired to sink current.
func pwmOut(pin gpio.PinIO, level uint8, freq physic.Frequency, inverted bool) error {
	if pin == nil {
		return nil
	}
	if inverted {
		level = 255 - level
	}
	switch level {
	case 0:
		return pin.Out(gpio.Low)
	case 255:
		return pin.Out(gpio.High)
	}
	duty := gpio.Duty(int64(level) * int64(gpio.DutyMax) / 255)
	return pin.PWM(duty, freq)
}

// pulseReset drives the PD controller reset line high for pdResetHold and
// waits for the controller to come back up.
func pulseReset(ctx context.Context, pin gpio.PinIO) error {
	if pin == nil {
		return nil
	}
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio: failed to assert PD reset: %w", err)
	}
	if err := sleepCtx(ctx, pdResetHold); err != nil {
		_ = pin.Out(gpio.Low)
		return err
	}
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: failed to release PD reset: %w", err)
	}
	if err := sleepCtx(ctx, pdBootWait); err != nil {
		return err
	}
	slog.Debug("gpio: PD controller reset complete", "pin", pin.Name())
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
