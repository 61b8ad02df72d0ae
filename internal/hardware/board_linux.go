//go:build linux

package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// BoardConfig describes how the board is wired on the host.
type BoardConfig struct {
	I2CDevice    string
	Bridge       BridgeConfig
	MaxOpsPerSec int

	PDReset    string
	PumpPWM    string
	LEDRed     string
	LEDGreen   string
	ECPower    string
	LevelPower string

	PumpPWMFreq physic.Frequency
	LEDPWMFreq  physic.Frequency

	IIODevice           string
	ConductivityChannel int
	WaterChannel        int
	ADC                 ADC
	SettleTime          time.Duration
}

// SysBoard is the real board: periph.io GPIO/PWM, Linux IIO ADC channels and
// the shared two-wire bus.
type SysBoard struct {
	cfg BoardConfig
	bus *Bus

	pdReset, pump, ecPower, levelPower gpio.PinIO
	leds                               [numLEDs]gpio.PinIO

	ec, level iioChannel

	sensorMu sync.Mutex
	lastEC   float32

	mu       sync.Mutex
	pumpDuty uint8
	ledLevel [numLEDs]uint8
}

var _ Board = (*SysBoard)(nil)

// NewBoard creates the real board driver.
func NewBoard(cfg BoardConfig) *SysBoard {
	port := &SystemPort{Device: cfg.I2CDevice, Bridge: cfg.Bridge}
	return &SysBoard{
		cfg:   cfg,
		bus:   NewBus(port, cfg.MaxOpsPerSec),
		ec:    newIIOChannel(cfg.IIODevice, cfg.ConductivityChannel),
		level: newIIOChannel(cfg.IIODevice, cfg.WaterChannel),
	}
}

func (b *SysBoard) Init(ctx context.Context) error {
	if err := initHost(); err != nil {
		return err
	}
	pins := []struct {
		dst  *gpio.PinIO
		name string
		role string
	}{
		{&b.pdReset, b.cfg.PDReset, "PD reset"},
		{&b.pump, b.cfg.PumpPWM, "pump PWM"},
		{&b.leds[LEDRed], b.cfg.LEDRed, "red LED"},
		{&b.leds[LEDGreen], b.cfg.LEDGreen, "green LED"},
		{&b.ecPower, b.cfg.ECPower, "EC power"},
		{&b.levelPower, b.cfg.LevelPower, "level power"},
	}
	for _, p := range pins {
		pin, err := openPin(p.name, p.role)
		if err != nil {
			return err
		}
		*p.dst = pin
	}

	b.SetPumpDuty(0)
	for led := LED(0); led < numLEDs; led++ {
		b.SetLED(led, 0)
	}
	for _, p := range []gpio.PinIO{b.pdReset, b.ecPower, b.levelPower} {
		if p != nil {
			if err := p.Out(gpio.Low); err != nil {
				return fmt.Errorf("gpio: init %s: %w", p.Name(), err)
			}
		}
	}
	slog.Info("board: initialized", "i2c", b.cfg.I2CDevice, "bridge", b.cfg.Bridge.Port, "iio", b.cfg.IIODevice)
	return nil
}

// sample powers an electrode, waits for it to settle and reads its channel.
func (b *SysBoard) sample(power gpio.PinIO, ch iioChannel) (float32, error) {
	if power != nil {
		if err := power.Out(gpio.High); err != nil {
			return 0, err
		}
		defer power.Out(gpio.Low)
	}
	time.Sleep(b.cfg.SettleTime)
	raw, err := ch.Read()
	if err != nil {
		return 0, err
	}
	return b.cfg.ADC.Volts(raw), nil
}

func (b *SysBoard) Conductivity() float32 {
	b.sensorMu.Lock()
	defer b.sensorMu.Unlock()
	return b.conductivityLocked()
}

func (b *SysBoard) conductivityLocked() float32 {
	v, err := b.sample(b.ecPower, b.ec)
	if err != nil {
		slog.Debug("board: conductivity read failed", "err", err)
		return math32.NaN()
	}
	b.lastEC = v
	return v
}

func (b *SysBoard) WaterLevel() uint8 {
	b.sensorMu.Lock()
	defer b.sensorMu.Unlock()
	if b.lastEC == 0 {
		b.conductivityLocked()
	}
	v, err := b.sample(b.levelPower, b.level)
	if err != nil {
		slog.Debug("board: water level read failed", "err", err)
		return WaterLevelFault
	}
	return WaterLevelPercent(b.lastEC, v)
}

func (b *SysBoard) SetPumpDuty(duty uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := pwmOut(b.pump, duty, b.cfg.PumpPWMFreq, false); err != nil {
		slog.Warn("board: set pump duty", "duty", duty, "err", err)
		return
	}
	b.pumpDuty = duty
	slog.Debug("board: pump duty set", "duty", duty)
}

func (b *SysBoard) PumpDuty() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pumpDuty
}

func (b *SysBoard) SetLED(led LED, level uint8) {
	if led < 0 || led >= numLEDs {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLEDLocked(led, level)
}

func (b *SysBoard) setLEDLocked(led LED, level uint8) {
	if err := pwmOut(b.leds[led], level, b.cfg.LEDPWMFreq, true); err != nil {
		slog.Warn("board: set LED", "led", led, "err", err)
		return
	}
	b.ledLevel[led] = level
}

func (b *SysBoard) ToggleLED(led LED) {
	if led < 0 || led >= numLEDs {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ledLevel[led] == 0 {
		b.setLEDLocked(led, 255)
	} else {
		b.setLEDLocked(led, 0)
	}
}

func (b *SysBoard) ResetPD(ctx context.Context) error {
	return pulseReset(ctx, b.pdReset)
}

func (b *SysBoard) Bus() *Bus { return b.bus }

func (b *SysBoard) IsReal() bool { return true }

// Close stops the pump and turns the LEDs off.
func (b *SysBoard) Close() error {
	b.SetPumpDuty(0)
	for led := LED(0); led < numLEDs; led++ {
		b.SetLED(led, 0)
	}
	return nil
}
