package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/greenloop/hydroctl/internal/boot"
	"github.com/greenloop/hydroctl/internal/flood"
	"github.com/greenloop/hydroctl/internal/hardware"
	"github.com/greenloop/hydroctl/internal/protocol"
)

// DefaultSettingsPath is where the daemon looks for its settings file.
const DefaultSettingsPath = "/etc/hydroctl/hydroctl.yaml"

// Settings is the daemon configuration read from YAML.
type Settings struct {
	Bus       BusSettings       `yaml:"bus"`
	Power     PowerSettings     `yaml:"power"`
	Protocol  ProtocolSettings  `yaml:"protocol"`
	Flood     FloodSettings     `yaml:"flood"`
	Registers RegisterSettings  `yaml:"registers"`
	GPIO      GPIOSettings      `yaml:"gpio"`
	Sensors   SensorSettings    `yaml:"sensors"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
	HTTP      HTTPSettings      `yaml:"http"`
	StateDir  string            `yaml:"state_dir"`
}

// BusSettings selects the two-wire bus devices.
type BusSettings struct {
	Device        string `yaml:"device"`
	BridgePort    string `yaml:"bridge_port"`
	BridgeBaud    int    `yaml:"bridge_baud"`
	TargetAddress uint16 `yaml:"target_address"`
	MaxOpsPerSec  int    `yaml:"max_ops_per_sec"`
}

// PowerSettings configures the boot power negotiation.
type PowerSettings struct {
	PDAddress           uint16        `yaml:"pd_address"`
	MonitorAddress      uint16        `yaml:"monitor_address"`
	DelegateNegotiation bool          `yaml:"delegate_negotiation"`
	RequestMilliVolts   int           `yaml:"request_mv"`
	RequestMilliAmps    int           `yaml:"request_ma"`
	TargetMinMilliVolts int           `yaml:"target_min_mv"`
	TargetMaxMilliVolts int           `yaml:"target_max_mv"`
	FallbackBelowMV     int           `yaml:"fallback_below_mv"`
	MaxAttempts         int           `yaml:"max_attempts"`
	Tick                time.Duration `yaml:"tick"`
	BootTimeout         time.Duration `yaml:"boot_timeout"` // 0 disables
}

// ProtocolSettings configures the register protocol engine.
type ProtocolSettings struct {
	QueueDepth   int           `yaml:"queue_depth"`
	Wait         time.Duration `yaml:"wait"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// FloodSettings configures flood cycles. Thresholds are percentages.
type FloodSettings struct {
	Tick         time.Duration `yaml:"tick"`
	PumpDuty     uint8         `yaml:"pump_duty"`
	ShutoffLevel uint8         `yaml:"shutoff_level"`
	MinLevel     uint8         `yaml:"min_level"`    // 0 disables
	MaxDuration  time.Duration `yaml:"max_duration"` // 0 disables
}

// RegisterSettings holds fixed register values.
type RegisterSettings struct {
	ChipID  uint8 `yaml:"chip_id"`
	Version uint8 `yaml:"version"`
}

// GPIOSettings names the periph.io pins.
type GPIOSettings struct {
	PDReset    string `yaml:"pd_reset"`
	PumpPWM    string `yaml:"pump_pwm"`
	LEDRed     string `yaml:"led_red"`
	LEDGreen   string `yaml:"led_green"`
	ECPower    string `yaml:"ec_power"`
	LevelPower string `yaml:"level_power"`
	PumpPWMHz  int64  `yaml:"pump_pwm_hz"`
	LEDPWMHz   int64  `yaml:"led_pwm_hz"`
}

// SensorSettings locates the ADC channels.
type SensorSettings struct {
	IIODevice           string        `yaml:"iio_device"`
	WaterChannel        int           `yaml:"water_channel"`
	ConductivityChannel int           `yaml:"conductivity_channel"`
	ADCMax              float32       `yaml:"adc_max"`
	ADCRefVolts         float32       `yaml:"adc_ref_volts"`
	Settle              time.Duration `yaml:"settle"`
	Poll                time.Duration `yaml:"poll"` // status sampling period
}

// TelemetrySettings configures the calibration logger.
type TelemetrySettings struct {
	Enabled bool          `yaml:"enabled"`
	Period  time.Duration `yaml:"period"`
	Alpha   float32       `yaml:"alpha"`
}

// HTTPSettings configures the diagnostic API.
type HTTPSettings struct {
	Addr string `yaml:"addr"`
	MDNS bool   `yaml:"mdns"`
}

// Default returns the settings used when no file is present.
func Default() *Settings {
	return &Settings{
		Bus: BusSettings{
			Device:        "/dev/i2c-1",
			BridgePort:    "/dev/ttyACM0",
			BridgeBaud:    115200,
			TargetAddress: 0x4B,
			MaxOpsPerSec:  500,
		},
		Power: PowerSettings{
			PDAddress:           0x28,
			MonitorAddress:      0x40,
			RequestMilliVolts:   9000,
			RequestMilliAmps:    2000,
			TargetMinMilliVolts: 8000,
			TargetMaxMilliVolts: 10000,
			FallbackBelowMV:     6000,
			MaxAttempts:         3,
			Tick:                250 * time.Millisecond,
		},
		Protocol: ProtocolSettings{
			QueueDepth:   3,
			Wait:         10 * time.Millisecond,
			ReplyTimeout: time.Second,
		},
		Flood: FloodSettings{
			Tick:         500 * time.Millisecond,
			PumpDuty:     100,
			ShutoffLevel: 90,
			MinLevel:     10,
		},
		Registers: RegisterSettings{
			ChipID:  0x48,
			Version: 0x11,
		},
		GPIO: GPIOSettings{
			PDReset:    "GPIO17",
			PumpPWM:    "GPIO18",
			LEDRed:     "GPIO12",
			LEDGreen:   "GPIO13",
			ECPower:    "GPIO22",
			LevelPower: "GPIO23",
			PumpPWMHz:  300000,
			LEDPWMHz:   4000,
		},
		Sensors: SensorSettings{
			IIODevice:           "/sys/bus/iio/devices/iio:device0",
			WaterChannel:        0,
			ConductivityChannel: 1,
			ADCMax:              8191,
			ADCRefVolts:         3.3,
			Settle:              100 * time.Millisecond,
			Poll:                2 * time.Second,
		},
		Telemetry: TelemetrySettings{
			Period: 10 * time.Second,
			Alpha:  0.2,
		},
		HTTP: HTTPSettings{
			Addr: ":8080",
			MDNS: true,
		},
		StateDir: "/var/lib/hydroctl",
	}
}

// Load reads settings from path, overlaying file values on Default. A
// missing file yields the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings the daemon cannot run with.
func (s *Settings) Validate() error {
	switch {
	case s.Bus.TargetAddress == 0 || s.Bus.TargetAddress > 0x7F:
		return fmt.Errorf("config: bus.target_address 0x%02x is not a 7-bit address", s.Bus.TargetAddress)
	case s.Power.TargetMinMilliVolts >= s.Power.TargetMaxMilliVolts:
		return fmt.Errorf("config: power.target_min_mv must be below target_max_mv")
	case s.Power.MaxAttempts < 1:
		return fmt.Errorf("config: power.max_attempts must be at least 1")
	case s.Protocol.QueueDepth < 1:
		return fmt.Errorf("config: protocol.queue_depth must be at least 1")
	case s.Flood.Tick <= 0:
		return fmt.Errorf("config: flood.tick must be positive")
	case s.Flood.ShutoffLevel == 0:
		return fmt.Errorf("config: flood.shutoff_level must be set")
	case s.Flood.MinLevel >= s.Flood.ShutoffLevel:
		return fmt.Errorf("config: flood.min_level must be below shutoff_level")
	case s.Telemetry.Alpha <= 0 || s.Telemetry.Alpha > 1:
		return fmt.Errorf("config: telemetry.alpha must be in (0, 1]")
	case s.Telemetry.Enabled && s.Telemetry.Period <= 0:
		return fmt.Errorf("config: telemetry.period must be positive")
	case s.Sensors.Poll <= 0:
		return fmt.Errorf("config: sensors.poll must be positive")
	case s.Sensors.Settle < 0:
		return fmt.Errorf("config: sensors.settle must not be negative")
	case s.HTTP.Addr == "":
		return fmt.Errorf("config: http.addr must be set")
	}
	return nil
}

func milliVolts(mv int) physic.ElectricPotential {
	return physic.ElectricPotential(mv) * physic.MilliVolt
}

// BootConfig converts the power settings.
func (s *Settings) BootConfig() boot.Config {
	return boot.Config{
		Tick:          s.Power.Tick,
		Delegated:     s.Power.DelegateNegotiation,
		TargetMin:     milliVolts(s.Power.TargetMinMilliVolts),
		TargetMax:     milliVolts(s.Power.TargetMaxMilliVolts),
		FallbackBelow: milliVolts(s.Power.FallbackBelowMV),
		MaxAttempts:   s.Power.MaxAttempts,
		Timeout:       s.Power.BootTimeout,
	}
}

// RequestVoltage is the PD profile voltage to request.
func (s *Settings) RequestVoltage() physic.ElectricPotential {
	return milliVolts(s.Power.RequestMilliVolts)
}

// ProtocolConfig converts the protocol settings.
func (s *Settings) ProtocolConfig() protocol.Config {
	return protocol.Config{
		QueueDepth:   s.Protocol.QueueDepth,
		Wait:         s.Protocol.Wait,
		ReplyTimeout: s.Protocol.ReplyTimeout,
	}
}

// FloodLimits converts the flood thresholds.
func (s *Settings) FloodLimits() flood.Limits {
	return flood.Limits{
		ShutoffLevel: s.Flood.ShutoffLevel,
		MinLevel:     s.Flood.MinLevel,
		MaxDuration:  s.Flood.MaxDuration,
	}
}

// FloodConfig converts the flood settings.
func (s *Settings) FloodConfig() flood.Config {
	return flood.Config{
		Tick:     s.Flood.Tick,
		PumpDuty: s.Flood.PumpDuty,
		Limits:   s.FloodLimits(),
	}
}

// BoardConfig converts the bus, GPIO and sensor settings.
func (s *Settings) BoardConfig() hardware.BoardConfig {
	return hardware.BoardConfig{
		I2CDevice:           s.Bus.Device,
		Bridge:              hardware.BridgeConfig{Port: s.Bus.BridgePort, Baud: s.Bus.BridgeBaud},
		MaxOpsPerSec:        s.Bus.MaxOpsPerSec,
		PDReset:             s.GPIO.PDReset,
		PumpPWM:             s.GPIO.PumpPWM,
		LEDRed:              s.GPIO.LEDRed,
		LEDGreen:            s.GPIO.LEDGreen,
		ECPower:             s.GPIO.ECPower,
		LevelPower:          s.GPIO.LevelPower,
		PumpPWMFreq:         physic.Frequency(s.GPIO.PumpPWMHz) * physic.Hertz,
		LEDPWMFreq:          physic.Frequency(s.GPIO.LEDPWMHz) * physic.Hertz,
		IIODevice:           s.Sensors.IIODevice,
		ConductivityChannel: s.Sensors.ConductivityChannel,
		WaterChannel:        s.Sensors.WaterChannel,
		ADC:                 hardware.ADC{Max: s.Sensors.ADCMax, RefVolt: s.Sensors.ADCRefVolts},
		SettleTime:          s.Sensors.Settle,
	}
}
