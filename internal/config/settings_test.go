package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/greenloop/hydroctl/internal/config"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "hydroctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	s := config.Default()

	assert.Equal(t, "/dev/i2c-1", s.Bus.Device)
	assert.Equal(t, uint16(0x4B), s.Bus.TargetAddress)
	assert.Equal(t, 3, s.Protocol.QueueDepth)
	assert.Equal(t, 10*time.Millisecond, s.Protocol.Wait)
	assert.Equal(t, uint8(90), s.Flood.ShutoffLevel)
	assert.Equal(t, uint8(100), s.Flood.PumpDuty)
	assert.Equal(t, uint8(0x11), s.Registers.Version)
	assert.Equal(t, 250*time.Millisecond, s.Power.Tick)
	assert.Zero(t, s.Power.BootTimeout)
	assert.Equal(t, uint8(10), s.Flood.MinLevel)
	assert.Equal(t, 2*time.Second, s.Sensors.Poll)
	assert.NoError(t, s.Validate())
}

func TestLoad_TelemetryPeriodIgnoredWhenDisabled(t *testing.T) {
	s, err := config.Load(writeFile(t, t.TempDir(), "telemetry:\n  enabled: false\n  period: 0s\n"))
	require.NoError(t, err)
	assert.False(t, s.Telemetry.Enabled)
}

func TestLoad_FileNotExists(t *testing.T) {
	s, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), s)
}

func TestLoad_PartialYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
bus:
  target_address: 0x42
flood:
  shutoff_level: 80
  max_duration: 15m
power:
  delegate_negotiation: true
  boot_timeout: 30s
`)
	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x42), s.Bus.TargetAddress)
	assert.Equal(t, uint8(80), s.Flood.ShutoffLevel)
	assert.Equal(t, 15*time.Minute, s.Flood.MaxDuration)
	assert.True(t, s.Power.DelegateNegotiation)
	assert.Equal(t, 30*time.Second, s.Power.BootTimeout)

	// untouched fields keep their defaults
	assert.Equal(t, "/dev/i2c-1", s.Bus.Device)
	assert.Equal(t, 3, s.Protocol.QueueDepth)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "invalid: yaml: content: [")
	s, err := config.Load(path)
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"10-bit target address", "bus:\n  target_address: 0x100\n"},
		{"inverted voltage band", "power:\n  target_min_mv: 10000\n  target_max_mv: 9000\n"},
		{"zero attempts", "power:\n  max_attempts: 0\n"},
		{"zero queue", "protocol:\n  queue_depth: 0\n"},
		{"min above shutoff", "flood:\n  min_level: 95\n"},
		{"bad alpha", "telemetry:\n  alpha: 1.5\n"},
		{"zero telemetry period", "telemetry:\n  enabled: true\n  period: 0s\n"},
		{"zero sensor poll", "sensors:\n  poll: 0s\n"},
		{"negative settle", "sensors:\n  settle: -1s\n"},
		{"zero flood tick", "flood:\n  tick: 0s\n"},
		{"empty http addr", "http:\n  addr: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, t.TempDir(), tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSave(t *testing.T) {
	s := config.Default()
	s.HTTP.Addr = ":9000"
	s.Flood.MinLevel = 20

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, s.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", loaded.HTTP.Addr)
	assert.Equal(t, uint8(20), loaded.Flood.MinLevel)
}

func TestConversions(t *testing.T) {
	s := config.Default()
	s.Flood.MinLevel = 10

	bc := s.BootConfig()
	assert.Equal(t, 8*physic.Volt, bc.TargetMin)
	assert.Equal(t, 10*physic.Volt, bc.TargetMax)
	assert.Equal(t, 6*physic.Volt, bc.FallbackBelow)
	assert.Equal(t, 3, bc.MaxAttempts)
	assert.Equal(t, 9*physic.Volt, s.RequestVoltage())

	pc := s.ProtocolConfig()
	assert.Equal(t, 3, pc.QueueDepth)
	assert.Equal(t, time.Second, pc.ReplyTimeout)

	fc := s.FloodConfig()
	assert.Equal(t, uint8(90), fc.Limits.ShutoffLevel)
	assert.Equal(t, uint8(10), fc.Limits.MinLevel)
	assert.Equal(t, uint8(100), fc.PumpDuty)

	hw := s.BoardConfig()
	assert.Equal(t, "/dev/ttyACM0", hw.Bridge.Port)
	assert.Equal(t, 300*physic.KiloHertz, hw.PumpPWMFreq)
	assert.Equal(t, float32(8191), hw.ADC.Max)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flood:\n  shutoff_level: 90\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *config.Settings, 4)
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, func(s *config.Settings) { got <- s })
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("flood:\n  shutoff_level: 75\n"), 0o644))

	// a truncating write may surface the empty file first
	timeout := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case s := <-got:
			reloaded = s.Flood.ShutoffLevel == 75
		case <-timeout:
			t.Fatal("no reload after write")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_SkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flood:\n  shutoff_level: 90\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *config.Settings, 4)
	go config.Watch(ctx, path, func(s *config.Settings) { got <- s })
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("flood:\n  min_level: 95\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	timeout := time.After(300 * time.Millisecond)
	for {
		select {
		case s := <-got:
			assert.NotEqual(t, uint8(95), s.Flood.MinLevel, "invalid settings delivered")
		case <-timeout:
			return
		}
	}
}
