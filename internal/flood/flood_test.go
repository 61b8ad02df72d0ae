package flood_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenloop/hydroctl/internal/flood"
	"github.com/greenloop/hydroctl/internal/hardware"
)

func newMachine(t *testing.T, cfg flood.Config) (*flood.Machine, *hardware.Mock) {
	t.Helper()
	hw := hardware.NewMock()
	hw.SetWaterLevel(20)
	m := flood.New(hw, hw, cfg)
	require.Equal(t, flood.AwaitFloodSignal, m.Step())
	return m, hw
}

func TestMachine_InitAdvancesToAwait(t *testing.T) {
	hw := hardware.NewMock()
	m := flood.New(hw, hw, flood.DefaultConfig())
	assert.Equal(t, flood.Init, m.State())
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
}

func TestMachine_BeginRunsPump(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	m.BeginFlooding()
	assert.True(t, m.Flooding())
	assert.Equal(t, uint8(100), hw.PumpDuty())
	assert.Equal(t, uint64(1), m.Cycles())

	// Level below shutoff keeps flooding.
	assert.Equal(t, flood.Flooding, m.Step())
	assert.Equal(t, uint8(100), hw.PumpDuty())
}

func TestMachine_ShutoffOnSameTick(t *testing.T) {
	for _, level := range []uint8{90, 95, 100} {
		m, hw := newMachine(t, flood.DefaultConfig())
		m.BeginFlooding()
		m.Step()

		hw.SetWaterLevel(level)
		assert.Equal(t, flood.AwaitFloodSignal, m.Step(), "level %d", level)
		assert.Equal(t, uint8(0), hw.PumpDuty())
		assert.Equal(t, flood.ReasonShutoff, m.LastStop())
	}
}

func TestMachine_ShutoffRegardlessOfEntry(t *testing.T) {
	// Flooding entered straight from INIT, without a tick in between.
	hw := hardware.NewMock()
	hw.SetWaterLevel(99)
	m := flood.New(hw, hw, flood.DefaultConfig())
	m.BeginFlooding()
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, uint8(0), hw.PumpDuty())
}

func TestMachine_SensorFaultStops(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	m.BeginFlooding()
	hw.SetWaterLevel(hardware.WaterLevelFault)
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, flood.ReasonSensorFault, m.LastStop())
	assert.Equal(t, uint8(0), hw.PumpDuty())
}

func TestMachine_MinLevel(t *testing.T) {
	cfg := flood.DefaultConfig()
	cfg.Limits.MinLevel = 10
	m, hw := newMachine(t, cfg)
	m.BeginFlooding()
	hw.SetWaterLevel(9)
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, flood.ReasonLowLevel, m.LastStop())
}

func TestMachine_DefaultStopsBeforeRunningDry(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	m.BeginFlooding()
	assert.Equal(t, flood.Flooding, m.Step())

	hw.SetWaterLevel(9)
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, flood.ReasonLowLevel, m.LastStop())
	assert.Equal(t, uint8(0), hw.PumpDuty())
}

func TestMachine_MaxDuration(t *testing.T) {
	cfg := flood.DefaultConfig()
	cfg.Tick = 100 * time.Millisecond
	cfg.Limits.MaxDuration = 300 * time.Millisecond
	m, hw := newMachine(t, cfg)
	m.BeginFlooding()

	assert.Equal(t, flood.Flooding, m.Step())
	assert.Equal(t, flood.Flooding, m.Step())
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, flood.ReasonTimeout, m.LastStop())
	assert.Equal(t, uint8(0), hw.PumpDuty())
}

func TestMachine_StopIsIdempotent(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	hw.SetPumpDuty(42)
	history := hw.PumpHistory()

	m.StopFlooding()
	assert.Equal(t, flood.AwaitFloodSignal, m.State())
	assert.Equal(t, uint8(42), hw.PumpDuty())
	assert.Equal(t, history, hw.PumpHistory())
}

func TestMachine_StopWhileFlooding(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	m.BeginFlooding()
	m.StopFlooding()
	assert.Equal(t, flood.AwaitFloodSignal, m.State())
	assert.Equal(t, uint8(0), hw.PumpDuty())
	assert.Equal(t, flood.ReasonSignal, m.LastStop())
}

func TestMachine_BeginIsIdempotent(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	m.BeginFlooding()
	m.BeginFlooding()
	assert.Equal(t, uint64(1), m.Cycles())
	assert.Equal(t, []uint8{100}, hw.PumpHistory())
}

func TestMachine_AwaitCutsManualPump(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	hw.SetPumpDuty(200)
	m.Step()
	assert.Equal(t, uint8(200), hw.PumpDuty())

	hw.SetWaterLevel(95)
	m.Step()
	assert.Equal(t, uint8(0), hw.PumpDuty())
	assert.Equal(t, flood.AwaitFloodSignal, m.State())
}

func TestMachine_SetLimits(t *testing.T) {
	m, hw := newMachine(t, flood.DefaultConfig())
	m.SetLimits(flood.Limits{ShutoffLevel: 15})
	assert.Equal(t, uint8(15), m.Limits().ShutoffLevel)
	m.BeginFlooding()
	assert.Equal(t, flood.AwaitFloodSignal, m.Step())
	assert.Equal(t, uint8(0), hw.PumpDuty())
}

func TestMachine_OnChange(t *testing.T) {
	hw := hardware.NewMock()
	hw.SetWaterLevel(20)
	m := flood.New(hw, hw, flood.DefaultConfig())
	var changes []flood.Change
	m.OnChange(func(c flood.Change) { changes = append(changes, c) })

	m.Step()
	m.BeginFlooding()
	hw.SetWaterLevel(92)
	m.Step()

	assert.Equal(t, []flood.Change{
		{From: flood.Init, To: flood.AwaitFloodSignal},
		{From: flood.AwaitFloodSignal, To: flood.Flooding},
		{From: flood.Flooding, To: flood.AwaitFloodSignal, Reason: flood.ReasonShutoff, Level: 92},
	}, changes)
}

func TestMachine_RunStopsPumpOnShutdown(t *testing.T) {
	cfg := flood.DefaultConfig()
	cfg.Tick = time.Millisecond
	m, hw := newMachine(t, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	m.BeginFlooding()
	time.Sleep(5 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, uint8(0), hw.PumpDuty())
	assert.False(t, m.Flooding())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "INIT", flood.Init.String())
	assert.Equal(t, "AWAIT_FLOOD_SIGNAL", flood.AwaitFloodSignal.String())
	assert.Equal(t, "FLOODING", flood.Flooding.String())
	assert.Equal(t, "State(7)", flood.State(7).String())
}
