package hardware_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenloop/hydroctl/internal/hardware"
)

type nopHandler struct{}

func (nopHandler) OnReceive([]byte) {}
func (nopHandler) OnRequest()       {}

func TestBus_AcquireController(t *testing.T) {
	port := hardware.NewMockPort()
	port.SetRegister(0x40, 0x02, []byte{0x11, 0x22})
	bus := hardware.NewBus(port, 0)

	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, hardware.ModeController, bus.Mode())

	buf := make([]byte, 2)
	require.NoError(t, lease.Tx(0x40, []byte{0x02}, buf))
	assert.Equal(t, []byte{0x11, 0x22}, buf)
}

func TestBus_SecondAcquireIsBusy(t *testing.T) {
	bus := hardware.NewBus(hardware.NewMockPort(), 0)
	_, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)

	_, err = bus.AcquireController(testContext(t))
	assert.ErrorIs(t, err, hardware.ErrBusInUse)
}

func TestBus_ReleaseAllowsReacquire(t *testing.T) {
	port := hardware.NewMockPort()
	bus := hardware.NewBus(port, 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)
	require.NoError(t, lease.Release())
	assert.Equal(t, hardware.ModeIdle, bus.Mode())

	assert.ErrorIs(t, lease.Tx(0x40, []byte{0}, nil), hardware.ErrLeaseReleased)
	assert.ErrorIs(t, lease.Release(), hardware.ErrLeaseReleased)

	_, err = bus.AcquireController(testContext(t))
	require.NoError(t, err)
	ctrl, _ := port.Opens()
	assert.Equal(t, 2, ctrl)
}

func TestBus_OpenFailure(t *testing.T) {
	port := hardware.NewMockPort()
	port.SetFailOpen(true)
	bus := hardware.NewBus(port, 0)

	_, err := bus.AcquireController(testContext(t))
	require.Error(t, err)
	var hwErr hardware.HardwareError
	assert.ErrorAs(t, err, &hwErr)
	assert.Equal(t, hardware.ModeIdle, bus.Mode())
}

func TestBus_HandOffIsOneWay(t *testing.T) {
	port := hardware.NewMockPort()
	bus := hardware.NewBus(port, 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)

	target, err := lease.HandOff(testContext(t), 0x4B, nopHandler{})
	require.NoError(t, err)
	assert.Equal(t, hardware.ModeTarget, bus.Mode())
	assert.Equal(t, uint16(0x4B), target.Addr())

	// The controller lease is consumed.
	assert.ErrorIs(t, lease.Tx(0x40, []byte{0}, nil), hardware.ErrLeaseReleased)
	_, err = lease.HandOff(testContext(t), 0x4B, nopHandler{})
	assert.ErrorIs(t, err, hardware.ErrLeaseReleased)

	// Controller mode can never come back.
	_, err = bus.AcquireController(testContext(t))
	assert.ErrorIs(t, err, hardware.ErrWrongMode)

	ctrl, tgt := port.Opens()
	assert.Equal(t, 1, ctrl)
	assert.Equal(t, 1, tgt)
}

func TestBus_HandOffFailureLeavesIdle(t *testing.T) {
	port := hardware.NewMockPort()
	bus := hardware.NewBus(port, 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)

	port.SetFailOpen(true)
	_, err = lease.HandOff(testContext(t), 0x4B, nopHandler{})
	require.Error(t, err)
	assert.Equal(t, hardware.ModeIdle, bus.Mode())
}

func TestTargetLease_ReplyTimeout(t *testing.T) {
	port := hardware.NewMockPort()
	bus := hardware.NewBus(port, 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)
	target, err := lease.HandOff(testContext(t), 0x4B, nopHandler{})
	require.NoError(t, err)

	port.SetReplyDelay(time.Second)
	ctx, cancel := context.WithTimeout(testContext(t), 10*time.Millisecond)
	defer cancel()
	err = target.Reply(ctx, []byte{0x01})
	assert.ErrorIs(t, err, hardware.ErrReplyTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTargetLease_Close(t *testing.T) {
	port := hardware.NewMockPort()
	bus := hardware.NewBus(port, 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)
	target, err := lease.HandOff(testContext(t), 0x4B, nopHandler{})
	require.NoError(t, err)

	require.NoError(t, target.Close())
	assert.ErrorIs(t, target.Reply(testContext(t), []byte{1}), hardware.ErrLeaseReleased)
	assert.Equal(t, hardware.ModeTarget, bus.Mode())
	assert.Error(t, port.Receive([]byte{1}))
}

func TestMockPort_UnknownDeviceNACKs(t *testing.T) {
	bus := hardware.NewBus(hardware.NewMockPort(), 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)
	assert.Error(t, lease.Tx(0x28, []byte{0x2F}, make([]byte, 1)))
}

func TestMockPort_RecordsWrites(t *testing.T) {
	port := hardware.NewMockPort()
	port.SetRegister(0x28, 0x2F, []byte{0x25})
	bus := hardware.NewBus(port, 0)
	lease, err := bus.AcquireController(testContext(t))
	require.NoError(t, err)

	require.NoError(t, lease.Tx(0x28, []byte{0x70, 0x02}, nil))
	require.NoError(t, lease.Tx(0x28, []byte{0x51, 0x0D}, nil))
	assert.Equal(t, []hardware.Write{
		{Addr: 0x28, Data: []byte{0x70, 0x02}},
		{Addr: 0x28, Data: []byte{0x51, 0x0D}},
	}, port.Writes())
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "idle", hardware.ModeIdle.String())
	assert.Equal(t, "controller", hardware.ModeController.String())
	assert.Equal(t, "target", hardware.ModeTarget.String())
	assert.Equal(t, "mode(9)", hardware.Mode(9).String())
}
