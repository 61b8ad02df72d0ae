package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/greenloop/hydroctl/internal/boot"
	"github.com/greenloop/hydroctl/internal/config"
	"github.com/greenloop/hydroctl/internal/hardware"
	"github.com/greenloop/hydroctl/internal/power"
	"github.com/greenloop/hydroctl/internal/protocol"
)

// requestPDO is the sink PDO slot programmed with the requested profile.
const requestPDO = 2

// sequencer is the boot.Platform backed by the board's bus. It holds the
// controller-mode lease until the hand-off and the target-mode lease after.
type sequencer struct {
	hw       hardware.Board
	engine   *protocol.Engine
	settings *config.Settings

	mu      sync.Mutex
	lease   *hardware.ControllerLease
	pd      *power.STUSB4500
	monitor *power.INA219
	target  *hardware.TargetLease
}

var _ boot.Platform = (*sequencer)(nil)

func newSequencer(hw hardware.Board, engine *protocol.Engine, settings *config.Settings) *sequencer {
	return &sequencer{hw: hw, engine: engine, settings: settings}
}

func (s *sequencer) AcquireNegotiation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease != nil {
		return nil
	}
	delegated := s.settings.Power.DelegateNegotiation
	if !delegated {
		if err := s.hw.ResetPD(ctx); err != nil {
			return fmt.Errorf("reset pd controller: %w", err)
		}
	}
	lease, err := s.hw.Bus().AcquireController(ctx)
	if err != nil {
		return err
	}
	s.lease = lease
	s.pd = power.NewSTUSB4500(lease, s.settings.Power.PDAddress)
	s.monitor = power.NewINA219(lease, s.settings.Power.MonitorAddress)
	if delegated {
		return nil
	}
	return s.monitor.Configure(power.DefaultINA219Config)
}

func (s *sequencer) RequestProfile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pd == nil {
		return hardware.ErrLeaseReleased
	}
	return s.pd.RequestProfile(requestPDO, s.settings.RequestVoltage(), uint32(s.settings.Power.RequestMilliAmps))
}

func (s *sequencer) BusVoltage(ctx context.Context) (physic.ElectricPotential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == nil {
		return 0, hardware.ErrLeaseReleased
	}
	return s.monitor.BusVoltage()
}

func (s *sequencer) EnterTargetMode(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target != nil {
		return nil
	}
	if s.lease == nil {
		return hardware.ErrLeaseReleased
	}
	target, err := s.lease.HandOff(ctx, s.settings.Bus.TargetAddress, s.engine)
	s.lease, s.pd, s.monitor = nil, nil, nil
	if err != nil {
		return err
	}
	s.target = target
	s.engine.Start(ctx, target)
	slog.Info("controller: register target online", "addr", fmt.Sprintf("0x%02x", target.Addr()))
	return nil
}

// PeripheralReady reports true once the target lease exists; the downstream
// controller has no separate ready signal on this board.
func (s *sequencer) PeripheralReady(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target != nil, nil
}

// close releases whichever lease is held.
func (s *sequencer) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.target != nil:
		err := s.target.Close()
		s.target = nil
		return err
	case s.lease != nil:
		err := s.lease.Release()
		s.lease = nil
		return err
	}
	return nil
}
