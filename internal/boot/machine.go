// Package boot implements the power-sequencing state machine that negotiates
// the input voltage with the USB-PD source and then hands the shared bus over
// to target mode.
package boot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Platform is the hardware the sequencer drives. Every method is called from
// the sequencer goroutine only. A returned error is a negotiation I/O failure
// and aborts the sequence.
type Platform interface {
	// AcquireNegotiation takes controller-mode ownership of the bus and
	// prepares the PD controller and bus monitor. It is called on every
	// attempt and must be idempotent while the lease is held.
	AcquireNegotiation(ctx context.Context) error
	// RequestProfile writes the negotiation request to the PD controller.
	RequestProfile(ctx context.Context) error
	// BusVoltage returns the measured input voltage.
	BusVoltage(ctx context.Context) (physic.ElectricPotential, error)
	// EnterTargetMode releases controller mode and starts the bus in target
	// mode with the register protocol engine attached.
	EnterTargetMode(ctx context.Context) error
	// PeripheralReady reports whether the downstream controller is up.
	PeripheralReady(ctx context.Context) (bool, error)
}

// Config holds the sequencer tunables.
type Config struct {
	Tick          time.Duration
	Delegated     bool // a downstream peer negotiates; skip straight to target mode
	TargetMin     physic.ElectricPotential
	TargetMax     physic.ElectricPotential
	FallbackBelow physic.ElectricPotential
	MaxAttempts   int
	Timeout       time.Duration // zero disables BOOT_TIMEOUT
}

// DefaultConfig returns the sequencer defaults.
func DefaultConfig() Config {
	return Config{
		Tick:          250 * time.Millisecond,
		TargetMin:     8000 * physic.MilliVolt,
		TargetMax:     10000 * physic.MilliVolt,
		FallbackBelow: 6000 * physic.MilliVolt,
		MaxAttempts:   3,
	}
}

// Evaluate decides the next state from a voltage reading taken in
// AWAIT_PD_NEGOTIATION. retries counts earlier failed attempts; the returned
// count includes this one unless the attempt settled the sequence.
func Evaluate(cfg Config, v physic.ElectricPotential, retries int) (State, int) {
	if v > cfg.TargetMin && v < cfg.TargetMax {
		return NineVoltPower, 0
	}
	attempts := retries + 1
	if attempts >= cfg.MaxAttempts && v < cfg.FallbackBelow {
		return FiveVoltPower, 0
	}
	return Initial, attempts
}

type transition func(ctx context.Context, data *InstanceData) (State, error)

// Machine is the boot sequencer. Step advances it by one tick; Run ticks it
// until it reaches a terminal state.
type Machine struct {
	cfg   Config
	p     Platform
	table [numStates]transition

	mu        sync.Mutex
	state     State
	data      InstanceData
	ticks     int
	observers []func(from, to State)

	done     chan struct{}
	doneOnce sync.Once

	fallbackLogged bool
}

// New creates a sequencer in INITIAL.
func New(p Platform, cfg Config) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	m := &Machine{
		cfg:   cfg,
		p:     p,
		state: Initial,
		done:  make(chan struct{}),
	}
	m.table = [numStates]transition{
		Initial:              m.doInitial,
		NegotiatePD:          m.doNegotiatePD,
		AwaitPDNegotiation:   m.doAwaitPDNegotiation,
		FiveVoltPower:        m.doFiveVoltPower,
		NineVoltPower:        m.doNineVoltPower,
		AwaitPeripheralStart: m.doAwaitPeripheralStart,
		BootComplete:         stay(BootComplete),
		BootTimeout:          stay(BootTimeout),
	}
	return m
}

// OnTransition registers fn to be called after every state change. Must be
// called before Run.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Data returns a copy of the instance data.
func (m *Machine) Data() InstanceData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Done is closed once a terminal state is reached.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Step runs the current state's transition once and commits the result. A
// non-nil error leaves the state unchanged.
func (m *Machine) Step(ctx context.Context) (State, error) {
	m.mu.Lock()
	from := m.state
	data := m.data
	m.ticks++
	expired := m.timedOutLocked()
	m.mu.Unlock()

	to := BootTimeout
	if !expired {
		var err error
		to, err = m.table[from](ctx, &data)
		if err != nil {
			return from, fmt.Errorf("boot: %s: %w", from, err)
		}
	}

	m.mu.Lock()
	m.state = to
	m.data = data
	observers := m.observers
	m.mu.Unlock()

	if from != to {
		slog.Debug("boot: transition", "from", from, "to", to, "retry_count", data.RetryCount)
		for _, fn := range observers {
			fn(from, to)
		}
	}
	if to.Terminal() {
		m.doneOnce.Do(func() { close(m.done) })
	}
	return to, nil
}

// timedOutLocked reports whether the overall boot deadline has passed. The
// fallback state is a settled outcome and never times out.
func (m *Machine) timedOutLocked() bool {
	if m.cfg.Timeout <= 0 || m.state.Terminal() || m.state == FiveVoltPower {
		return false
	}
	return time.Duration(m.ticks-1)*m.cfg.Tick >= m.cfg.Timeout
}

// Run steps the machine once per tick until a terminal state, an error, or
// ctx cancellation.
func (m *Machine) Run(ctx context.Context) error {
	slog.Info("boot: sequencer started", "tick", m.cfg.Tick, "delegated", m.cfg.Delegated)
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	for {
		st, err := m.Step(ctx)
		if err != nil {
			return err
		}
		if st.Terminal() {
			slog.Info("boot: sequence finished", "state", st)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func stay(s State) transition {
	return func(context.Context, *InstanceData) (State, error) { return s, nil }
}

func (m *Machine) doInitial(ctx context.Context, _ *InstanceData) (State, error) {
	if err := m.p.AcquireNegotiation(ctx); err != nil {
		return Initial, err
	}
	if m.cfg.Delegated {
		return NineVoltPower, nil
	}
	return NegotiatePD, nil
}

func (m *Machine) doNegotiatePD(ctx context.Context, _ *InstanceData) (State, error) {
	if err := m.p.RequestProfile(ctx); err != nil {
		return NegotiatePD, err
	}
	return AwaitPDNegotiation, nil
}

func (m *Machine) doAwaitPDNegotiation(ctx context.Context, data *InstanceData) (State, error) {
	v, err := m.p.BusVoltage(ctx)
	if err != nil {
		return AwaitPDNegotiation, err
	}
	next, retries := Evaluate(m.cfg, v, data.RetryCount)
	slog.Info("boot: bus voltage", "voltage", v, "attempt", data.RetryCount+1, "next", next)
	data.RetryCount = retries
	return next, nil
}

func (m *Machine) doFiveVoltPower(context.Context, *InstanceData) (State, error) {
	if !m.fallbackLogged {
		m.fallbackLogged = true
		slog.Warn("boot: negotiation failed, running on 5 V fallback", "attempts", m.cfg.MaxAttempts)
	}
	return FiveVoltPower, nil
}

func (m *Machine) doNineVoltPower(ctx context.Context, data *InstanceData) (State, error) {
	if err := m.p.EnterTargetMode(ctx); err != nil {
		return NineVoltPower, err
	}
	data.RetryCount = 0
	return AwaitPeripheralStart, nil
}

func (m *Machine) doAwaitPeripheralStart(ctx context.Context, _ *InstanceData) (State, error) {
	ready, err := m.p.PeripheralReady(ctx)
	if err != nil {
		return AwaitPeripheralStart, err
	}
	if !ready {
		return AwaitPeripheralStart, nil
	}
	return BootComplete, nil
}
