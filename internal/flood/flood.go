// Package flood implements the flood cycle state machine: it runs the pump on
// request and stops it whenever the water level leaves its safe band, so the
// pump is never left running dry or overflowing the pot.
package flood

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a flood state.
type State int

const (
	Init State = iota
	AwaitFloodSignal
	Flooding
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case AwaitFloodSignal:
		return "AWAIT_FLOOD_SIGNAL"
	case Flooding:
		return "FLOODING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LevelFault is the water level reported when the sensor cannot be read.
const LevelFault uint8 = 0xFF

// Reason explains why flooding stopped.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonShutoff     Reason = "shutoff_level"
	ReasonLowLevel    Reason = "low_level"
	ReasonTimeout     Reason = "max_duration"
	ReasonSensorFault Reason = "sensor_fault"
	ReasonSignal      Reason = "stop_signal"
	ReasonShutdown    Reason = "shutdown"
)

// Sensors reads the water level in percent, or LevelFault.
type Sensors interface {
	WaterLevel() uint8
}

// Pump is the flood pump actuator.
type Pump interface {
	SetPumpDuty(duty uint8)
	PumpDuty() uint8
}

// Limits bound a flood cycle. Zero MinLevel and MaxDuration disable those
// checks.
type Limits struct {
	ShutoffLevel uint8
	MinLevel     uint8
	MaxDuration  time.Duration
}

// Config holds the machine tunables.
type Config struct {
	Tick     time.Duration
	PumpDuty uint8
	Limits   Limits
}

// DefaultConfig returns the flood defaults.
func DefaultConfig() Config {
	return Config{
		Tick:     500 * time.Millisecond,
		PumpDuty: 100,
		Limits:   Limits{ShutoffLevel: 90, MinLevel: 10},
	}
}

// Change describes a state change.
type Change struct {
	From   State
	To     State
	Reason Reason
	Level  uint8
}

// Machine is the flood state machine. Step is driven by Run; BeginFlooding
// and StopFlooding may be called from any goroutine.
type Machine struct {
	sensors Sensors
	pump    Pump

	mu         sync.Mutex
	cfg        Config
	state      State
	floodTicks int
	cycles     uint64
	lastStop   Reason
	observers  []func(Change)
}

// New creates a machine in INIT.
func New(sensors Sensors, pump Pump, cfg Config) *Machine {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	return &Machine{sensors: sensors, pump: pump, cfg: cfg}
}

// OnChange registers fn to be called after every state change.
func (m *Machine) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Flooding reports whether a flood cycle is running.
func (m *Machine) Flooding() bool { return m.State() == Flooding }

// Cycles returns how many flood cycles have been started.
func (m *Machine) Cycles() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

// LastStop returns why the most recent cycle ended.
func (m *Machine) LastStop() Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStop
}

func (m *Machine) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Limits
}

// SetLimits replaces the limits. They take effect on the next tick.
func (m *Machine) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Limits = l
	slog.Info("flood: limits updated", "shutoff_level", l.ShutoffLevel, "min_level", l.MinLevel, "max_duration", l.MaxDuration)
}

// check returns why a pump running at level for elapsed must stop.
func (l Limits) check(level uint8, elapsed time.Duration) Reason {
	switch {
	case level == LevelFault:
		return ReasonSensorFault
	case level >= l.ShutoffLevel:
		return ReasonShutoff
	case l.MinLevel > 0 && level < l.MinLevel:
		return ReasonLowLevel
	case l.MaxDuration > 0 && elapsed >= l.MaxDuration:
		return ReasonTimeout
	}
	return ReasonNone
}

// BeginFlooding starts a flood cycle. It is a no-op while already flooding.
func (m *Machine) BeginFlooding() {
	m.mu.Lock()
	if m.state == Flooding {
		m.mu.Unlock()
		return
	}
	ch := Change{From: m.state, To: Flooding}
	m.state = Flooding
	m.floodTicks = 0
	m.cycles++
	m.pump.SetPumpDuty(m.cfg.PumpDuty)
	obs := m.observers
	m.mu.Unlock()

	slog.Info("flood: beginning flooding", "duty", m.cfg.PumpDuty)
	notify(obs, ch)
}

// StopFlooding ends a running cycle. It is a no-op otherwise.
func (m *Machine) StopFlooding() {
	m.stop(ReasonSignal, 0)
}

func (m *Machine) stop(reason Reason, level uint8) bool {
	m.mu.Lock()
	if m.state != Flooding {
		m.mu.Unlock()
		return false
	}
	ch := m.stopLocked(reason, level)
	obs := m.observers
	m.mu.Unlock()

	notify(obs, ch)
	return true
}

func (m *Machine) stopLocked(reason Reason, level uint8) Change {
	m.pump.SetPumpDuty(0)
	ch := Change{From: m.state, To: AwaitFloodSignal, Reason: reason, Level: level}
	m.state = AwaitFloodSignal
	m.lastStop = reason
	slog.Info("flood: stopped", "reason", reason, "level", level)
	return ch
}

// Step runs one tick of the state table.
func (m *Machine) Step() State {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case Init:
		m.mu.Lock()
		var ch *Change
		if m.state == Init {
			m.state = AwaitFloodSignal
			ch = &Change{From: Init, To: AwaitFloodSignal}
		}
		obs := m.observers
		m.mu.Unlock()
		if ch != nil {
			slog.Info("flood: initialized")
			notify(obs, *ch)
		}

	case AwaitFloodSignal:
		// A pump started directly through its register still gets the
		// level checks.
		if m.pump.PumpDuty() == 0 {
			break
		}
		level := m.sensors.WaterLevel()
		m.mu.Lock()
		reason := m.cfg.Limits.check(level, 0)
		if reason != ReasonNone && m.state == AwaitFloodSignal {
			m.pump.SetPumpDuty(0)
			slog.Warn("flood: pump cut outside flood cycle", "reason", reason, "level", level)
		}
		m.mu.Unlock()

	case Flooding:
		level := m.sensors.WaterLevel()
		m.mu.Lock()
		if m.state != Flooding {
			m.mu.Unlock()
			break
		}
		m.floodTicks++
		elapsed := time.Duration(m.floodTicks) * m.cfg.Tick
		reason := m.cfg.Limits.check(level, elapsed)
		if reason == ReasonNone {
			m.mu.Unlock()
			break
		}
		ch := m.stopLocked(reason, level)
		obs := m.observers
		m.mu.Unlock()
		notify(obs, ch)
	}
	return m.State()
}

// Run ticks the machine until ctx is cancelled, then stops any running
// cycle.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	tick := m.cfg.Tick
	m.mu.Unlock()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		m.Step()
		select {
		case <-ctx.Done():
			m.stop(ReasonShutdown, 0)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func notify(obs []func(Change), ch Change) {
	for _, fn := range obs {
		fn(ch)
	}
}
