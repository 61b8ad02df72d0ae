// Package controller owns the appliance runtime: the boot sequencer, the
// register protocol engine, the flood machine and the persisted state they
// share. All persisted state mutations go through apply.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/greenloop/hydroctl/internal/boot"
	"github.com/greenloop/hydroctl/internal/config"
	"github.com/greenloop/hydroctl/internal/events"
	"github.com/greenloop/hydroctl/internal/flood"
	"github.com/greenloop/hydroctl/internal/hardware"
	"github.com/greenloop/hydroctl/internal/models"
	"github.com/greenloop/hydroctl/internal/protocol"
	"github.com/greenloop/hydroctl/internal/registers"
)

// Controller wires the subsystems to one board.
type Controller struct {
	mu    sync.RWMutex
	state models.State
	// floodStarted is when the running cycle began; guarded by mu.
	floodStarted time.Time

	hw       hardware.Board
	store    config.Store
	bus      *events.Bus
	settings *config.Settings
	info     models.Info

	sensors *sensorCache
	table   *registers.Table
	view    *registers.Table // cached values for diagnostics
	engine  *protocol.Engine
	seq     *boot.Machine
	plat    *sequencer
	flood   *flood.Machine
}

// New loads persisted state and builds the subsystems. Nothing touches the
// bus until Run.
func New(hw hardware.Board, store config.Store, bus *events.Bus, settings *config.Settings, info models.Info) (*Controller, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	info.ChipID = settings.Registers.ChipID
	info.Mock = !hw.IsReal()
	c := &Controller{
		state:    *state,
		hw:       hw,
		store:    store,
		bus:      bus,
		settings: settings,
		info:     info,
		sensors:  newSensorCache(hw),
	}

	c.flood = flood.New(c.sensors, hw, settings.FloodConfig())
	c.flood.OnChange(c.onFloodChange)

	c.table = registers.Standard(registers.Handlers{
		ChipID:       func() uint8 { return settings.Registers.ChipID },
		Version:      c.Version,
		SetVersion:   c.SetVersion,
		PumpDuty:     hw.PumpDuty,
		SetPumpDuty:  hw.SetPumpDuty,
		WaterLevel:   c.sensors.WaterLevel,
		Conductivity: c.sensors.Conductivity,
		Flooding:     c.flood.Flooding,
		SetFlooding:  c.setFlooding,
	})
	c.view = registers.Standard(registers.Handlers{
		ChipID:       func() uint8 { return settings.Registers.ChipID },
		Version:      c.Version,
		PumpDuty:     hw.PumpDuty,
		WaterLevel:   c.sensors.lastLevel,
		Conductivity: c.sensors.lastConductivity,
		Flooding:     c.flood.Flooding,
	})
	c.engine = protocol.New(c.table, settings.ProtocolConfig())

	c.plat = newSequencer(hw, c.engine, settings)
	c.seq = boot.New(c.plat, settings.BootConfig())
	c.seq.OnTransition(c.onBootTransition)

	return c, nil
}

// State returns a deep copy of the persisted state.
func (c *Controller) State() models.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.DeepCopy()
}

// apply is the core mutation primitive. fn edits a copy of the state; on
// success the copy replaces the state, a save is scheduled and a status
// snapshot is published.
func (c *Controller) apply(fn func(*models.State) error) (models.State, error) {
	c.mu.Lock()
	next := c.state.DeepCopy()
	if err := fn(&next); err != nil {
		c.mu.Unlock()
		return models.State{}, err
	}
	c.state = next
	if err := c.store.Save(&c.state); err != nil {
		slog.Warn("controller: save state", "err", err)
	}
	out := c.state.DeepCopy()
	c.mu.Unlock()

	c.publish()
	return out, nil
}

func (c *Controller) publish() {
	if c.bus != nil {
		c.bus.Publish(c.snapshot())
	}
}

// Info returns the device identity.
func (c *Controller) Info() models.Info { return c.info }

// Version returns the version register value.
func (c *Controller) Version() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Version
}

// SetVersion stores a new version register value.
func (c *Controller) SetVersion(v uint8) {
	c.apply(func(s *models.State) error {
		s.Version = v
		return nil
	})
}

// BeginFlooding starts a flood cycle.
func (c *Controller) BeginFlooding() { c.flood.BeginFlooding() }

// StopFlooding stops a running flood cycle.
func (c *Controller) StopFlooding() { c.flood.StopFlooding() }

// Flooding reports whether a flood cycle is running.
func (c *Controller) Flooding() bool { return c.flood.Flooding() }

func (c *Controller) setFlooding(on bool) {
	if on {
		c.flood.BeginFlooding()
	} else {
		c.flood.StopFlooding()
	}
}

// FloodLimits returns the active flood thresholds.
func (c *Controller) FloodLimits() flood.Limits { return c.flood.Limits() }

// SetFloodLimits replaces the flood thresholds at runtime.
func (c *Controller) SetFloodLimits(l flood.Limits) {
	c.flood.SetLimits(l)
	slog.Info("controller: flood limits updated", "shutoff", l.ShutoffLevel, "min", l.MinLevel, "max_duration", l.MaxDuration)
	c.publish()
}

// WaterLevel reads the reservoir level in percent, or
// hardware.WaterLevelFault.
func (c *Controller) WaterLevel() uint8 { return c.sensors.WaterLevel() }

// Conductivity reads the conductivity probe voltage; NaN on failure.
func (c *Controller) Conductivity() float32 { return c.sensors.Conductivity() }

// Board returns the hardware the controller drives.
func (c *Controller) Board() hardware.Board { return c.hw }

// BootState returns the current boot sequencer state.
func (c *Controller) BootState() boot.State { return c.seq.State() }

// BootDone is closed once the boot sequence reaches a terminal state.
func (c *Controller) BootDone() <-chan struct{} { return c.seq.Done() }

// ProtocolStats returns the register engine counters.
func (c *Controller) ProtocolStats() protocol.Stats { return c.engine.Stats() }

// Run drives the boot sequence, the flood machine and the sensor poller until
// ctx is cancelled. A negotiation I/O failure is returned immediately and is
// fatal.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	// The helpers only exit on cancel, so cancel before waiting.
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.flood.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pollSensors(ctx, c.settings.Sensors.Poll)
	}()

	if err := c.seq.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("controller: boot sequence failed", "state", c.seq.State(), "err", err)
		return err
	}
	<-ctx.Done()
	return nil
}

// Close releases the bus and flushes pending state.
func (c *Controller) Close() error {
	err := c.plat.close()
	if ferr := c.store.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (c *Controller) onBootTransition(from, to boot.State) {
	switch to {
	case boot.BootComplete:
		c.hw.SetLED(hardware.LEDRed, 0)
		c.hw.SetLED(hardware.LEDGreen, 255)
	case boot.FiveVoltPower, boot.BootTimeout:
		c.hw.SetLED(hardware.LEDGreen, 0)
		c.hw.SetLED(hardware.LEDRed, 255)
	default:
		c.publish()
		return
	}
	now := time.Now()
	c.apply(func(s *models.State) error {
		s.LastBoot = models.BootRecord{Outcome: to.String(), At: now}
		return nil
	})
}

func (c *Controller) onFloodChange(ch flood.Change) {
	now := time.Now()
	switch {
	case ch.To == flood.Flooding:
		c.apply(func(s *models.State) error {
			c.floodStarted = now
			s.FloodCycles++
			return nil
		})
	case ch.From == flood.Flooding:
		// the heartbeat may have left the green LED dark
		if c.seq.State() == boot.BootComplete {
			c.hw.SetLED(hardware.LEDGreen, 255)
		}
		c.apply(func(s *models.State) error {
			s.LastFlood = &models.FloodRecord{
				Started: c.floodStarted,
				Stopped: now,
				Reason:  string(ch.Reason),
				Level:   ch.Level,
			}
			return nil
		})
	default:
		c.publish()
	}
}

// Status returns a full snapshot. Sensor values come from the last sample;
// the hardware is never read from here.
func (c *Controller) Status() models.Status { return c.snapshot() }

// pollSensors keeps the sensor cache fresh for status snapshots.
func (c *Controller) pollSensors(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		c.sensors.WaterLevel()
		c.sensors.Conductivity()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// snapshot builds a status from cached sensor values.
func (c *Controller) snapshot() models.Status {
	level, ec := c.sensors.last()
	sensors := models.SensorStatus{
		WaterLevel: level,
		Fault:      level == hardware.WaterLevelFault,
	}
	if !math32.IsNaN(ec) {
		sensors.Conductivity = &ec
	}

	limits := c.flood.Limits()
	fs := models.FloodStatus{
		State:        c.flood.State().String(),
		LastStop:     string(c.flood.LastStop()),
		ShutoffLevel: limits.ShutoffLevel,
		MinLevel:     limits.MinLevel,
	}
	if limits.MaxDuration > 0 {
		fs.MaxDuration = limits.MaxDuration.String()
	}

	ps := c.engine.Stats()
	st := c.State()
	fs.Cycles = st.FloodCycles

	return models.Status{
		Info: c.info,
		Boot: models.BootStatus{
			State:      c.seq.State().String(),
			RetryCount: c.seq.Data().RetryCount,
			BusMode:    c.hw.Bus().Mode().String(),
		},
		Flood:    fs,
		Sensors:  sensors,
		PumpDuty: c.hw.PumpDuty(),
		Protocol: models.ProtocolStatus{
			Running:        c.engine.Running(),
			Submitted:      ps.Submitted,
			Delivered:      ps.Delivered,
			Dropped:        ps.Dropped,
			InvalidAddress: ps.InvalidAddress,
			Writes:         ps.Writes,
			Replies:        ps.Replies,
			ReplyTimeouts:  ps.ReplyTimeouts,
			ActiveRegister: ps.ActiveRegister,
		},
		State: st,
		Time:  time.Now(),
	}
}

// Registers returns the register map with values for readable entries.
// Values come from the cached view; the bus-facing getters only ever run on
// the protocol worker.
func (c *Controller) Registers() []models.Register {
	descs := c.table.Descriptors()
	out := make([]models.Register, 0, len(descs))
	var buf [registers.MaxPayload]byte
	for _, d := range descs {
		r := models.Register{
			Address: d.Address,
			Name:    d.Name,
			Access:  d.Access(),
			Size:    d.Size,
		}
		if v, ok := c.view.Lookup(d.Address); ok && v.Readable() {
			clear(buf[:d.Size])
			v.Get(buf[:d.Size])
			r.Value = make([]int, d.Size)
			for i, b := range buf[:d.Size] {
				r.Value[i] = int(b)
			}
		}
		out = append(out, r)
	}
	return out
}
