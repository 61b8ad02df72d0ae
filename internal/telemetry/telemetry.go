// Package telemetry runs the background observers of the appliance: the
// calibration logger that smooths conductivity and water level readings and
// the status LED heartbeat shown while a flood cycle runs.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/greenloop/hydroctl/internal/hardware"
)

// Sensors is the read side of the board used for calibration.
type Sensors interface {
	WaterLevel() uint8
	Conductivity() float32
}

// LEDs is the part of the board the heartbeat blinks.
type LEDs interface {
	ToggleLED(led hardware.LED)
}

// EMA is an exponential moving average. The first sample seeds it. NaN
// samples are ignored.
type EMA struct {
	Alpha  float32
	value  float32
	primed bool
}

// Add folds x into the average and returns the new value.
func (e *EMA) Add(x float32) float32 {
	if math32.IsNaN(x) {
		return e.Value()
	}
	if !e.primed {
		e.value, e.primed = x, true
		return x
	}
	e.value = e.Alpha*x + (1-e.Alpha)*e.value
	return e.value
}

// Value returns the current average, NaN before the first sample.
func (e *EMA) Value() float32 {
	if !e.primed {
		return math32.NaN()
	}
	return e.value
}

// Sample is one calibration record.
type Sample struct {
	At              time.Time
	Conductivity    float32
	ConductivityEMA float32
	WaterLevel      uint8
	WaterLevelEMA   float32
}

// Calibrator periodically samples the sensors and logs raw and smoothed
// values.
type Calibrator struct {
	sensors Sensors
	period  time.Duration

	mu    sync.Mutex
	ec    EMA
	level EMA
	last  Sample
}

// NewCalibrator returns a calibrator sampling every period with smoothing
// factor alpha.
func NewCalibrator(s Sensors, period time.Duration, alpha float32) *Calibrator {
	return &Calibrator{
		sensors: s,
		period:  period,
		ec:      EMA{Alpha: alpha},
		level:   EMA{Alpha: alpha},
	}
}

// Sample takes one reading, updates the averages and logs the record.
// A faulted water level reading does not move its average.
func (c *Calibrator) Sample() Sample {
	ec := c.sensors.Conductivity()
	level := c.sensors.WaterLevel()

	c.mu.Lock()
	s := Sample{
		At:              time.Now(),
		Conductivity:    ec,
		ConductivityEMA: c.ec.Add(ec),
		WaterLevel:      level,
	}
	if level == hardware.WaterLevelFault {
		s.WaterLevelEMA = c.level.Value()
	} else {
		s.WaterLevelEMA = c.level.Add(float32(level))
	}
	c.last = s
	c.mu.Unlock()

	slog.Info("telemetry: calibration",
		"ec", s.Conductivity, "ec_ema", s.ConductivityEMA,
		"level", s.WaterLevel, "level_ema", s.WaterLevelEMA)
	return s
}

// Last returns the most recent sample.
func (c *Calibrator) Last() Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run samples once immediately and then every period until ctx is done.
func (c *Calibrator) Run(ctx context.Context) {
	c.Sample()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sample()
		}
	}
}

// Heartbeat toggles the green LED every period while active reports true.
// When a blink run ends the LED is left for the caller to restore.
func Heartbeat(ctx context.Context, leds LEDs, active func() bool, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if active() {
				leds.ToggleLED(hardware.LEDGreen)
			}
		}
	}
}

// Service bundles the background observers.
type Service struct {
	cal      *Calibrator
	leds     LEDs
	flooding func() bool
	beat     time.Duration
}

// HeartbeatPeriod is the LED blink half-period while flooding.
const HeartbeatPeriod = 500 * time.Millisecond

// New creates a Service. A nil calibrator disables calibration logging.
func New(cal *Calibrator, leds LEDs, flooding func() bool) *Service {
	return &Service{cal: cal, leds: leds, flooding: flooding, beat: HeartbeatPeriod}
}

// Start launches the observers and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	var wg sync.WaitGroup
	if s.cal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.cal.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		Heartbeat(ctx, s.leds, s.flooding, s.beat)
	}()
	wg.Wait()
}
