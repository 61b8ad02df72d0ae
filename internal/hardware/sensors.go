package hardware

import (
	"github.com/chewxy/math32"
)

// ADC describes a raw analog-to-digital converter channel scale.
type ADC struct {
	Max     float32 // full-scale raw count, e.g. 8191
	RefVolt float32 // voltage at full scale, e.g. 3.3
}

// Volts converts a raw sample to volts.
func (a ADC) Volts(raw int) float32 {
	if a.Max <= 0 {
		return math32.NaN()
	}
	return float32(raw) * a.RefVolt / a.Max
}

// WaterLevelPercent derives the reservoir level from the level electrode
// voltage relative to the conductivity reference voltage. The result is
// clamped to 0-100; an unusable reference yields WaterLevelFault.
func WaterLevelPercent(refVolts, levelVolts float32) uint8 {
	if math32.IsNaN(refVolts) || math32.IsNaN(levelVolts) || refVolts <= 0 {
		return WaterLevelFault
	}
	pct := 100 - (refVolts-levelVolts)/refVolts*100
	pct = math32.Max(0, math32.Min(100, pct))
	return uint8(math32.Floor(pct + 0.5))
}
