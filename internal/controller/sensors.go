package controller

import (
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/greenloop/hydroctl/internal/hardware"
)

// sensorCache reads through to the board and remembers the latest values so
// status snapshots can be built without touching the hardware.
type sensorCache struct {
	hw    hardware.Board
	level atomic.Uint32
	ec    atomic.Uint32 // float32 bits
}

func newSensorCache(hw hardware.Board) *sensorCache {
	s := &sensorCache{hw: hw}
	s.level.Store(uint32(hardware.WaterLevelFault))
	s.ec.Store(math32.Float32bits(math32.NaN()))
	return s
}

func (s *sensorCache) WaterLevel() uint8 {
	v := s.hw.WaterLevel()
	s.level.Store(uint32(v))
	return v
}

func (s *sensorCache) Conductivity() float32 {
	v := s.hw.Conductivity()
	s.ec.Store(math32.Float32bits(v))
	return v
}

func (s *sensorCache) last() (uint8, float32) {
	return s.lastLevel(), s.lastConductivity()
}

func (s *sensorCache) lastLevel() uint8 { return uint8(s.level.Load()) }

func (s *sensorCache) lastConductivity() float32 {
	return math32.Float32frombits(s.ec.Load())
}
