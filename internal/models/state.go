// Package models defines the data structures shared between the controller,
// the persisted state store and the diagnostic API.
package models

import "time"

// State is the persisted runtime state. It survives restarts.
type State struct {
	// Version is the value of the firmware version register. The bus
	// controller may rewrite it.
	Version     uint8        `json:"version"`
	FloodCycles uint64       `json:"flood_cycles"`
	LastFlood   *FloodRecord `json:"last_flood,omitempty"`
	LastBoot    BootRecord   `json:"last_boot"`
}

// FloodRecord describes the most recent completed flood cycle.
type FloodRecord struct {
	Started time.Time `json:"started"`
	Stopped time.Time `json:"stopped"`
	Reason  string    `json:"reason"`
	Level   uint8     `json:"level"`
}

// BootRecord describes how the last boot sequence ended.
type BootRecord struct {
	Outcome string    `json:"outcome"` // final boot state name, "" before the first boot
	At      time.Time `json:"at"`
}

// DeepCopy returns a copy that shares no pointers with s.
func (s State) DeepCopy() State {
	cp := s
	if s.LastFlood != nil {
		lf := *s.LastFlood
		cp.LastFlood = &lf
	}
	return cp
}

// Equal reports whether s and o hold the same persisted values.
func (s State) Equal(o State) bool {
	if s.Version != o.Version || s.FloodCycles != o.FloodCycles || !s.LastBoot.Equal(o.LastBoot) {
		return false
	}
	if s.LastFlood == nil || o.LastFlood == nil {
		return s.LastFlood == nil && o.LastFlood == nil
	}
	return s.LastFlood.Equal(*o.LastFlood)
}

// Equal compares records with time.Time.Equal, so a record read back from
// disk matches the one that was written.
func (r FloodRecord) Equal(o FloodRecord) bool {
	return r.Started.Equal(o.Started) && r.Stopped.Equal(o.Stopped) && r.Reason == o.Reason && r.Level == o.Level
}

func (r BootRecord) Equal(o BootRecord) bool {
	return r.Outcome == o.Outcome && r.At.Equal(o.At)
}

// Status is a point-in-time snapshot of the whole controller, published to
// subscribers and served by the API.
type Status struct {
	Info     Info           `json:"info"`
	Boot     BootStatus     `json:"boot"`
	Flood    FloodStatus    `json:"flood"`
	Sensors  SensorStatus   `json:"sensors"`
	PumpDuty uint8          `json:"pump_duty"`
	Protocol ProtocolStatus `json:"protocol"`
	State    State          `json:"state"`
	Time     time.Time      `json:"time"`
}

// Info identifies the device.
type Info struct {
	Hostname string `json:"hostname"`
	Firmware string `json:"firmware"`
	ChipID   uint8  `json:"chip_id"`
	Mock     bool   `json:"mock"`
}

// BootStatus is the boot sequencer state.
type BootStatus struct {
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	BusMode    string `json:"bus_mode"`
}

// FloodStatus is the flood machine state.
type FloodStatus struct {
	State        string `json:"state"`
	Cycles       uint64 `json:"cycles"`
	LastStop     string `json:"last_stop,omitempty"`
	ShutoffLevel uint8  `json:"shutoff_level"`
	MinLevel     uint8  `json:"min_level"`
	MaxDuration  string `json:"max_duration,omitempty"`
}

// SensorStatus holds the latest sensor readings. Conductivity is nil when
// the probe could not be read.
type SensorStatus struct {
	WaterLevel   uint8    `json:"water_level"`
	Conductivity *float32 `json:"conductivity"`
	Fault        bool     `json:"fault"`
}

// ProtocolStatus mirrors the register protocol engine counters.
type ProtocolStatus struct {
	Running        bool   `json:"running"`
	Submitted      uint64 `json:"submitted"`
	Delivered      uint64 `json:"delivered"`
	Dropped        uint64 `json:"dropped"`
	InvalidAddress uint64 `json:"invalid_address"`
	Writes         uint64 `json:"writes"`
	Replies        uint64 `json:"replies"`
	ReplyTimeouts  uint64 `json:"reply_timeouts"`
	ActiveRegister int    `json:"active_register"`
}

// Register describes one entry of the register map for the API.
type Register struct {
	Address uint8  `json:"address"`
	Name    string `json:"name"`
	Access  string `json:"access"`
	Size    int    `json:"size"`
	Value   []int  `json:"value,omitempty"`
}
