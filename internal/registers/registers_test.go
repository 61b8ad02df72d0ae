package registers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenloop/hydroctl/internal/registers"
)

func TestStandard_Layout(t *testing.T) {
	table := registers.Standard(registers.Handlers{
		ChipID:       func() uint8 { return 1 },
		Version:      func() uint8 { return 1 },
		SetVersion:   func(uint8) {},
		PumpDuty:     func() uint8 { return 1 },
		SetPumpDuty:  func(uint8) {},
		WaterLevel:   func() uint8 { return 1 },
		Conductivity: func() float32 { return 1 },
		Flooding:     func() bool { return false },
		SetFlooding:  func(bool) {},
	})
	require.Equal(t, registers.NumRegisters, table.Len())

	tests := []struct {
		addr   registers.Address
		name   string
		access string
		size   int
	}{
		{registers.RegReserved, "reserved", "-", 0},
		{registers.RegChipID, "chip_id", "r", 1},
		{registers.RegVersion, "version", "rw", 1},
		{registers.RegPumpDuty, "pump_duty", "rw", 1},
		{registers.RegWaterLevel, "water_level", "r", 1},
		{registers.RegConductivity, "conductivity", "r", 4},
		{registers.RegFloodControl, "flood_control", "rw", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := table.Lookup(tt.addr)
			require.True(t, ok)
			assert.Equal(t, tt.addr, d.Address)
			assert.Equal(t, tt.name, d.Name)
			assert.Equal(t, tt.access, d.Access())
			assert.Equal(t, tt.size, d.Size)
		})
	}
}

func TestLookup_OutOfRange(t *testing.T) {
	table := registers.Standard(registers.Handlers{})
	for _, addr := range []byte{registers.NumRegisters, 0x7F, 0xFF} {
		_, ok := table.Lookup(addr)
		assert.False(t, ok, "0x%02x", addr)
	}
}

func TestStandard_NilHandlersLeaveDirectionsUnmapped(t *testing.T) {
	table := registers.Standard(registers.Handlers{Version: func() uint8 { return 3 }})
	d, ok := table.Lookup(registers.RegVersion)
	require.True(t, ok)
	assert.Equal(t, "r", d.Access())
	d, _ = table.Lookup(registers.RegPumpDuty)
	assert.Equal(t, "-", d.Access())
}

func TestStandard_Codecs(t *testing.T) {
	var version uint8
	var flood []bool
	table := registers.Standard(registers.Handlers{
		Version:      func() uint8 { return version },
		SetVersion:   func(v uint8) { version = v },
		Conductivity: func() float32 { return -2.5 },
		Flooding:     func() bool { return len(flood) > 0 && flood[len(flood)-1] },
		SetFlooding:  func(on bool) { flood = append(flood, on) },
	})

	d, _ := table.Lookup(registers.RegVersion)
	d.Set([]byte{0x07, 0xFF})
	out := make([]byte, d.Size)
	d.Get(out)
	assert.Equal(t, []byte{0x07}, out)

	d, _ = table.Lookup(registers.RegConductivity)
	out = make([]byte, d.Size)
	d.Get(out)
	assert.Equal(t, []byte{0x00, 0x00, 0x20, 0xC0}, out)

	d, _ = table.Lookup(registers.RegFloodControl)
	d.Set([]byte{registers.FloodStart})
	d.Set([]byte{0x42})
	d.Set([]byte{registers.FloodStop})
	assert.Equal(t, []bool{true, false}, flood)
	out = make([]byte, 1)
	d.Get(out)
	assert.Equal(t, []byte{registers.FloodStop}, out)
}

func TestNewTable_Validation(t *testing.T) {
	get := func(out []byte) {}
	tests := []struct {
		name  string
		descs []registers.Descriptor
	}{
		{"gap", []registers.Descriptor{{Address: 0}, {Address: 2}}},
		{"not zero based", []registers.Descriptor{{Address: 1}}},
		{"too wide", []registers.Descriptor{{Address: 0, Get: get, Size: registers.MaxPayload + 1}}},
		{"negative size", []registers.Descriptor{{Address: 0, Size: -1}}},
		{"readable without payload", []registers.Descriptor{{Address: 0, Get: get}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registers.NewTable(tt.descs)
			assert.Error(t, err)
		})
	}
}

func TestDescriptors_IsCopy(t *testing.T) {
	table := registers.Standard(registers.Handlers{})
	descs := table.Descriptors()
	descs[1].Name = "changed"
	d, _ := table.Lookup(1)
	assert.Equal(t, "chip_id", d.Name)
}

func TestFloat32_RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	for _, v := range []float32{0, 1.25, -3.5, 1e-6} {
		registers.PutFloat32(buf, v)
		assert.Equal(t, v, registers.Float32(buf))
	}
}
