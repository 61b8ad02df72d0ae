package registers

// Handlers are the collaborator functions the standard register map is built
// from. A nil function leaves the corresponding direction unmapped.
type Handlers struct {
	ChipID       func() uint8
	Version      func() uint8
	SetVersion   func(uint8)
	PumpDuty     func() uint8
	SetPumpDuty  func(uint8)
	WaterLevel   func() uint8
	Conductivity func() float32
	Flooding     func() bool
	SetFlooding  func(bool)
}

// Standard builds the appliance register map from h.
func Standard(h Handlers) *Table {
	descs := []Descriptor{
		{Address: RegReserved, Name: "reserved"},
		{Address: RegChipID, Name: "chip_id", Get: byteGetter(h.ChipID), Size: 1},
		{Address: RegVersion, Name: "version", Get: byteGetter(h.Version), Set: byteSetter(h.SetVersion), Size: 1},
		{Address: RegPumpDuty, Name: "pump_duty", Get: byteGetter(h.PumpDuty), Set: byteSetter(h.SetPumpDuty), Size: 1},
		{Address: RegWaterLevel, Name: "water_level", Get: byteGetter(h.WaterLevel), Size: 1},
		{Address: RegConductivity, Name: "conductivity", Get: floatGetter(h.Conductivity), Size: 4},
		{Address: RegFloodControl, Name: "flood_control", Get: floodGetter(h.Flooding), Set: floodSetter(h.SetFlooding), Size: 1},
	}
	t, err := NewTable(descs)
	if err != nil {
		// The map above is static.
		panic(err)
	}
	return t
}

func byteGetter(fn func() uint8) Getter {
	if fn == nil {
		return nil
	}
	return func(out []byte) { out[0] = fn() }
}

func byteSetter(fn func(uint8)) Setter {
	if fn == nil {
		return nil
	}
	return func(in []byte) { fn(in[0]) }
}

func floatGetter(fn func() float32) Getter {
	if fn == nil {
		return nil
	}
	return func(out []byte) { PutFloat32(out, fn()) }
}

func floodGetter(fn func() bool) Getter {
	if fn == nil {
		return nil
	}
	return func(out []byte) {
		out[0] = FloodStop
		if fn() {
			out[0] = FloodStart
		}
	}
}

// floodSetter ignores values other than FloodStart and FloodStop.
func floodSetter(fn func(bool)) Setter {
	if fn == nil {
		return nil
	}
	return func(in []byte) {
		switch in[0] {
		case FloodStart:
			fn(true)
		case FloodStop:
			fn(false)
		}
	}
}
