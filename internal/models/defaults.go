package models

// DefaultVersion is the version register value on first boot.
const DefaultVersion uint8 = 0x11

// DefaultState returns the state used when nothing has been persisted yet.
func DefaultState() State {
	return State{Version: DefaultVersion}
}
