package boot

import "fmt"

// State is a boot sequencer state.
type State int

const (
	Initial State = iota
	NegotiatePD
	AwaitPDNegotiation
	FiveVoltPower
	NineVoltPower
	AwaitPeripheralStart
	BootComplete
	BootTimeout
	numStates
)

var stateNames = [numStates]string{
	Initial:              "INITIAL",
	NegotiatePD:          "NEGOTIATE_PD",
	AwaitPDNegotiation:   "AWAIT_PD_NEGOTIATION",
	FiveVoltPower:        "FIVE_VOLT_POWER",
	NineVoltPower:        "NINE_VOLT_POWER",
	AwaitPeripheralStart: "AWAIT_PERIPHERAL_START",
	BootComplete:         "BOOT_COMPLETE",
	BootTimeout:          "BOOT_TIMEOUT",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// Terminal reports whether s is a state the sequencer never leaves.
func (s State) Terminal() bool {
	return s == BootComplete || s == BootTimeout
}

// MarshalText encodes the state by name for JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InstanceData is the per-run scratch state mutated by transitions.
type InstanceData struct {
	RetryCount int `json:"retry_count"`
}
