package protocol

// Kind tags a bus event.
type Kind uint8

const (
	// Incoming is a controller write: one address byte optionally followed
	// by payload bytes.
	Incoming Kind = iota + 1
	// ReadRequested means the controller is clocking out a reply.
	ReadRequested
)

func (k Kind) String() string {
	switch k {
	case Incoming:
		return "incoming"
	case ReadRequested:
		return "read_requested"
	default:
		return "unknown"
	}
}

// MaxEventData is the largest bus write captured in a single event. Longer
// writes are truncated.
const MaxEventData = 256

// Event is a bus event captured in receive context. It is a value type with
// inline storage so submitting it never allocates.
type Event struct {
	Kind Kind
	Len  int
	Data [MaxEventData]byte
}

// IncomingEvent captures a controller write.
func IncomingEvent(p []byte) Event {
	ev := Event{Kind: Incoming}
	ev.Len = copy(ev.Data[:], p)
	return ev
}

// ReadRequestEvent captures a controller read request.
func ReadRequestEvent() Event {
	return Event{Kind: ReadRequested}
}

// Bytes returns the captured payload including the address byte.
func (ev *Event) Bytes() []byte { return ev.Data[:ev.Len] }
