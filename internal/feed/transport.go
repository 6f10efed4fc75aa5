package feed

import "fmt"

// EventType tags a transport event.
type EventType int

const (
	EventOpened EventType = iota + 1
	EventMessage
	EventErrored
	EventClosed
)

// String returns the string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventErrored:
		return "errored"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a tagged transport event. Data is set for EventMessage, Err for
// EventErrored, Code and Reason for EventClosed.
type Event struct {
	Type   EventType
	Data   []byte
	Err    error
	Code   int
	Reason string
}

func (e Event) String() string {
	switch e.Type {
	case EventMessage:
		return fmt.Sprintf("message(%d bytes)", len(e.Data))
	case EventErrored:
		return fmt.Sprintf("errored(%v)", e.Err)
	case EventClosed:
		return fmt.Sprintf("closed(%d %s)", e.Code, e.Reason)
	default:
		return e.Type.String()
	}
}

// Transport is a duplex feed channel.
//
// Events are delivered in the order the transport produced them. EventClosed
// is terminal: the channel is closed right after it and nothing follows.
// A consumer must also treat a closed channel as EventClosed.
type Transport interface {
	Events() <-chan Event
	Send(data []byte) error
	// Close is idempotent.
	Close() error
}

const eventBuffer = 64

// Close codes used for EventClosed.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)
