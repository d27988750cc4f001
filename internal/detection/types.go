package detection

import "time"

// Object is one detected object inside a detection message.
type Object struct {
	ID          int     `json:"id"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
}

// Event is one decoded detection message.
type Event struct {
	Objects    []Object  `json:"objects"`
	ReceivedAt time.Time `json:"received_at"`
}

// State is the parser state.
type State int

const (
	SeekingHeader State = iota
	Accumulating
)

func (s State) String() string {
	switch s {
	case SeekingHeader:
		return "seeking_header"
	case Accumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}
