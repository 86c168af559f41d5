package session

// EventType classifies session lifecycle events.
type EventType int

const (
	EventStarted EventType = iota // watch request accepted, session installed
	EventEnded                    // session stopped (replaced, exhausted, empty room)
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	}
	return "unknown"
}

// Event carries a session snapshot to observers.
type Event struct {
	Type     EventType
	Snapshot Snapshot // copy, safe to retain
	Viewers  int      // connected viewers at event time
}
