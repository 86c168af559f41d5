package session

import (
	"encoding/json"
	"time"
)

type State int

const (
	Starting State = iota
	Active
	Stopped
)

var stateNames = map[State]string{
	Starting: "starting",
	Active:   "active",
	Stopped:  "stopped",
}

var stateFromName = map[string]State{
	"starting": Starting,
	"active":   Active,
	"stopped":  Stopped,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// Snapshot is a point-in-time copy of a session's bookkeeping.
type Snapshot struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	State         State         `json:"state"`
	Framerate     float64       `json:"framerate"`
	FramesRead    int64         `json:"framesRead"`
	FramesEncoded int64         `json:"framesEncoded"`
	LastEncode    time.Duration `json:"lastEncodeNs"`
	LastError     float64       `json:"lastError"`
	GridWidth     int           `json:"gridWidth,omitempty"`
	GridHeight    int           `json:"gridHeight,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	EndedAt       *time.Time    `json:"endedAt,omitempty"`
	EndReason     string        `json:"endReason,omitempty"`
}
