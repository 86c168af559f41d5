package ws

import (
	"encoding/json"
	"strings"

	"github.com/glyphcast/glyphcast/internal/session"
)

// Binary websocket messages carry encoded frames. Text messages are JSON
// envelopes going out and watch requests coming in.

type MessageType string

const (
	MsgStatus MessageType = "status"
	MsgError  MessageType = "error"
	MsgWatch  MessageType = "watch"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// StatusPayload describes the broadcaster after a change.
type StatusPayload struct {
	Event             string            `json:"event,omitempty"` // started, ended, viewers
	Reason            string            `json:"reason,omitempty"`
	Session           *session.Snapshot `json:"session,omitempty"`
	Viewers           int               `json:"viewers"`
	CooldownRemaining float64           `json:"cooldownRemaining"` // seconds
	FramesPublished   uint64            `json:"framesPublished"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WatchRequest is the JSON form of a watch request. A bare URL in a text
// message is accepted too.
type WatchRequest struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

// ParseWatch extracts the requested URL from an inbound text message.
func ParseWatch(data []byte) string {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var req WatchRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return ""
		}
		if req.Type != "" && req.Type != MsgWatch {
			return ""
		}
		return strings.TrimSpace(req.URL)
	}
	return text
}
