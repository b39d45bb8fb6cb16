package relay

import (
	"encoding/json"

	"github.com/dkeye/MusicParty/internal/domain"
)

// Frame types on the relay websocket.
const (
	FramePublish   = "publish"
	FrameSubscribe = "subscribe"
	FramePing      = "ping"
	FrameEnvelope  = "envelope"
	FramePong      = "pong"
	FrameError     = "error"
)

// Frame is one websocket text message, in either direction.
type Frame struct {
	Type     string                 `json:"type"`
	Envelope *domain.Envelope       `json:"envelope,omitempty"`
	Filter   *domain.EnvelopeFilter `json:"filter,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func (f Frame) Marshal() ([]byte, error) { return json.Marshal(f) }

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
