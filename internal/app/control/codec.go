package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/MusicParty/internal/domain"
)

var (
	ErrMalformed     = errors.New("malformed control frame")
	ErrUnknownAction = errors.New("unknown control action")
)

// frame is the flat JSON shape shared by every action.
type frame struct {
	Action      Action           `json:"action"`
	Position    float64          `json:"position,omitempty"`
	TrackID     string           `json:"trackId,omitempty"`
	Name        string           `json:"name,omitempty"`
	URL         string           `json:"url,omitempty"`
	Kind        domain.TrackKind `json:"kind,omitempty"`
	EmbedID     string           `json:"embedId,omitempty"`
	Text        string           `json:"text,omitempty"`
	TotalBytes  int64            `json:"totalBytes,omitempty"`
	TotalChunks int              `json:"totalChunks,omitempty"`
	MIME        string           `json:"mime,omitempty"`
}

// Encode serializes m into a text frame.
func Encode(m Message) (string, error) {
	f := frame{Action: m.Action()}
	switch v := m.(type) {
	case TrackAnnounce:
		f.TrackID, f.Name, f.URL, f.Kind, f.EmbedID = v.TrackID, v.Name, v.URL, v.Kind, v.EmbedID
	case Play:
		f.Position, f.TrackID = v.Position, v.TrackID
	case Pause:
		f.Position = v.Position
	case Seek:
		f.Position = v.Position
	case Chat:
		f.Text = v.Text
	case TransferStart:
		f.TotalBytes, f.TotalChunks, f.Name, f.MIME, f.TrackID = v.TotalBytes, v.TotalChunks, v.Name, v.MIME, v.TrackID
	case TransferEnd:
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownAction, m)
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a text frame into one of the Message variants.
func Decode(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if f.Position < 0 {
		return nil, fmt.Errorf("%w: negative position", ErrMalformed)
	}
	switch f.Action {
	case ActionTrackAnnounce:
		if f.TrackID == "" || (f.URL == "" && f.EmbedID == "") {
			return nil, fmt.Errorf("%w: announce without track reference", ErrMalformed)
		}
		kind := f.Kind
		if kind == "" {
			kind = domain.TrackEmbed
		}
		return TrackAnnounce{TrackID: f.TrackID, Name: f.Name, URL: f.URL, Kind: kind, EmbedID: f.EmbedID}, nil
	case ActionPlay:
		return Play{Position: f.Position, TrackID: f.TrackID}, nil
	case ActionPause:
		return Pause{Position: f.Position}, nil
	case ActionSeek:
		return Seek{Position: f.Position}, nil
	case ActionChat:
		if f.Text == "" {
			return nil, fmt.Errorf("%w: empty chat", ErrMalformed)
		}
		return Chat{Text: f.Text}, nil
	case ActionTransferStart:
		if f.TotalChunks < 0 || f.TotalBytes < 0 {
			return nil, fmt.Errorf("%w: negative transfer size", ErrMalformed)
		}
		return TransferStart{
			TotalBytes:  f.TotalBytes,
			TotalChunks: f.TotalChunks,
			Name:        f.Name,
			MIME:        f.MIME,
			TrackID:     f.TrackID,
		}, nil
	case ActionTransferEnd:
		return TransferEnd{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}
}

// Handler receives routed inbound frames.
type Handler interface {
	OnControl(Message)
	OnChunk([]byte)
}

// Route sends binary frames to the chunk path and decodes everything else.
// A decode error is returned for logging; nothing is dispatched in that case.
func Route(binary bool, data []byte, h Handler) error {
	if binary {
		h.OnChunk(data)
		return nil
	}
	m, err := Decode(data)
	if err != nil {
		return err
	}
	h.OnControl(m)
	return nil
}
