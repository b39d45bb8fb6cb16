package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

type EnvelopeKind string

const (
	KindOffer     EnvelopeKind = "offer"
	KindAnswer    EnvelopeKind = "answer"
	KindCandidate EnvelopeKind = "candidate"
	KindEnd       EnvelopeKind = "end"
)

func (k EnvelopeKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindEnd:
		return true
	}
	return false
}

var ErrBadEnvelope = errors.New("bad envelope")

// SignalPayload mirrors the relay row's signal_data column.
type SignalPayload struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Envelope is one signaling record. Immutable once published.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	FromID    PeerID          `json:"from_id"`
	ToID      PeerID          `json:"to_id"`
	Kind      EnvelopeKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
}

func NewEnvelope(from, to PeerID, kind EnvelopeKind, p SignalPayload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{FromID: from, ToID: to, Kind: kind, Payload: raw}, nil
}

// Signal decodes the payload. An empty payload decodes to a zero value.
func (e Envelope) Signal() (SignalPayload, error) {
	var p SignalPayload
	if len(e.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, errors.Join(ErrBadEnvelope, err)
	}
	return p, nil
}

// EnvelopeFilter selects envelopes for a subscriber. FromID is optional.
type EnvelopeFilter struct {
	ToID   PeerID    `json:"to_id"`
	FromID PeerID    `json:"from_id,omitempty"`
	Since  time.Time `json:"since,omitzero"`
}

func (f EnvelopeFilter) Match(e Envelope) bool {
	if e.ToID != f.ToID {
		return false
	}
	if f.FromID != "" && e.FromID != f.FromID {
		return false
	}
	return true
}
