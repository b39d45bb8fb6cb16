package core

import (
	"context"

	"github.com/dkeye/MusicParty/internal/domain"
)

// Relay is the asynchronous signaling transport.
// Publish is fire-and-forget; Subscribe delivers at-least-once with no
// ordering guarantee across envelopes.
type Relay interface {
	Publish(ctx context.Context, env domain.Envelope) error
	// Subscribe streams matching envelopes until cancel is called or ctx ends.
	Subscribe(ctx context.Context, filter domain.EnvelopeFilter) (<-chan domain.Envelope, func(), error)
}

// EnvelopeStore persists published envelopes for replay.
type EnvelopeStore interface {
	// Insert assigns ID and CreatedAt and returns the stored envelope.
	Insert(ctx context.Context, env domain.Envelope) (domain.Envelope, error)
	Since(ctx context.Context, filter domain.EnvelopeFilter) ([]domain.Envelope, error)
}

// RelayConn is one connected relay client as seen by the hub.
type RelayConn interface {
	Peer() domain.PeerID
	// Wants reports whether any of the client's subscriptions match env.
	Wants(env domain.Envelope) bool
	TrySend(f Frame) error
	Close()
}
