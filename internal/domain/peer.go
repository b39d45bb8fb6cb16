// Package domain contains entities without transport, just state and meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxPeerIDLen = 64

var (
	ErrPeerIDTooLong = errors.New("peer id too long")
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrSelfCall      = errors.New("peer id equals local id")
)

type PeerID string

func ParsePeerID(raw string) (PeerID, error) {
	if len(raw) == 0 {
		return "", ErrPeerIDEmpty
	}
	if len(raw) > MaxPeerIDLen {
		return "", ErrPeerIDTooLong
	}
	return PeerID(raw), nil
}

// NewPeerID is a tiny helper for callers that have no identity yet.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}
