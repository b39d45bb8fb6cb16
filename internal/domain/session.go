package domain

import "fmt"

type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "initiator", "caller":
		return Initiator, nil
	case "responder", "callee":
		return Responder, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

type SessionState int

const (
	StateInitializing SessionState = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

func (s SessionState) rank() int {
	if s.Terminal() {
		return int(StateFailed)
	}
	return int(s)
}

// Negotiation tracks where the offer/answer exchange stands.
// It replaces ad-hoc "answered" and "remote description set" flags.
type Negotiation int

const (
	NegotiationIdle Negotiation = iota
	NegotiationAwaitingOffer
	NegotiationAwaitingAnswer
	NegotiationStable
)

func (n Negotiation) String() string {
	switch n {
	case NegotiationIdle:
		return "idle"
	case NegotiationAwaitingOffer:
		return "awaiting_offer"
	case NegotiationAwaitingAnswer:
		return "awaiting_answer"
	case NegotiationStable:
		return "stable"
	default:
		return fmt.Sprintf("negotiation(%d)", int(n))
	}
}

// Session is the single call instance between LocalID and PeerID.
type Session struct {
	Role        Role
	LocalID     PeerID
	PeerID      PeerID
	State       SessionState
	Negotiation Negotiation
}

func NewSession(role Role, local, peer PeerID) (*Session, error) {
	if local == peer {
		return nil, ErrSelfCall
	}
	neg := NegotiationIdle
	if role == Responder {
		neg = NegotiationAwaitingOffer
	}
	return &Session{
		Role:        role,
		LocalID:     local,
		PeerID:      peer,
		State:       StateInitializing,
		Negotiation: neg,
	}, nil
}

// Advance moves the session forward. It refuses regressions and any move out
// of a terminal state, and reports whether the state changed.
func (s *Session) Advance(to SessionState) bool {
	if s.State.Terminal() || to.rank() <= s.State.rank() {
		return false
	}
	s.State = to
	return true
}

// RemoteDescriptionSet reports whether ICE candidates may be applied directly.
func (s *Session) RemoteDescriptionSet() bool {
	return s.Negotiation == NegotiationStable
}

// CanAcceptAnswer is the guard for the single accepted Answer.
func (s *Session) CanAcceptAnswer() bool {
	return s.Role == Initiator && s.Negotiation == NegotiationAwaitingAnswer && !s.State.Terminal()
}

// CanAcceptOffer is the guard for the single accepted Offer.
func (s *Session) CanAcceptOffer() bool {
	return s.Role == Responder && s.Negotiation == NegotiationAwaitingOffer && !s.State.Terminal()
}
