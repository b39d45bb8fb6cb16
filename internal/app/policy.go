package app

import "github.com/dkeye/MusicParty/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickMember:
		return "kick"
	default:
		return "none"
	}
}

// Policy decides what happens to a subscriber whose send buffer is full.
// drops is how many frames it has lost so far, this one included.
type Policy interface {
	OnBackPressure(peer domain.PeerID, drops int) BackpressureAction
}

// SimplePolicy drops frames and kicks after MaxDrops. Dropping is safe
// because the client can resubscribe with since and replay from the store.
type SimplePolicy struct {
	MaxDrops int
}

func (p SimplePolicy) OnBackPressure(_ domain.PeerID, drops int) BackpressureAction {
	if p.MaxDrops > 0 && drops >= p.MaxDrops {
		return KickMember
	}
	return DropFrame
}
