package session

import (
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

type EventKind int

const (
	EventEnvelope EventKind = iota
	EventPeer
	EventIntent
	EventSendProgress
	EventSendDone
	EventTrackEnded
	EventClose
)

// Event is everything the session loop reacts to.
type Event struct {
	Kind     EventKind
	Envelope domain.Envelope
	Peer     core.PeerEvent
	Intent   Intent
	Percent  int
	Track    domain.Track
	TrackID  string
	Err      error

	reply chan error
}

type Op int

const (
	OpTogglePlay Op = iota
	OpPlay
	OpPause
	OpSeek
	OpPlayTrack
	OpNext
	OpPrevious
	OpEnded
	OpShuffle
	OpRepeat
	OpMute
	OpChat
	OpSendFile
	OpAddEmbed
)

// Intent is a local user action.
type Intent struct {
	Op       Op
	Position float64
	TrackID  string
	On       bool
	Text     string
	Path     string
	URL      string
}
