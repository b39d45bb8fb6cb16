// Package control implements the data channel control protocol: JSON text
// frames tagged by "action", and untagged binary frames carrying transfer chunks.
package control

import "github.com/dkeye/MusicParty/internal/domain"

type Action string

const (
	ActionTrackAnnounce Action = "track_announce"
	ActionPlay          Action = "play"
	ActionPause         Action = "pause"
	ActionSeek          Action = "seek"
	ActionChat          Action = "chat"
	ActionTransferStart Action = "transfer_start"
	ActionTransferEnd   Action = "transfer_end"
)

// Message is one of the control variants below.
type Message interface {
	Action() Action
}

type TrackAnnounce struct {
	TrackID string
	Name    string
	URL     string
	Kind    domain.TrackKind
	EmbedID string
}

// Play carries the authoritative position. TrackID is optional and lets the
// receiver switch to the same track first.
type Play struct {
	Position float64
	TrackID  string
}

type Pause struct {
	Position float64
}

type Seek struct {
	Position float64
}

type Chat struct {
	Text string
}

type TransferStart struct {
	TotalBytes  int64
	TotalChunks int
	Name        string
	MIME        string
	TrackID     string
}

type TransferEnd struct{}

func (TrackAnnounce) Action() Action { return ActionTrackAnnounce }
func (Play) Action() Action          { return ActionPlay }
func (Pause) Action() Action         { return ActionPause }
func (Seek) Action() Action          { return ActionSeek }
func (Chat) Action() Action          { return ActionChat }
func (TransferStart) Action() Action { return ActionTransferStart }
func (TransferEnd) Action() Action   { return ActionTransferEnd }

// AnnounceOf builds the announce for a track reference.
func AnnounceOf(t domain.Track) TrackAnnounce {
	return TrackAnnounce{TrackID: t.ID, Name: t.Name, URL: t.URL, Kind: t.Kind, EmbedID: t.EmbedID}
}

// Track materializes an announce on the receiving side.
func (a TrackAnnounce) Track() domain.Track {
	return domain.Track{ID: a.TrackID, Name: a.Name, URL: a.URL, Kind: a.Kind, EmbedID: a.EmbedID}
}
