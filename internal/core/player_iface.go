package core

import "github.com/dkeye/MusicParty/internal/domain"

// Player applies local playback effects. Positions are seconds.
type Player interface {
	Load(track domain.Track) error
	Play(position float64) error
	Pause(position float64) error
	Seek(position float64) error
	Position() float64
}

// TrackLibrary is the shared track list. The engine appends and reads.
type TrackLibrary interface {
	Add(track domain.Track) domain.Track
	// AddShared materializes a received payload into a playable track.
	AddShared(id, name, mime string, data []byte) (domain.Track, error)
	Get(id string) (domain.Track, bool)
	List() []domain.Track
	Index(id string) int
}
