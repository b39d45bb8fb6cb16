package domain

type PlaybackPhase int

const (
	PhaseIdle PlaybackPhase = iota
	PhaseLoaded
	PhasePlaying
)

func (p PlaybackPhase) String() string {
	switch p {
	case PhaseLoaded:
		return "loaded"
	case PhasePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// PlaybackState is the shared logical playback value.
type PlaybackState struct {
	CurrentTrackID  string  `json:"current_track_id"`
	IsPlaying       bool    `json:"is_playing"`
	PositionSeconds float64 `json:"position"`
	Shuffle         bool    `json:"shuffle"`
	Repeat          bool    `json:"repeat"`
}

func (s PlaybackState) Phase() PlaybackPhase {
	switch {
	case s.CurrentTrackID == "":
		return PhaseIdle
	case s.IsPlaying:
		return PhasePlaying
	default:
		return PhaseLoaded
	}
}
