// Package playback keeps the shared playback state in step between peers.
//
// Local intents apply their effect and then emit a control message. Remote
// control messages apply their effect only and never echo, so the two peers
// cannot feed back into each other.
package playback

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/app/control"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

var (
	ErrNoTrack      = errors.New("no track loaded")
	ErrUnknownTrack = errors.New("unknown track")
	ErrEmptyList    = errors.New("track list is empty")
)

type Option func(*Sync)

// WithRand replaces the index source used by shuffle. f(n) must return [0,n).
func WithRand(f func(n int) int) Option {
	return func(s *Sync) { s.randIndex = f }
}

// WithNotify registers a callback for every state change.
func WithNotify(f func(domain.PlaybackState)) Option {
	return func(s *Sync) { s.notify = f }
}

// Sync is not safe for concurrent use; the session loop owns it.
type Sync struct {
	state     domain.PlaybackState
	player    core.Player
	tracks    core.TrackLibrary
	emit      func(control.Message)
	randIndex func(n int) int
	notify    func(domain.PlaybackState)
}

func New(player core.Player, tracks core.TrackLibrary, emit func(control.Message), opts ...Option) *Sync {
	s := &Sync{
		player:    player,
		tracks:    tracks,
		emit:      emit,
		randIndex: rand.IntN,
		notify:    func(domain.PlaybackState) {},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current value with the live player position.
func (s *Sync) State() domain.PlaybackState {
	st := s.state
	if st.IsPlaying {
		st.PositionSeconds = s.player.Position()
	}
	return st
}

func (s *Sync) Phase() domain.PlaybackPhase { return s.state.Phase() }

// Load selects a track without playing it. Used for received files and
// announces; nothing is emitted.
func (s *Sync) Load(t domain.Track) error {
	if err := s.player.Load(t); err != nil {
		return fmt.Errorf("load %s: %w", t.ID, err)
	}
	s.state.CurrentTrackID = t.ID
	s.state.IsPlaying = false
	s.state.PositionSeconds = 0
	s.changed()
	return nil
}

func (s *Sync) Play(pos float64) error {
	if err := s.applyPlay(pos); err != nil {
		return err
	}
	s.emit(control.Play{Position: pos})
	return nil
}

func (s *Sync) Pause(pos float64) error {
	if err := s.applyPause(pos); err != nil {
		return err
	}
	s.emit(control.Pause{Position: pos})
	return nil
}

func (s *Sync) Seek(pos float64) error {
	if err := s.applySeek(pos); err != nil {
		return err
	}
	s.emit(control.Seek{Position: pos})
	return nil
}

// TogglePlay flips between play and pause at the player's position.
func (s *Sync) TogglePlay() error {
	if s.state.IsPlaying {
		return s.Pause(s.player.Position())
	}
	return s.Play(s.player.Position())
}

// PlayTrack selects and plays a track. Choosing the current track toggles.
func (s *Sync) PlayTrack(id string) error {
	if id == s.state.CurrentTrackID && id != "" {
		return s.TogglePlay()
	}
	t, ok := s.tracks.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	return s.start(t)
}

// Next advances sequentially with wrap-around, or uniformly at random when
// shuffle is on.
func (s *Sync) Next() error {
	list := s.tracks.List()
	if len(list) == 0 {
		return ErrEmptyList
	}
	var i int
	if s.state.Shuffle {
		i = s.randIndex(len(list))
	} else {
		i = (s.tracks.Index(s.state.CurrentTrackID) + 1) % len(list)
	}
	return s.start(list[i])
}

func (s *Sync) Previous() error {
	list := s.tracks.List()
	if len(list) == 0 {
		return ErrEmptyList
	}
	i := s.tracks.Index(s.state.CurrentTrackID) - 1
	if i < 0 {
		i = len(list) - 1
	}
	return s.start(list[i])
}

// Ended handles the natural end of the current track. Repeat restarts
// locally only: the peer reaches the same end and applies the same rule.
func (s *Sync) Ended() error {
	if s.state.CurrentTrackID == "" {
		return ErrNoTrack
	}
	if s.state.Repeat {
		return s.applyPlay(0)
	}
	return s.Next()
}

func (s *Sync) SetShuffle(on bool) {
	s.state.Shuffle = on
	s.changed()
}

func (s *Sync) SetRepeat(on bool) {
	s.state.Repeat = on
	s.changed()
}

// ApplyRemote applies a control message received from the peer. Messages
// other than play, pause and seek are ignored.
func (s *Sync) ApplyRemote(m control.Message) error {
	switch m := m.(type) {
	case control.Play:
		if m.TrackID != "" && m.TrackID != s.state.CurrentTrackID {
			t, ok := s.tracks.Get(m.TrackID)
			if !ok {
				log.Warn().Str("module", "playback").Str("track", m.TrackID).Msg("remote play for unknown track")
			} else if err := s.player.Load(t); err != nil {
				return fmt.Errorf("load %s: %w", t.ID, err)
			} else {
				s.state.CurrentTrackID = t.ID
			}
		}
		return s.applyPlay(m.Position)
	case control.Pause:
		return s.applyPause(m.Position)
	case control.Seek:
		return s.applySeek(m.Position)
	}
	return nil
}

func (s *Sync) start(t domain.Track) error {
	if err := s.player.Load(t); err != nil {
		return fmt.Errorf("load %s: %w", t.ID, err)
	}
	s.state.CurrentTrackID = t.ID
	if err := s.applyPlay(0); err != nil {
		return err
	}
	s.emit(control.Play{Position: 0, TrackID: t.ID})
	return nil
}

func (s *Sync) applyPlay(pos float64) error {
	if s.state.CurrentTrackID == "" {
		return ErrNoTrack
	}
	if err := s.player.Play(pos); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	s.state.IsPlaying = true
	s.state.PositionSeconds = pos
	s.changed()
	return nil
}

func (s *Sync) applyPause(pos float64) error {
	if s.state.CurrentTrackID == "" {
		return ErrNoTrack
	}
	if err := s.player.Pause(pos); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	s.state.IsPlaying = false
	s.state.PositionSeconds = pos
	s.changed()
	return nil
}

func (s *Sync) applySeek(pos float64) error {
	if s.state.CurrentTrackID == "" {
		return ErrNoTrack
	}
	if err := s.player.Seek(pos); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	s.state.PositionSeconds = pos
	s.changed()
	return nil
}

func (s *Sync) changed() { s.notify(s.state) }
