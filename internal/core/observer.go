package core

import "github.com/dkeye/MusicParty/internal/domain"

// Observer receives discrete notifications from the session loop.
// Calls are never concurrent for a single session.
type Observer interface {
	OnConnectionState(domain.SessionState)
	OnConnectionFailed(err error)
	OnTransferProgress(dir domain.Direction, percent int)
	OnTransferComplete(dir domain.Direction, track domain.Track)
	OnTransferInterrupted(dir domain.Direction, err error)
	OnPlayback(domain.PlaybackState)
	OnTrackAdded(domain.Track)
	OnChat(domain.ChatMessage)
}

// NopObserver can be embedded to implement only a few callbacks.
type NopObserver struct{}

func (NopObserver) OnConnectionState(domain.SessionState)             {}
func (NopObserver) OnConnectionFailed(error)                          {}
func (NopObserver) OnTransferProgress(domain.Direction, int)          {}
func (NopObserver) OnTransferComplete(domain.Direction, domain.Track) {}
func (NopObserver) OnTransferInterrupted(domain.Direction, error)     {}
func (NopObserver) OnPlayback(domain.PlaybackState)                   {}
func (NopObserver) OnTrackAdded(domain.Track)                         {}
func (NopObserver) OnChat(domain.ChatMessage)                         {}
