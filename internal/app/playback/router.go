package playback

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

// Router sends embed tracks to the embed player and everything else to the
// media player. Transport calls go to whichever backend loaded last.
type Router struct {
	media  core.Player
	embed  core.Player
	active core.Player
}

func NewRouter(media, embed core.Player) *Router {
	return &Router{media: media, embed: embed, active: media}
}

func (r *Router) Load(t domain.Track) error {
	next := r.media
	if t.Kind == domain.TrackEmbed {
		next = r.embed
	}
	if next != r.active {
		if err := r.active.Pause(r.active.Position()); err != nil {
			log.Debug().Str("module", "playback").Err(err).Str("track", t.ID).Msg("pause previous backend")
		}
	}
	r.active = next
	return next.Load(t)
}

func (r *Router) Play(pos float64) error  { return r.active.Play(pos) }
func (r *Router) Pause(pos float64) error { return r.active.Pause(pos) }
func (r *Router) Seek(pos float64) error  { return r.active.Seek(pos) }
func (r *Router) Position() float64       { return r.active.Position() }
