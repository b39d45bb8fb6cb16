package embed

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogDriver is a headless Driver that logs commands and keeps a running
// clock. The peer CLI uses it where no page is available.
type LogDriver struct {
	mu      sync.Mutex
	video   string
	base    float64
	started time.Time
	playing bool
}

func (d *LogDriver) Cue(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.video, d.base, d.playing = id, 0, false
	log.Info().Str("module", "embed").Str("video", id).Msg("cue")
	return nil
}

func (d *LogDriver) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = time.Now()
	d.playing = true
	log.Info().Str("module", "embed").Str("video", d.video).Float64("at", d.base).Msg("play")
	return nil
}

func (d *LogDriver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base = d.current()
	d.playing = false
	log.Info().Str("module", "embed").Str("video", d.video).Float64("at", d.base).Msg("pause")
	return nil
}

func (d *LogDriver) Seek(pos float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base = pos
	d.started = time.Now()
	return nil
}

func (d *LogDriver) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current()
}

func (d *LogDriver) current() float64 {
	if !d.playing {
		return d.base
	}
	return d.base + time.Since(d.started).Seconds()
}
