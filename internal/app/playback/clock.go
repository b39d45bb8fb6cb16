package playback

import (
	"sync"
	"time"

	"github.com/dkeye/MusicParty/internal/domain"
)

// Clock is a headless player for local and shared tracks. It keeps a
// position that advances with wall time while playing and calls onEnded
// once the track duration is reached.
type Clock struct {
	mu       sync.Mutex
	now      func() time.Time
	onEnded  func(trackID string)
	track    domain.Track
	base     float64
	started  time.Time
	playing  bool
	endTimer *time.Timer
}

func NewClock(onEnded func(trackID string)) *Clock {
	if onEnded == nil {
		onEnded = func(string) {}
	}
	return &Clock{now: time.Now, onEnded: onEnded}
}

func (c *Clock) Load(t domain.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimer()
	c.track = t
	c.base = 0
	c.playing = false
	return nil
}

func (c *Clock) Play(pos float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = clampPos(pos)
	c.started = c.now()
	c.playing = true
	c.armTimer()
	return nil
}

func (c *Clock) Pause(pos float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimer()
	c.base = clampPos(pos)
	c.playing = false
	return nil
}

func (c *Clock) Seek(pos float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = clampPos(pos)
	if c.playing {
		c.started = c.now()
		c.armTimer()
	}
	return nil
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position()
}

func (c *Clock) position() float64 {
	pos := c.base
	if c.playing {
		pos += c.now().Sub(c.started).Seconds()
	}
	if d := c.track.Duration; d > 0 && pos > d {
		pos = d
	}
	return pos
}

func (c *Clock) armTimer() {
	c.stopTimer()
	d := c.track.Duration
	if d <= 0 {
		return
	}
	left := time.Duration((d - c.base) * float64(time.Second))
	if left < 0 {
		left = 0
	}
	id := c.track.ID
	c.endTimer = time.AfterFunc(left, func() {
		c.mu.Lock()
		fire := c.playing && c.track.ID == id
		if fire {
			c.playing = false
			c.base = d
		}
		c.mu.Unlock()
		if fire {
			c.onEnded(id)
		}
	})
}

func (c *Clock) stopTimer() {
	if c.endTimer != nil {
		c.endTimer.Stop()
		c.endTimer = nil
	}
}

func clampPos(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	return pos
}
