// Package embed controls an externally hosted player (a video page) that
// becomes ready some time after the session starts.
package embed

import (
	"errors"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/domain"
)

var ErrNoVideoID = errors.New("no embed video id")

var idPattern = regexp.MustCompile(`^.*(youtu\.be/|v/|u/\w/|embed/|watch\?v=|&v=)([^#&?]*).*`)

// ExtractID returns the 11 character video id of a watch, short, embed or
// v/ style link.
func ExtractID(url string) (string, bool) {
	m := idPattern.FindStringSubmatch(url)
	if m == nil || len(m[2]) != 11 {
		return "", false
	}
	return m[2], true
}

// Driver is the external player. It is only called after MarkReady.
type Driver interface {
	Cue(videoID string) error
	Play() error
	Pause() error
	Seek(pos float64) error
	CurrentTime() float64
}

// Controller queues commands until the driver is ready and then forwards
// them in order. It satisfies core.Player.
type Controller struct {
	mu     sync.Mutex
	driver Driver
	ready  chan struct{}
	isUp   bool
	queue  []func(Driver) error
	pos    float64
}

func NewController(d Driver) *Controller {
	return &Controller{driver: d, ready: make(chan struct{})}
}

func (c *Controller) Ready() <-chan struct{} { return c.ready }

// MarkReady flushes queued commands. Later calls do nothing.
func (c *Controller) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isUp {
		return
	}
	c.isUp = true
	close(c.ready)
	queued := c.queue
	c.queue = nil
	for _, cmd := range queued {
		if err := cmd(c.driver); err != nil {
			log.Warn().Str("module", "embed").Err(err).Msg("queued embed command failed")
		}
	}
	log.Debug().Str("module", "embed").Int("flushed", len(queued)).Msg("embed player ready")
}

// Pending returns the number of commands waiting for readiness.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Controller) Load(t domain.Track) error {
	id := t.EmbedID
	if id == "" {
		var ok bool
		if id, ok = ExtractID(t.URL); !ok {
			return ErrNoVideoID
		}
	}
	return c.do(0, func(d Driver) error { return d.Cue(id) })
}

func (c *Controller) Play(pos float64) error {
	return c.do(pos, func(d Driver) error {
		if err := d.Seek(pos); err != nil {
			return err
		}
		return d.Play()
	})
}

func (c *Controller) Pause(pos float64) error {
	return c.do(pos, func(d Driver) error { return d.Pause() })
}

func (c *Controller) Seek(pos float64) error {
	return c.do(pos, func(d Driver) error { return d.Seek(pos) })
}

// Position asks the driver once ready, and reports the last commanded
// position before that.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isUp {
		return c.driver.CurrentTime()
	}
	return c.pos
}

func (c *Controller) do(pos float64, cmd func(Driver) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = pos
	if !c.isUp {
		c.queue = append(c.queue, cmd)
		return nil
	}
	return cmd(c.driver)
}
