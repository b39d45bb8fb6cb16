package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

// printer writes session notifications for a terminal user and remembers
// the last playback state for the REPL.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
	state  domain.PlaybackState
	conn   domain.SessionState

	connected chan struct{}
	complete  chan domain.Track
	connOnce  sync.Once
}

var _ core.Observer = (*printer)(nil)

func newPrinter(out io.Writer, prefix string) *printer {
	return &printer{
		out:       out,
		prefix:    prefix,
		connected: make(chan struct{}),
		complete:  make(chan domain.Track, 8),
	}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.prefix+fmt.Sprintf(format, args...))
}

func (p *printer) OnConnectionState(s domain.SessionState) {
	p.mu.Lock()
	p.conn = s
	p.mu.Unlock()
	if s == domain.StateConnected {
		p.connOnce.Do(func() { close(p.connected) })
	}
	p.printf("connection: %s", s)
}

func (p *printer) OnConnectionFailed(err error) {
	p.printf("connection failed: %v", err)
}

func (p *printer) OnTransferProgress(dir domain.Direction, percent int) {
	p.printf("%s %d%%", dir, percent)
}

func (p *printer) OnTransferComplete(dir domain.Direction, t domain.Track) {
	p.printf("%s complete: %s (%s)", dir, t.Name, t.ID)
	if dir == domain.Receive {
		select {
		case p.complete <- t:
		default:
		}
	}
}

func (p *printer) OnTransferInterrupted(dir domain.Direction, err error) {
	p.printf("%s interrupted: %v", dir, err)
}

func (p *printer) OnPlayback(s domain.PlaybackState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.printf("playback: track=%q playing=%t at=%.1fs shuffle=%t repeat=%t",
		s.CurrentTrackID, s.IsPlaying, s.PositionSeconds, s.Shuffle, s.Repeat)
}

func (p *printer) OnTrackAdded(t domain.Track) {
	p.printf("track added: %s [%s] %s", t.Name, t.Kind, t.ID)
}

func (p *printer) OnChat(m domain.ChatMessage) {
	p.printf("<%s> %s", m.Sender, m.Text)
}

func (p *printer) playback() domain.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
