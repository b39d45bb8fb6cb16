package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicParty/internal/app"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

// slowConn accepts room frames and then reports backpressure.
type slowConn struct {
	peer domain.PeerID
	room int

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *slowConn) Peer() domain.PeerID            { return c.peer }
func (c *slowConn) Wants(env domain.Envelope) bool { return env.ToID == c.peer }

func (c *slowConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if len(c.frames) >= c.room {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *slowConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type memStore struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (s *memStore) Insert(_ context.Context, env domain.Envelope) (domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env.ID = string(rune('a' + len(s.envs)))
	env.CreatedAt = time.Now()
	s.envs = append(s.envs, env)
	return env, nil
}

func (s *memStore) Since(_ context.Context, f domain.EnvelopeFilter) ([]domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Envelope
	for _, e := range s.envs {
		if f.Match(e) && e.CreatedAt.After(f.Since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestDeliverKicksSlowSubscriber(t *testing.T) {
	reg := app.NewRegistry()
	hub := NewHub(&memStore{}, reg, app.SimplePolicy{MaxDrops: 2}, nil, HubOptions{})

	slow := &slowConn{peer: "B", room: 1}
	canceled := false
	reg.Bind("slow", slow, func() { canceled = true })
	fast := &slowConn{peer: "B", room: 100}
	reg.Bind("fast", fast, nil)

	env := domain.Envelope{FromID: "A", ToID: "B", Kind: domain.KindCandidate}
	hub.Deliver(env)
	hub.Deliver(env)
	assert.False(t, canceled)
	hub.Deliver(env)
	assert.True(t, canceled)
	assert.True(t, slow.closed)
	assert.Len(t, fast.frames, 3)
	assert.Len(t, slow.frames, 1)
}

func TestDeliverSkipsOthers(t *testing.T) {
	reg := app.NewRegistry()
	hub := NewHub(&memStore{}, reg, app.SimplePolicy{}, nil, HubOptions{})
	c := &slowConn{peer: "C", room: 10}
	reg.Bind("c", c, nil)
	hub.Deliver(domain.Envelope{FromID: "A", ToID: "B", Kind: domain.KindOffer})
	assert.Empty(t, c.frames)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(100, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("A"))
	assert.True(t, rl.Allow("A"))
	assert.False(t, rl.Allow("A"))
	assert.True(t, rl.Allow("B"))

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("A"))

	require.True(t, NewRateLimiter(0, time.Second).Allow("A"))
}

func TestWsRelayConnFilters(t *testing.T) {
	c := &WsRelayConn{peer: "B", send: make(chan core.Frame, 1)}
	env := domain.Envelope{FromID: "A", ToID: "B"}
	assert.False(t, c.Wants(env))

	c.addFilter(domain.EnvelopeFilter{ToID: "B", FromID: "C"})
	assert.False(t, c.Wants(env))
	c.addFilter(domain.EnvelopeFilter{ToID: "B"})
	c.addFilter(domain.EnvelopeFilter{ToID: "B"})
	assert.True(t, c.Wants(env))
	assert.Len(t, c.filters, 2)

	require.NoError(t, c.TrySend(core.Frame("x")))
	assert.ErrorIs(t, c.TrySend(core.Frame("y")), ErrBackpressure)
}
