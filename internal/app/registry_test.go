package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

type stubConn struct {
	peer domain.PeerID
}

func (c stubConn) Peer() domain.PeerID            { return c.peer }
func (c stubConn) Wants(env domain.Envelope) bool { return env.ToID == c.peer }
func (c stubConn) TrySend(core.Frame) error       { return nil }
func (c stubConn) Close()                         {}

func TestRegistrySubscribers(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind("c1", stubConn{peer: "A"}, func() { canceled = true })
	r.Bind("c2", stubConn{peer: "B"}, nil)
	r.Bind("c3", stubConn{peer: "B"}, nil)
	assert.Equal(t, 3, r.Len())

	subs := r.Subscribers(domain.Envelope{ToID: "B"})
	assert.Len(t, subs, 2)
	assert.Empty(t, r.Subscribers(domain.Envelope{ToID: "Z"}))

	assert.Equal(t, 1, r.Dropped("c2"))
	assert.Equal(t, 2, r.Dropped("c2"))
	assert.Zero(t, r.Dropped("missing"))

	assert.True(t, r.Cancel("c1"))
	assert.True(t, canceled)
	assert.False(t, r.Cancel("missing"))

	r.Unbind("c2")
	r.Unbind("c2")
	_, ok := r.Get("c2")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{MaxDrops: 3}
	assert.Equal(t, DropFrame, p.OnBackPressure("A", 1))
	assert.Equal(t, DropFrame, p.OnBackPressure("A", 2))
	assert.Equal(t, KickMember, p.OnBackPressure("A", 3))
	assert.Equal(t, DropFrame, SimplePolicy{}.OnBackPressure("A", 100))
	assert.Equal(t, "kick", KickMember.String())
}
