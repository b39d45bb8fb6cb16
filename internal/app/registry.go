package app

import (
	"context"
	"sync"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConnID identifies one relay websocket. A peer may hold several.
type ConnID string

type connEntry struct {
	Conn   core.RelayConn
	Cancel context.CancelFunc
	Drops  int
}

type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*connEntry),
	}
}

func (r *Registry) Bind(id ConnID, conn core.RelayConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "registry").Str("conn", string(id)).Str("peer", string(conn.Peer())).Msg("bound relay conn")
}

func (r *Registry) Get(id ConnID) (core.RelayConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Unbind(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	log.Info().Str("module", "registry").Str("conn", string(id)).Msg("unbind relay conn")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

type regSnap struct {
	ID   ConnID
	Conn core.RelayConn
}

// Subscribers returns the connections that want env.
func (r *Registry) Subscribers(env domain.Envelope) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, 2)
	for id, e := range r.conns {
		if e.Conn.Wants(env) {
			out = append(out, regSnap{ID: id, Conn: e.Conn})
		}
	}
	return out
}

// Dropped counts a frame lost to backpressure and returns the running total.
func (r *Registry) Dropped(id ConnID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return 0
	}
	e.Drops++
	return e.Drops
}

func (r *Registry) Cancel(id ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "registry").Str("conn", string(id)).Msg("canceled relay conn")
	return true
}
