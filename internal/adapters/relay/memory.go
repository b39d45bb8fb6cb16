package relay

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

// MemoryOption tunes delivery faults of the in-process relay.
type MemoryOption func(*Memory)

// WithDuplicates delivers every envelope twice.
func WithDuplicates() MemoryOption {
	return func(m *Memory) { m.dup = true }
}

// WithShuffle reorders pending envelopes of each subscriber.
func WithShuffle(r *rand.Rand) MemoryOption {
	return func(m *Memory) { m.rnd = r }
}

// Memory is an in-process relay. It keeps every envelope so subscribers
// with Since see what was published before they joined.
type Memory struct {
	mu      sync.Mutex
	history []domain.Envelope
	subs    map[*memSub]struct{}
	dup     bool
	rnd     *rand.Rand
	now     func() time.Time
}

var _ core.Relay = (*Memory)(nil)

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{subs: make(map[*memSub]struct{}), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Publish(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = m.now()
	}
	m.history = append(m.history, env)
	for s := range m.subs {
		if s.filter.Match(env) {
			m.enqueue(s, env)
		}
	}
	log.Debug().Str("module", "relay").Str("kind", string(env.Kind)).Str("to", string(env.ToID)).Msg("memory publish")
	return nil
}

// enqueue must hold m.mu.
func (m *Memory) enqueue(s *memSub, env domain.Envelope) {
	n := 1
	if m.dup {
		n = 2
	}
	for i := 0; i < n; i++ {
		var at int
		if m.rnd != nil {
			at = m.rnd.IntN(s.pendingLen() + 1)
		} else {
			at = -1
		}
		s.push(env, at)
	}
}

func (m *Memory) Subscribe(ctx context.Context, f domain.EnvelopeFilter) (<-chan domain.Envelope, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &memSub{
		filter: f,
		out:    make(chan domain.Envelope),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	for _, env := range m.history {
		if f.Match(env) && (f.Since.IsZero() || env.CreatedAt.After(f.Since)) {
			m.enqueue(s, env)
		}
	}
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	go s.pump(ctx)

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, s)
		m.mu.Unlock()
		s.stop()
	}
	return s.out, cancel, nil
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Envelope(nil), m.history...)
}

type memSub struct {
	filter domain.EnvelopeFilter
	out    chan domain.Envelope
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending []domain.Envelope
	stopped sync.Once
}

func (s *memSub) stop() {
	s.stopped.Do(func() { close(s.done) })
}

func (s *memSub) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// push inserts at index at, or appends when at is negative.
func (s *memSub) push(env domain.Envelope, at int) {
	s.mu.Lock()
	if at < 0 || at >= len(s.pending) {
		s.pending = append(s.pending, env)
	} else {
		s.pending = append(s.pending, domain.Envelope{})
		copy(s.pending[at+1:], s.pending[at:])
		s.pending[at] = env
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memSub) pop() (domain.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return domain.Envelope{}, false
	}
	env := s.pending[0]
	s.pending = s.pending[1:]
	return env, true
}

func (s *memSub) pump(ctx context.Context) {
	defer close(s.out)
	for {
		env, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.out <- env:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
