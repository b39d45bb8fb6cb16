package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/MusicParty/internal/app/control"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

// memRelay fans envelopes out to matching subscribers.
type memRelay struct {
	mu        sync.Mutex
	subs      map[int]sub
	next      int
	published []domain.Envelope
}

type sub struct {
	filter domain.EnvelopeFilter
	ch     chan domain.Envelope
}

func newMemRelay() *memRelay { return &memRelay{subs: map[int]sub{}} }

func (r *memRelay) Publish(_ context.Context, env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, env)
	for _, s := range r.subs {
		if s.filter.Match(env) {
			s.ch <- env
		}
	}
	return nil
}

func (r *memRelay) Subscribe(_ context.Context, f domain.EnvelopeFilter) (<-chan domain.Envelope, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	ch := make(chan domain.Envelope, 64)
	r.subs[id] = sub{filter: f, ch: ch}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			close(ch)
		})
	}, nil
}

func (r *memRelay) count(kind domain.EnvelopeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.published {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// fakeChannel is one end of an in-process data channel.
type fakeChannel struct {
	label    string
	open     atomic.Bool
	buffered atomic.Uint64
	peer     *fakeChannel
	owner    *fakePC

	mu   sync.Mutex
	text []string
	bin  int
}

func (c *fakeChannel) Label() string          { return c.label }
func (c *fakeChannel) BufferedAmount() uint64 { return c.buffered.Load() }
func (c *fakeChannel) IsOpen() bool           { return c.open.Load() }

func (c *fakeChannel) Close() error {
	c.open.Store(false)
	return nil
}

func (c *fakeChannel) Send(f core.Frame) error {
	if !c.IsOpen() {
		return errors.New("closed")
	}
	c.mu.Lock()
	c.bin++
	c.mu.Unlock()
	c.deliver(true, append([]byte(nil), f...))
	return nil
}

func (c *fakeChannel) SendText(s string) error {
	if !c.IsOpen() {
		return errors.New("closed")
	}
	c.mu.Lock()
	c.text = append(c.text, s)
	c.mu.Unlock()
	c.deliver(false, []byte(s))
	return nil
}

func (c *fakeChannel) deliver(binary bool, data []byte) {
	if c.peer != nil && c.peer.owner != nil {
		c.peer.owner.emit(core.PeerEvent{Kind: core.PeerChannelMessage, Binary: binary, Data: data})
	}
}

func (c *fakeChannel) sentText() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

// fakePC links to a partner and "connects" once the initiator applies the
// answer.
type fakePC struct {
	mu      sync.Mutex
	sink    func(core.PeerEvent)
	partner *fakePC
	channel *fakeChannel
	remote  int
	tracks  int
	closed  atomic.Int32
}

func (p *fakePC) emit(ev core.PeerEvent) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (p *fakePC) Start(_ context.Context, emit func(core.PeerEvent)) error {
	p.mu.Lock()
	p.sink = emit
	p.mu.Unlock()
	return nil
}

func (p *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	p.emit(core.PeerEvent{Kind: core.PeerCandidate, Candidate: webrtc.ICECandidateInit{Candidate: "offerer-host"}})
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	p.emit(core.PeerEvent{Kind: core.PeerCandidate, Candidate: webrtc.ICECandidateInit{Candidate: "answerer-host"}})
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePC) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote++
	p.mu.Unlock()
	if sd.Type == webrtc.SDPTypeAnswer && p.partner != nil {
		p.connect()
	}
	return nil
}

func (p *fakePC) remoteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (p *fakePC) CreateDataChannel(label string) (core.DataChannel, error) {
	p.channel = &fakeChannel{label: label, owner: p}
	return p.channel, nil
}

func (p *fakePC) AddLocalTrack(webrtc.TrackLocal) error {
	p.tracks++
	return nil
}

func (p *fakePC) Close() error {
	p.closed.Add(1)
	return nil
}

func (p *fakePC) connect() {
	local := p.channel
	remote := &fakeChannel{label: local.label, owner: p.partner, peer: local}
	local.peer = remote
	p.partner.channel = remote
	local.open.Store(true)
	remote.open.Store(true)

	p.partner.emit(core.PeerEvent{Kind: core.PeerDataChannel, Channel: remote})
	for _, side := range []*fakePC{p, p.partner} {
		side.emit(core.PeerEvent{Kind: core.PeerStateChange, State: core.ConnConnected})
		side.emit(core.PeerEvent{Kind: core.PeerChannelOpen})
	}
}

type recorder struct {
	core.NopObserver

	mu          sync.Mutex
	states      []domain.SessionState
	failed      []error
	progress    map[domain.Direction][]int
	complete    map[domain.Direction][]domain.Track
	interrupted []error
	added       []domain.Track
	chat        []domain.ChatMessage
}

func newRecorder() *recorder {
	return &recorder{
		progress: map[domain.Direction][]int{},
		complete: map[domain.Direction][]domain.Track{},
	}
}

func (r *recorder) OnConnectionState(s domain.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnConnectionFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) OnTransferProgress(d domain.Direction, pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[d] = append(r.progress[d], pct)
}

func (r *recorder) OnTransferComplete(d domain.Direction, t domain.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete[d] = append(r.complete[d], t)
}

func (r *recorder) OnTransferInterrupted(_ domain.Direction, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = append(r.interrupted, err)
}

func (r *recorder) OnTrackAdded(t domain.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, t)
}

func (r *recorder) OnChat(m domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, m)
}

func (r *recorder) hasState(s domain.SessionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.states {
		if v == s {
			return true
		}
	}
	return false
}

func (r *recorder) progressOf(d domain.Direction) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress[d]...)
}

func (r *recorder) completeOf(d domain.Direction) []domain.Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Track(nil), r.complete[d]...)
}

func encode(m control.Message) []byte {
	s, err := control.Encode(m)
	if err != nil {
		panic(err)
	}
	return []byte(s)
}
