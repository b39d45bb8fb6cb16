package playback

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicParty/internal/app/control"
	"github.com/dkeye/MusicParty/internal/domain"
)

type fakePlayer struct {
	calls    []string
	pos      float64
	pauseErr error
}

func (p *fakePlayer) Load(t domain.Track) error {
	p.calls = append(p.calls, "load:"+t.ID)
	p.pos = 0
	return nil
}

func (p *fakePlayer) Play(pos float64) error {
	p.calls = append(p.calls, fmt.Sprintf("play:%g", pos))
	p.pos = pos
	return nil
}

func (p *fakePlayer) Pause(pos float64) error {
	p.calls = append(p.calls, fmt.Sprintf("pause:%g", pos))
	p.pos = pos
	return p.pauseErr
}

func (p *fakePlayer) Seek(pos float64) error {
	p.calls = append(p.calls, fmt.Sprintf("seek:%g", pos))
	p.pos = pos
	return nil
}

func (p *fakePlayer) Position() float64 { return p.pos }

type fakeLibrary struct {
	tracks []domain.Track
}

func (l *fakeLibrary) Add(t domain.Track) domain.Track {
	l.tracks = append(l.tracks, t)
	return t
}

func (l *fakeLibrary) AddShared(id, name, mime string, _ []byte) (domain.Track, error) {
	return l.Add(domain.Track{ID: id, Name: name, MIME: mime, Kind: domain.TrackShared}), nil
}

func (l *fakeLibrary) Get(id string) (domain.Track, bool) {
	if i := l.Index(id); i >= 0 {
		return l.tracks[i], true
	}
	return domain.Track{}, false
}

func (l *fakeLibrary) List() []domain.Track { return append([]domain.Track(nil), l.tracks...) }

func (l *fakeLibrary) Index(id string) int {
	for i, t := range l.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

type harness struct {
	sync   *Sync
	player *fakePlayer
	lib    *fakeLibrary
	sent   []control.Message
	states []domain.PlaybackState
}

func newHarness(t *testing.T, n int, opts ...Option) *harness {
	t.Helper()
	h := &harness{player: &fakePlayer{}, lib: &fakeLibrary{}}
	for i := 0; i < n; i++ {
		h.lib.Add(domain.Track{ID: fmt.Sprintf("t%d", i), Kind: domain.TrackShared})
	}
	opts = append(opts, WithNotify(func(st domain.PlaybackState) { h.states = append(h.states, st) }))
	h.sync = New(h.player, h.lib, func(m control.Message) { h.sent = append(h.sent, m) }, opts...)
	return h
}

func (h *harness) load(t *testing.T, id string) {
	t.Helper()
	tr, ok := h.lib.Get(id)
	require.True(t, ok)
	require.NoError(t, h.sync.Load(tr))
	h.player.calls = nil
	h.sent = nil
}

func TestRemotePlayInLoadedDoesNotEcho(t *testing.T) {
	h := newHarness(t, 1)
	h.load(t, "t0")
	require.Equal(t, domain.PhaseLoaded, h.sync.Phase())

	require.NoError(t, h.sync.ApplyRemote(control.Play{Position: 42}))
	assert.Equal(t, []string{"play:42"}, h.player.calls)
	assert.Equal(t, domain.PhasePlaying, h.sync.Phase())
	assert.Equal(t, 42.0, h.sync.State().PositionSeconds)
	assert.Empty(t, h.sent)
}

func TestRemotePauseAndSeekDoNotEcho(t *testing.T) {
	h := newHarness(t, 1)
	h.load(t, "t0")

	require.NoError(t, h.sync.ApplyRemote(control.Seek{Position: 10}))
	require.NoError(t, h.sync.ApplyRemote(control.Play{Position: 10}))
	require.NoError(t, h.sync.ApplyRemote(control.Pause{Position: 12.5}))
	require.NoError(t, h.sync.ApplyRemote(control.Chat{Text: "hi"}))

	assert.Equal(t, []string{"seek:10", "play:10", "pause:12.5"}, h.player.calls)
	assert.Equal(t, domain.PhaseLoaded, h.sync.Phase())
	assert.Empty(t, h.sent)
}

func TestRemotePlaySwitchesTrack(t *testing.T) {
	h := newHarness(t, 2)
	h.load(t, "t0")

	require.NoError(t, h.sync.ApplyRemote(control.Play{Position: 0, TrackID: "t1"}))
	assert.Equal(t, []string{"load:t1", "play:0"}, h.player.calls)
	assert.Equal(t, "t1", h.sync.State().CurrentTrackID)
	assert.Empty(t, h.sent)
}

func TestRemotePlayWithoutTrack(t *testing.T) {
	h := newHarness(t, 0)
	require.ErrorIs(t, h.sync.ApplyRemote(control.Play{Position: 1}), ErrNoTrack)
	assert.Empty(t, h.player.calls)
}

func TestLocalIntentsEffectThenEmit(t *testing.T) {
	h := newHarness(t, 1)
	h.load(t, "t0")

	require.NoError(t, h.sync.Play(3))
	require.NoError(t, h.sync.Seek(30))
	require.NoError(t, h.sync.Pause(31))

	assert.Equal(t, []string{"play:3", "seek:30", "pause:31"}, h.player.calls)
	assert.Equal(t, []control.Message{
		control.Play{Position: 3},
		control.Seek{Position: 30},
		control.Pause{Position: 31},
	}, h.sent)
}

func TestLocalIntentWithoutTrackEmitsNothing(t *testing.T) {
	h := newHarness(t, 0)
	require.ErrorIs(t, h.sync.Play(0), ErrNoTrack)
	require.ErrorIs(t, h.sync.TogglePlay(), ErrNoTrack)
	assert.Empty(t, h.sent)
}

func TestLoadSelectsWithoutPlaying(t *testing.T) {
	h := newHarness(t, 1)
	tr, _ := h.lib.Get("t0")
	require.NoError(t, h.sync.Load(tr))

	assert.Equal(t, []string{"load:t0"}, h.player.calls)
	assert.Equal(t, domain.PhaseLoaded, h.sync.Phase())
	assert.Empty(t, h.sent)
	require.NotEmpty(t, h.states)
	assert.Equal(t, "t0", h.states[len(h.states)-1].CurrentTrackID)
}

func TestPlayTrackCurrentToggles(t *testing.T) {
	h := newHarness(t, 2)
	h.load(t, "t0")

	require.NoError(t, h.sync.PlayTrack("t0"))
	assert.Equal(t, domain.PhasePlaying, h.sync.Phase())
	require.NoError(t, h.sync.PlayTrack("t0"))
	assert.Equal(t, domain.PhaseLoaded, h.sync.Phase())
	assert.Equal(t, []string{"play:0", "pause:0"}, h.player.calls)

	require.NoError(t, h.sync.PlayTrack("t1"))
	assert.Equal(t, control.Play{Position: 0, TrackID: "t1"}, h.sent[len(h.sent)-1])

	require.ErrorIs(t, h.sync.PlayTrack("nope"), ErrUnknownTrack)
}

func TestNextWrapsAround(t *testing.T) {
	h := newHarness(t, 3)
	h.load(t, "t2")

	require.NoError(t, h.sync.Next())
	assert.Equal(t, "t0", h.sync.State().CurrentTrackID)
	assert.Equal(t, []string{"load:t0", "play:0"}, h.player.calls)
	assert.Equal(t, []control.Message{control.Play{Position: 0, TrackID: "t0"}}, h.sent)
	assert.Equal(t, domain.PhasePlaying, h.sync.Phase())
}

func TestPreviousWrapsAround(t *testing.T) {
	h := newHarness(t, 3)
	h.load(t, "t0")

	require.NoError(t, h.sync.Previous())
	assert.Equal(t, "t2", h.sync.State().CurrentTrackID)
	require.NoError(t, h.sync.Previous())
	assert.Equal(t, "t1", h.sync.State().CurrentTrackID)
}

func TestNextFromIdleStartsAtFirst(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.sync.Next())
	assert.Equal(t, "t0", h.sync.State().CurrentTrackID)

	empty := newHarness(t, 0)
	require.ErrorIs(t, empty.sync.Next(), ErrEmptyList)
	require.ErrorIs(t, empty.sync.Previous(), ErrEmptyList)
}

func TestShuffleUsesInjectedIndex(t *testing.T) {
	var asked []int
	h := newHarness(t, 3, WithRand(func(n int) int {
		asked = append(asked, n)
		return 1
	}))
	h.load(t, "t2")
	h.sync.SetShuffle(true)

	require.NoError(t, h.sync.Next())
	assert.Equal(t, []int{3}, asked)
	assert.Equal(t, "t1", h.sync.State().CurrentTrackID)
}

func TestShuffleIsUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	h := newHarness(t, 3, WithRand(rng.IntN))
	h.load(t, "t2")
	h.sync.SetShuffle(true)

	counts := map[string]int{}
	const rounds = 3000
	for i := 0; i < rounds; i++ {
		require.NoError(t, h.sync.Next())
		counts[h.sync.State().CurrentTrackID]++
	}
	require.Len(t, counts, 3)
	for id, c := range counts {
		assert.InDelta(t, rounds/3, c, 150, id)
	}
}

func TestEndedWithRepeatRestartsLocally(t *testing.T) {
	h := newHarness(t, 2)
	h.load(t, "t0")
	h.sync.SetRepeat(true)
	require.NoError(t, h.sync.ApplyRemote(control.Play{Position: 100}))
	h.player.calls = nil

	require.NoError(t, h.sync.Ended())
	assert.Equal(t, []string{"play:0"}, h.player.calls)
	assert.Equal(t, "t0", h.sync.State().CurrentTrackID)
	assert.Empty(t, h.sent)
}

func TestEndedWithoutRepeatAdvances(t *testing.T) {
	h := newHarness(t, 2)
	h.load(t, "t1")

	require.NoError(t, h.sync.Ended())
	assert.Equal(t, "t0", h.sync.State().CurrentTrackID)
	assert.Equal(t, []control.Message{control.Play{Position: 0, TrackID: "t0"}}, h.sent)

	idle := newHarness(t, 2)
	require.ErrorIs(t, idle.sync.Ended(), ErrNoTrack)
}

func TestClockPosition(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewClock(nil)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Load(domain.Track{ID: "a"}))
	require.NoError(t, c.Play(5))
	now = now.Add(2 * time.Second)
	assert.InDelta(t, 7.0, c.Position(), 1e-9)

	require.NoError(t, c.Pause(7))
	now = now.Add(time.Minute)
	assert.InDelta(t, 7.0, c.Position(), 1e-9)

	require.NoError(t, c.Seek(-3))
	assert.Zero(t, c.Position())
}

func TestClockFiresEnded(t *testing.T) {
	ended := make(chan string, 1)
	c := NewClock(func(id string) { ended <- id })

	require.NoError(t, c.Load(domain.Track{ID: "short", Duration: 0.05}))
	require.NoError(t, c.Play(0))

	select {
	case id := <-ended:
		assert.Equal(t, "short", id)
	case <-time.After(2 * time.Second):
		t.Fatal("ended not reported")
	}
	assert.InDelta(t, 0.05, c.Position(), 1e-9)
}

func TestClockPauseCancelsEnded(t *testing.T) {
	ended := make(chan string, 1)
	c := NewClock(func(id string) { ended <- id })

	require.NoError(t, c.Load(domain.Track{ID: "a", Duration: 0.05}))
	require.NoError(t, c.Play(0))
	require.NoError(t, c.Pause(0))

	select {
	case <-ended:
		t.Fatal("ended after pause")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRouterDispatchesByKind(t *testing.T) {
	media, embed := &fakePlayer{}, &fakePlayer{}
	r := NewRouter(media, embed)

	require.NoError(t, r.Load(domain.Track{ID: "yt", Kind: domain.TrackEmbed}))
	require.NoError(t, r.Play(4))
	require.NoError(t, r.Load(domain.Track{ID: "f", Kind: domain.TrackShared}))
	require.NoError(t, r.Seek(2))

	assert.Equal(t, []string{"load:yt", "play:4", "pause:4"}, embed.calls)
	assert.Equal(t, []string{"pause:0", "load:f", "seek:2"}, media.calls)
}

func TestRouterSwitchesEvenWhenOldBackendFailsToPause(t *testing.T) {
	media, embed := &fakePlayer{}, &fakePlayer{pauseErr: errors.New("player gone")}
	r := NewRouter(media, embed)

	require.NoError(t, r.Load(domain.Track{ID: "yt", Kind: domain.TrackEmbed}))
	require.NoError(t, r.Load(domain.Track{ID: "f", Kind: domain.TrackShared}))
	require.NoError(t, r.Play(1))

	assert.Equal(t, []string{"load:yt", "pause:0"}, embed.calls)
	assert.Equal(t, []string{"pause:0", "load:f", "play:1"}, media.calls)
}
