package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicParty/internal/app/library"
	"github.com/dkeye/MusicParty/internal/app/session"
	"github.com/dkeye/MusicParty/internal/domain"
)

type fakeDriver struct {
	intents []session.Intent
	err     error
}

func (d *fakeDriver) Do(_ context.Context, in session.Intent) error {
	d.intents = append(d.intents, in)
	return d.err
}

func newTestRepl() (*repl, *fakeDriver, *bytes.Buffer) {
	d := &fakeDriver{}
	out := &bytes.Buffer{}
	lib := library.New("", nil)
	lib.Add(domain.Track{ID: "t1", Name: "one", Kind: domain.TrackLocal})
	lib.Add(domain.Track{ID: "t2", Name: "two", Kind: domain.TrackShared})
	return &repl{m: d, tracks: lib, obs: newPrinter(&bytes.Buffer{}, ""), out: out}, d, out
}

func TestReplCommands(t *testing.T) {
	r, d, _ := newTestRepl()
	ctx := context.Background()

	for _, line := range []string{
		"play 12.5",
		"seek 30",
		"pick 2",
		`chat "hello there" friend`,
		"send '/tmp/my song.ogg'",
		"embed https://youtu.be/dQw4w9WgXcQ",
		"shuffle",
		"next",
		"",
	} {
		require.NoError(t, r.exec(ctx, line), line)
	}

	require.Len(t, d.intents, 8)
	assert.Equal(t, session.Intent{Op: session.OpPlay, Position: 12.5}, d.intents[0])
	assert.Equal(t, session.Intent{Op: session.OpSeek, Position: 30}, d.intents[1])
	assert.Equal(t, session.Intent{Op: session.OpPlayTrack, TrackID: "t2"}, d.intents[2])
	assert.Equal(t, "hello there friend", d.intents[3].Text)
	assert.Equal(t, "/tmp/my song.ogg", d.intents[4].Path)
	assert.Equal(t, session.OpAddEmbed, d.intents[5].Op)
	assert.Equal(t, session.Intent{Op: session.OpShuffle, On: true}, d.intents[6])
	assert.Equal(t, session.OpNext, d.intents[7].Op)
}

func TestReplPlayPauseFollowState(t *testing.T) {
	r, d, _ := newTestRepl()
	ctx := context.Background()

	require.NoError(t, r.exec(ctx, "pause"))
	assert.Empty(t, d.intents, "pause while stopped does nothing")
	require.NoError(t, r.exec(ctx, "play"))
	require.Len(t, d.intents, 1)
	assert.Equal(t, session.OpTogglePlay, d.intents[0].Op)

	r.obs.OnPlayback(domain.PlaybackState{CurrentTrackID: "t1", IsPlaying: true})
	require.NoError(t, r.exec(ctx, "play"))
	assert.Len(t, d.intents, 1)
	require.NoError(t, r.exec(ctx, "pause"))
	assert.Len(t, d.intents, 2)
}

func TestReplErrors(t *testing.T) {
	r, d, _ := newTestRepl()
	ctx := context.Background()

	assert.Error(t, r.exec(ctx, "dance"))
	assert.Error(t, r.exec(ctx, "seek"))
	assert.Error(t, r.exec(ctx, "seek -3"))
	assert.Error(t, r.exec(ctx, "pick 9"))
	assert.Error(t, r.exec(ctx, `chat "unterminated`))
	assert.ErrorIs(t, r.exec(ctx, "quit"), errQuit)
	assert.Empty(t, d.intents)
}

func TestReplMuteTogglesOnSuccess(t *testing.T) {
	r, d, out := newTestRepl()
	ctx := context.Background()
	require.NoError(t, r.exec(ctx, "mute"))
	require.NoError(t, r.exec(ctx, "mute"))
	assert.Equal(t, []bool{true, false}, []bool{d.intents[0].On, d.intents[1].On})
	assert.Contains(t, out.String(), "muted: false")

	d.err = session.ErrNoMedia
	require.ErrorIs(t, r.exec(ctx, "mute"), session.ErrNoMedia)
	assert.False(t, r.muted)
}

func TestReplLoop(t *testing.T) {
	r, d, out := newTestRepl()
	in := strings.NewReader("tracks\nbogus\nnext\nquit\nnext\n")
	err := r.loop(context.Background(), in)
	require.ErrorIs(t, err, errQuit)
	assert.Len(t, d.intents, 1)
	assert.Contains(t, out.String(), "1. one [local]")
	assert.Contains(t, out.String(), "error: unknown command")
}

func TestReplLoopStopsWhenSessionCloses(t *testing.T) {
	r, d, _ := newTestRepl()
	d.err = session.ErrClosed
	err := r.loop(context.Background(), strings.NewReader("next\nnext\n"))
	require.NoError(t, err)
	assert.Len(t, d.intents, 1)
}
