package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/dkeye/MusicParty/internal/app/session"
	"github.com/dkeye/MusicParty/internal/core"
)

var errQuit = errors.New("quit")

// driver is the part of session.Manager the REPL needs.
type driver interface {
	Do(ctx context.Context, in session.Intent) error
}

type repl struct {
	m      driver
	tracks core.TrackLibrary
	obs    *printer
	out    io.Writer
	// done ends the loop, the session's Done in practice.
	done  <-chan struct{}
	muted bool
}

type command struct {
	usage string
	run   func(ctx context.Context, r *repl, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"play":    {"play [sec]", cmdPlay},
		"pause":   {"pause [sec]", cmdPause},
		"seek":    {"seek <sec>", cmdSeek},
		"next":    {"next", op(session.OpNext)},
		"prev":    {"prev", op(session.OpPrevious)},
		"pick":    {"pick <n>", cmdPick},
		"shuffle": {"shuffle", cmdShuffle},
		"repeat":  {"repeat", cmdRepeat},
		"mute":    {"mute", cmdMute},
		"chat":    {"chat <text>", cmdChat},
		"send":    {"send <path>", cmdSend},
		"embed":   {"embed <url>", cmdEmbed},
		"tracks":  {"tracks", cmdTracks},
		"ended":   {"ended", op(session.OpEnded)},
		"help":    {"help", cmdHelp},
		"quit":    {"quit", func(context.Context, *repl, []string) error { return errQuit }},
	}
}

func op(o session.Op) func(context.Context, *repl, []string) error {
	return func(ctx context.Context, r *repl, _ []string) error {
		return r.m.Do(ctx, session.Intent{Op: o})
	}
}

func seconds(args []string) (float64, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v < 0 {
		return 0, false, fmt.Errorf("bad position %q", args[0])
	}
	return v, true, nil
}

func cmdPlay(ctx context.Context, r *repl, args []string) error {
	pos, ok, err := seconds(args)
	if err != nil {
		return err
	}
	if ok {
		return r.m.Do(ctx, session.Intent{Op: session.OpPlay, Position: pos})
	}
	if r.obs.playback().IsPlaying {
		return nil
	}
	return r.m.Do(ctx, session.Intent{Op: session.OpTogglePlay})
}

func cmdPause(ctx context.Context, r *repl, args []string) error {
	pos, ok, err := seconds(args)
	if err != nil {
		return err
	}
	if ok {
		return r.m.Do(ctx, session.Intent{Op: session.OpPause, Position: pos})
	}
	if !r.obs.playback().IsPlaying {
		return nil
	}
	return r.m.Do(ctx, session.Intent{Op: session.OpTogglePlay})
}

func cmdSeek(ctx context.Context, r *repl, args []string) error {
	pos, ok, err := seconds(args)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("usage: seek <sec>")
	}
	return r.m.Do(ctx, session.Intent{Op: session.OpSeek, Position: pos})
}

func cmdPick(ctx context.Context, r *repl, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pick <n>")
	}
	n, err := strconv.Atoi(args[0])
	list := r.tracks.List()
	if err != nil || n < 1 || n > len(list) {
		return fmt.Errorf("no track %q", args[0])
	}
	return r.m.Do(ctx, session.Intent{Op: session.OpPlayTrack, TrackID: list[n-1].ID})
}

func cmdShuffle(ctx context.Context, r *repl, _ []string) error {
	return r.m.Do(ctx, session.Intent{Op: session.OpShuffle, On: !r.obs.playback().Shuffle})
}

func cmdRepeat(ctx context.Context, r *repl, _ []string) error {
	return r.m.Do(ctx, session.Intent{Op: session.OpRepeat, On: !r.obs.playback().Repeat})
}

func cmdMute(ctx context.Context, r *repl, _ []string) error {
	if err := r.m.Do(ctx, session.Intent{Op: session.OpMute, On: !r.muted}); err != nil {
		return err
	}
	r.muted = !r.muted
	fmt.Fprintf(r.out, "muted: %t\n", r.muted)
	return nil
}

func cmdChat(ctx context.Context, r *repl, args []string) error {
	return r.m.Do(ctx, session.Intent{Op: session.OpChat, Text: strings.Join(args, " ")})
}

func cmdSend(ctx context.Context, r *repl, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: send <path>")
	}
	return r.m.Do(ctx, session.Intent{Op: session.OpSendFile, Path: args[0]})
}

func cmdEmbed(ctx context.Context, r *repl, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: embed <url>")
	}
	return r.m.Do(ctx, session.Intent{Op: session.OpAddEmbed, URL: args[0]})
}

func cmdTracks(_ context.Context, r *repl, _ []string) error {
	current := r.obs.playback().CurrentTrackID
	list := r.tracks.List()
	if len(list) == 0 {
		fmt.Fprintln(r.out, "no tracks")
	}
	for i, t := range list {
		mark := " "
		if t.ID == current {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s [%s]\n", mark, i+1, t.Name, t.Kind)
	}
	return nil
}

func cmdHelp(_ context.Context, r *repl, _ []string) error {
	for _, name := range []string{
		"play", "pause", "seek", "next", "prev", "pick", "shuffle", "repeat",
		"mute", "chat", "send", "embed", "tracks", "ended", "quit",
	} {
		fmt.Fprintln(r.out, " ", commands[name].usage)
	}
	return nil
}

// exec runs one input line.
func (r *repl) exec(ctx context.Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	return cmd.run(ctx, r, args[1:])
}

// loop reads commands from in until quit, EOF, done or ctx ends.
func (r *repl) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.exec(ctx, strings.TrimSpace(line))
			switch {
			case errors.Is(err, errQuit):
				return errQuit
			case errors.Is(err, session.ErrClosed):
				return nil
			case err != nil:
				fmt.Fprintln(r.out, "error:", err)
			}
		}
	}
}
