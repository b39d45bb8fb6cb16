package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/MusicParty/internal/adapters/relay"
	"github.com/dkeye/MusicParty/internal/adapters/rtc"
	"github.com/dkeye/MusicParty/internal/app/embed"
	"github.com/dkeye/MusicParty/internal/app/library"
	"github.com/dkeye/MusicParty/internal/app/session"
	"github.com/dkeye/MusicParty/internal/app/transfer"
	"github.com/dkeye/MusicParty/internal/config"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

func callCmd() *cobra.Command {
	var (
		id, peer, role, media, relayURL string
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Open a session with a peer through the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if media != "" {
				cfg.Media.File = media
			}
			if relayURL != "" {
				cfg.Relay.URL = relayURL
			}
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			local, err := domain.ParsePeerID(id)
			if err != nil {
				return fmt.Errorf("--id: %w", err)
			}
			remote, err := domain.ParsePeerID(peer)
			if err != nil {
				return fmt.Errorf("--peer: %w", err)
			}
			return call(cmd.Context(), cfg, r, local, remote)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "local peer id")
	cmd.Flags().StringVar(&peer, "peer", "", "remote peer id")
	cmd.Flags().StringVar(&role, "role", "initiator", "initiator or responder")
	cmd.Flags().StringVar(&media, "media", "", "Ogg/Opus file to stream as voice (silence when empty)")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket url, overrides relay.url")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func call(ctx context.Context, cfg *config.Config, role domain.Role, local, remote domain.PeerID) error {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Relay.DialTimeout)
	defer cancel()
	client, err := relay.Dial(dialCtx, cfg.Relay.URL, local, relay.Options{PingPeriod: cfg.Server.PingPeriod})
	if err != nil {
		return err
	}
	defer client.Close()

	obs := newPrinter(os.Stdout, "")
	m, lib, err := open(ctx, cfg, client, obs, role, local, remote)
	if err != nil {
		return err
	}
	fmt.Printf("session %s -> %s as %s, type help for commands\n", local, remote, role)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.Run(gctx)
		return nil
	})
	g.Go(func() error {
		r := &repl{m: m, tracks: lib, obs: obs, out: os.Stdout, done: m.Done()}
		err := r.loop(gctx, os.Stdin)
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = m.Close(closeCtx)
		return err
	})
	g.Go(func() error {
		select {
		case <-client.Done():
			return errors.New("relay connection lost")
		case <-m.Done():
			return nil
		}
	})
	err = g.Wait()
	if s := m.Session(); s.State == domain.StateFailed {
		return session.ErrConnectionFailed
	}
	return err
}

// open wires the pion adapters, the track library and the embed controller
// into a session.
func open(
	ctx context.Context,
	cfg *config.Config,
	r core.Relay,
	obs core.Observer,
	role domain.Role,
	local, remote domain.PeerID,
) (*session.Manager, *library.Library, error) {
	factory, err := rtc.NewFactory(rtc.Options{
		ICEServers:      cfg.ICE.ICEServers(),
		IncludeLoopback: cfg.ICE.Loopback,
	})
	if err != nil {
		return nil, nil, err
	}
	lib := library.New(cfg.Library.SpoolDir, rtc.ProbeDuration)
	ctrl := embed.NewController(&embed.LogDriver{})
	ctrl.MarkReady()

	mediaFile := cfg.Media.File
	m, err := session.Open(ctx, session.Config{
		Role:            role,
		LocalID:         local,
		PeerID:          remote,
		Strict:          cfg.Transfer.Strict,
		MaxReceiveBytes: cfg.Transfer.MaxBytes,
		Transfer: transfer.Options{
			ChunkSize:     cfg.Transfer.ChunkSize,
			HighWaterMark: cfg.Transfer.HighWaterMark,
			PollInterval:  cfg.Transfer.PollInterval,
		},
		ReplayWindow: cfg.Relay.ReplayWindow,
	}, session.Deps{
		Relay: r,
		Peers: factory.New,
		Acquire: func() (core.MediaSource, error) {
			src, err := rtc.OpenAudio(mediaFile)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		Sink:     rtc.SinkFactory(cfg.Media.RecordDir),
		Embed:    ctrl,
		Tracks:   lib,
		Observer: obs,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("module", "party").Str("local", string(local)).Msg("session ready")
	return m, lib, nil
}
