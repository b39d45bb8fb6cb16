package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/MusicParty/internal/adapters/relay"
	"github.com/dkeye/MusicParty/internal/app/session"
	"github.com/dkeye/MusicParty/internal/config"
	"github.com/dkeye/MusicParty/internal/domain"
)

func demoCmd() *cobra.Command {
	var (
		file    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run two peers in-process and share a file between them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// both peers share this host
			cfg.ICE.Loopback = true
			cfg.Media.File = ""
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return demo(ctx, cfg, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to send from alice to bob")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "give up after")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func demo(ctx context.Context, cfg *config.Config, file string) error {
	seed := uint64(time.Now().UnixNano())
	hub := relay.NewMemory(relay.WithDuplicates(), relay.WithShuffle(rand.New(rand.NewPCG(seed, seed>>1))))

	aliceObs := newPrinter(os.Stdout, "[alice] ")
	bobObs := newPrinter(os.Stdout, "[bob]   ")
	alice, _, err := open(ctx, cfg, hub, aliceObs, domain.Initiator, "alice", "bob")
	if err != nil {
		return err
	}
	bob, _, err := open(ctx, cfg, hub, bobObs, domain.Responder, "bob", "alice")
	if err != nil {
		_ = alice.Close(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { alice.Run(gctx); return nil })
	g.Go(func() error { bob.Run(gctx); return nil })
	g.Go(func() error {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = alice.Close(closeCtx)
			_ = bob.Close(closeCtx)
		}()
		for _, p := range []*printer{aliceObs, bobObs} {
			select {
			case <-p.connected:
			case <-gctx.Done():
				return fmt.Errorf("peers did not connect: %w", gctx.Err())
			}
		}
		if err := alice.Do(gctx, session.Intent{Op: session.OpSendFile, Path: file}); err != nil {
			return err
		}
		var got domain.Track
		select {
		case got = <-bobObs.complete:
		case <-gctx.Done():
			return fmt.Errorf("transfer did not finish: %w", gctx.Err())
		}
		if err := bob.Do(gctx, session.Intent{Op: session.OpChat, Text: "got " + got.Name}); err != nil {
			return err
		}
		if err := alice.Do(gctx, session.Intent{Op: session.OpPlayTrack, TrackID: got.ID}); err != nil {
			return err
		}
		// let the play command reach bob
		time.Sleep(500 * time.Millisecond)
		fmt.Printf("demo done: %q (%s) shared\n", got.Name, got.ID)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, session.ErrClosed) {
		return err
	}
	return nil
}
