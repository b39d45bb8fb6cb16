package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/MusicParty/internal/adapters/http"
	hub "github.com/dkeye/MusicParty/internal/adapters/signal"
	"github.com/dkeye/MusicParty/internal/adapters/store"
	"github.com/dkeye/MusicParty/internal/app"
	"github.com/dkeye/MusicParty/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Log.ZerologLevel())
	if !cfg.Log.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	envelopes, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open store")
	}
	defer envelopes.Close()
	go prune(ctx, envelopes, cfg.Store)

	h := hub.NewHub(
		envelopes,
		app.NewRegistry(),
		app.SimplePolicy{MaxDrops: 16},
		hub.NewRateLimiter(cfg.Server.PublishLimit, cfg.Server.PublishWindow),
		hub.HubOptions{
			ReadLimit:   cfg.Server.ReadLimit,
			SendBuffer:  cfg.Server.SendBuffer,
			IdleTimeout: 2 * cfg.Server.PingPeriod,
		},
	)

	r := router.SetupRouter(ctx, cfg, h)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("MusicParty relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func prune(ctx context.Context, s *store.Store, cfg config.StoreConfig) {
	if cfg.Retention <= 0 || cfg.PruneEvery <= 0 {
		return
	}
	t := time.NewTicker(cfg.PruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Prune(ctx, time.Now().Add(-cfg.Retention)); err != nil {
				log.Warn().Err(err).Str("module", "store").Msg("prune")
			}
		}
	}
}
