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

	router "github.com/probelab/scoutrelay/internal/adapters/http"
	"github.com/probelab/scoutrelay/internal/app"
	"github.com/probelab/scoutrelay/internal/bridge"
	"github.com/probelab/scoutrelay/internal/config"
	"github.com/probelab/scoutrelay/internal/queue"
	"github.com/probelab/scoutrelay/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	sessionStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer sessionStore.Close()

	jobQueue := queue.NewRedisQueue(cfg.RedisAddr, cfg.QueuePrefix)
	defer jobQueue.Close()

	dial := bridge.NewDialer(bridge.Config{
		Model:        cfg.AI.Model,
		APIKey:       cfg.APIKey(),
		TriggerToken: cfg.AI.TriggerToken,
		OpenWait:     cfg.AI.OpenWait,
	})

	coord := app.NewCoordinator(sessionStore, jobQueue, dial)
	coord.SetSnapshotTimeout(cfg.SnapshotTimeout)

	r := router.SetupRouter(ctx, cfg, coord, sessionStore)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
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
