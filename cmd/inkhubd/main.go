// Command inkhubd runs the inkhub collaboration backend: WebSocket document
// sync, asset uploads, link unfurling and retention sweeping in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkhub/inkhub/internal/api"
	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/gateway"
	xlog "github.com/inkhub/inkhub/internal/log"
	"github.com/inkhub/inkhub/internal/platform/httpx"
	"github.com/inkhub/inkhub/internal/room"
	"github.com/inkhub/inkhub/internal/store"
	"github.com/inkhub/inkhub/internal/sweeper"
	"github.com/inkhub/inkhub/internal/unfurl"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("inkhubd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{Service: "inkhub", Version: version})
	logger := xlog.WithComponent("daemon")

	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.RoomsDir, cfg.AssetsDir)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.store_init_failed").Msg("failed to initialize store")
	}

	engine := room.NewEngine(cfg, st)
	resolver := unfurl.NewResolver(httpx.NewPublicOnlyClient(cfg.UnfurlTimeout))
	gw := gateway.New(engine, cfg)
	server := api.New(cfg, engine, st, resolver, gw)
	sw := sweeper.New(cfg, st, engine)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "daemon.starting").
		Int("port", cfg.Port).
		Str("rooms_dir", cfg.RoomsDir).
		Str("assets_dir", cfg.AssetsDir).
		Bool("cleanup_enabled", cfg.CleanupEnabled).
		Msg("starting inkhubd")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sw.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "daemon.stopping").Msg("shutdown signal received")

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop accepting traffic first, then close rooms with their
		// terminal flushes.
		if err := httpServer.Shutdown(shutCtx); err != nil {
			logger.Warn().Err(err).Str("event", "daemon.http_shutdown_failed").Msg("http shutdown incomplete")
		}
		engine.Shutdown(shutCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}
