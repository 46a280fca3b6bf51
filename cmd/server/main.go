package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/secureera/secureera/internal/config"
	"github.com/secureera/secureera/internal/logging"
	"github.com/secureera/secureera/internal/relay"
	"github.com/secureera/secureera/internal/rooms"
	"github.com/secureera/secureera/internal/version"
)

func main() {
	logger := logging.Init(slog.LevelInfo)

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := rooms.NewRegistry(
		rooms.WithMaxMembers(cfg.MaxUsersPerRoom),
		rooms.WithTimeout(cfg.RoomTimeout),
		rooms.WithLogger(logger),
	)
	hub := relay.NewHub(registry, relay.NewConnections(), logger)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: relay.NewRouter(hub, cfg.CORSOrigin),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("signaling server listening",
			"addr", srv.Addr,
			"version", version.Version,
			"origins", cfg.CORSOrigin,
			"max_users_per_room", cfg.MaxUsersPerRoom,
			"room_timeout", cfg.RoomTimeout,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		registry.RunSweeper(gctx, cfg.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
