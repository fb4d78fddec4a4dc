package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RoseWrightdev/Parlor/internal/v1/chat"
	"github.com/RoseWrightdev/Parlor/internal/v1/config"
	"github.com/RoseWrightdev/Parlor/internal/v1/listener"
	"github.com/RoseWrightdev/Parlor/internal/v1/logging"
	"github.com/RoseWrightdev/Parlor/internal/v1/ops"
	"github.com/RoseWrightdev/Parlor/internal/v1/tracing"
)

// handoffDepth is the capacity of the listener-to-engine channel. The
// engine drains it every tick, so the buffer only smooths accept bursts.
const handoffDepth = 32

func main() {
	if err := run(); err != nil {
		slog.Error("parlord exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file for local development. Absence is fine; production
	// sets real environment variables.
	if err := godotenv.Load(".env"); err == nil {
		slog.Info("Loaded environment from", "path", ".env")
	}

	cfg, err := config.Load(os.Getenv("PARLORD_CONFIG"))
	if err != nil {
		return err
	}

	if err := logging.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync()

	// A first signal cancels ctx for a graceful shutdown; a second one
	// restores default handling and kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "parlord")
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logging.Error(ctx, "tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := writePidFile(cfg.PidFile); err != nil {
		return err
	}
	defer removePidFile(ctx, cfg.PidFile)

	handoff := make(chan *chat.User, handoffDepth)
	engine := chat.NewEngine(chat.Params{
		LobbyName:      cfg.LobbyName,
		Welcome:        cfg.Welcome,
		MinTick:        cfg.MinTick(),
		BlackoutToPing: cfg.BlackoutToPing(),
		BlackoutToKick: cfg.BlackoutToKick(),
		MaxUserNameLen: cfg.MaxUserNameLength,
		MaxRoomNameLen: cfg.MaxRoomNameLength,
		ByteLimit:      cfg.ByteLimit,
		BytesPerTick:   cfg.BytesPerTick,
	}, handoff)

	lst, err := listener.New(cfg, handoff)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return lst.Run(gctx) })

	if cfg.OpsAddress != "" {
		srv, err := ops.New(cfg, engine, lst)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	} else {
		logging.Info(ctx, "ops surface disabled, no ops_address configured")
	}

	logging.Info(ctx, "parlord running",
		zap.String("addr", lst.Addr().String()),
		zap.Int("pid", os.Getpid()))

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info(ctx, "parlord exited cleanly")
	return nil
}

// writePidFile records the daemon's pid for init scripts and tooling.
func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file %s: %w", path, err)
	}
	return nil
}

func removePidFile(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		logging.Warn(ctx, "could not remove pid file",
			zap.String("path", path), zap.Error(err))
	}
}
