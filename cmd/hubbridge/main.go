package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hubbridge/hubbridge/pkg/controller"
	"github.com/hubbridge/hubbridge/pkg/ihost"
	"github.com/hubbridge/hubbridge/pkg/log"
	"github.com/hubbridge/hubbridge/pkg/riot"
	"github.com/hubbridge/hubbridge/pkg/server"
	"github.com/hubbridge/hubbridge/pkg/storage"

	"github.com/levenlabs/go-lflag"
)

func main() {
	// init packages
	p := riot.NewPortal()
	h := ihost.Configured()
	db := storage.Configured()
	ctrl := controller.New(db, p, h)

	// init server
	srv := server.Configured(db, p, h, ctrl)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level := log.ConfiguredLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// the bridge cycle runs independently of the HTTP surface
	go ctrl.Run(ctx)

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
