package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/homeflux/homeflux/pkg/actuator"
	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/scheduler"
	"github.com/homeflux/homeflux/pkg/server"
	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	ha := source.Configured()
	act := actuator.Configured(ha)
	db := storage.Configured()
	sched := scheduler.Configured(ha, ha, source.RealClock{}, act, db)

	// init server
	srv := server.Configured(sched, db)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// the scheduler and the API run side by side; either one failing takes
	// the process down
	errChan := make(chan error, 2)
	go func() {
		errChan <- sched.Run(ctx)
	}()
	go func() {
		errChan <- srv.Run(ctx)
	}()

	if err := <-errChan; err != nil && ctx.Err() == nil {
		log.Ctx(ctx).ErrorContext(ctx, "run failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
