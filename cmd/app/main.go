package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/3eLLenKa/reviewdesk/internal/app"
	"github.com/3eLLenKa/reviewdesk/internal/config"
	"github.com/3eLLenKa/reviewdesk/internal/logger"
)

func main() {
	cfg := config.MustLoad()

	log := logger.New(cfg.App.LogLevel)

	application := app.NewApp(cfg, log)
	application.StartDispatcher()

	go func() {
		application.Server.Run()
	}()

	log.Info("application started", slog.String("addr", application.Server.Addr()), slog.String("storage", cfg.Database.Driver))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	application.Stop(ctx)
	log.Info("application stopped")
}
