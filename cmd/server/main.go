package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docconnect/videocall/internal/config"
	"github.com/docconnect/videocall/internal/logging"
	"github.com/docconnect/videocall/internal/server"
	"github.com/docconnect/videocall/internal/signaling"
	"github.com/docconnect/videocall/internal/version"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoadServer()
	log := logging.Setup(cfg.Env, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := signaling.NewHub(signaling.HubConfig{RoomCapacity: cfg.Signaling.RoomCapacity}, log)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: server.NewRouter(server.NewHandlers(hub, cfg, log)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting signaling server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("env", cfg.Env),
			slog.String("version", version.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("http server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.Any("error", err))
	}
	stop()
	<-hubDone
}
