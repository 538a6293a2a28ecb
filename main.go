package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fetchbot/api"
	"fetchbot/config"
	"fetchbot/delivery"
	"fetchbot/logging"
	"fetchbot/media"
	"fetchbot/progress"
	"fetchbot/store"
	"fetchbot/task"
	"fetchbot/telegram"
	"fetchbot/ytdlp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(cfg))

	backend, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	runner, err := ytdlp.NewRunner(cfg)
	if err != nil {
		return err
	}

	bot, err := telegram.NewBot(cfg)
	if err != nil {
		return err
	}
	transport := telegram.NewTransport(bot)
	deliverer := delivery.New(transport, media.NewProber(cfg.FFprobeBin), cfg.SendAttempts, cfg.SendCooldown)
	poller := progress.NewPoller(transport, cfg.PollInterval, cfg.MaxFileSize)

	manager, err := task.NewManager(cfg, backend, task.NewRegistry(), runner, transport, deliverer, poller)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)
	if n, err := manager.Recover(ctx); err != nil {
		return err
	} else if n > 0 {
		slog.Warn("Marked interrupted tasks as failed", "count", n)
	}

	var srv *http.Server
	if cfg.APIEnable {
		srv = &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           api.SetupRouter(manager, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Ops API starting", "port", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Ops API stopped", "error", err)
			}
		}()
	}

	if err := telegram.NewDispatcher(bot, manager).Run(ctx); err != nil {
		return err
	}

	stop()
	slog.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Ops API forced to shutdown", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("Timed out waiting for running tasks")
	}

	slog.Info("Bot exiting")
	return nil
}
