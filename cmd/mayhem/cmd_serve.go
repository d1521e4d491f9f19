package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/gateway"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mayhem daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pidFilePath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidFilePath)

	if missing := cfg.MissingKeys(); len(missing) > 0 {
		slog.Warn("assistant config incomplete", "missing", missing)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.limits.Start(ctx, time.Minute)
	defer a.limits.Stop()
	a.assistant.Start(ctx)
	defer a.assistant.Stop()

	gw := gateway.New(a.assistant, int64(cfg.MaxConcurrent))
	gw.Start(ctx)
	defer gw.Stop()

	go func() {
		if err := a.holder.Watch(ctx); err != nil {
			slog.Warn("config watch stopped", "error", err)
		}
	}()

	schedules := scheduleStore(cfg)
	if seeded, err := schedules.Seed(scheduler.DefaultSchedules()); err != nil {
		return fmt.Errorf("seed schedules: %w", err)
	} else if seeded {
		slog.Info("default schedules written", "path", schedules.Path())
	}
	sched := scheduler.New(schedules, a.batches, cfg.Location())
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := webhook.NewServer(webhook.Deps{
		Config:     a.holder,
		Dispatcher: gw,
		Batches:    a.batches,
		Jobs:       a.queue,
		Store:      a.store,
		Composer:   a.assistant,
		Messenger:  a.sender,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.HTTP.PublicURL == "" {
		poller := telegram.NewPoller(a.holder, gw, &http.Client{Timeout: 90 * time.Second})
		go func() {
			if err := poller.Run(ctx); err != nil {
				slog.Warn("telegram polling disabled", "error", err)
			}
		}()
	} else {
		slog.Info("telegram webhooks expected", "public_url", cfg.HTTP.PublicURL)
	}

	slog.Info("mayhem started",
		"data_dir", cfg.DataDir,
		"db", cfg.DBPath,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"timezone", cfg.Assistant.Timezone,
		"primary_model", cfg.OpenAI.Model,
		"secondary_model", cfg.Anthropic.Model,
		"pid_file", pidFilePath,
	)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("sd_notify ready failed", "error", err)
	} else if ok {
		slog.Debug("systemd notified ready")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGUSR1:
			slog.Info("received SIGUSR1, reloading schedules")
			if err := sched.Reload(); err != nil {
				slog.Error("schedule reload failed", "error", err)
			}
			continue
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidFilePath)
			daemon.SdNotify(false, daemon.SdNotifyReloading)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		return nil
	}
}
