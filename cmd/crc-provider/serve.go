package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meyrevived/crc-provider/internal/config"
	"github.com/meyrevived/crc-provider/internal/daemon/api"
	"github.com/meyrevived/crc-provider/internal/prompt"
)

const (
	presetDebounce  = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the provider and its HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logrus.Info("Starting CRC provider...")
	logrus.Infof("  CRC binary: %s", cfg.CrcBinary)
	logrus.Infof("  CRC home: %s", cfg.CrcHome)
	logrus.Infof("  Daemon socket: %s", cfg.DaemonSocket)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newProvider(cfg, prompt.NewTerminalPrompter())
	if err != nil {
		return err
	}

	ext := p.extension()
	if err := ext.Activate(ctx); err != nil {
		if ctx.Err() != nil {
			logrus.Info("Interrupted during activation")
			return nil
		}
		return fmt.Errorf("failed to activate provider: %w", err)
	}
	defer ext.Deactivate()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(p.handlers(), p.metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Rebind the connection when the preset is changed outside the provider.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Warnf("WARNING: Failed to create file watcher: %v", err)
	} else {
		defer func() {
			_ = watcher.Close()
		}()

		if err := watcher.Add(cfg.CrcHome); err != nil {
			logrus.Warnf("WARNING: Failed to add watch on %s: %v", cfg.CrcHome, err)
		} else {
			logrus.Infof("Watching %s for preset changes", cfg.CrcConfigFile())

			watchCtx, stopWatching := context.WithCancel(ctx)
			watchDone := make(chan struct{})
			go func() {
				defer close(watchDone)
				watchLoop(watchCtx, watcher, cfg.CrcConfigFile(), presetDebounce, func(ctx context.Context) {
					logrus.Info("CRC configuration changed, refreshing preset...")
					p.binder.PresetChanged(ctx)
				})
			}()
			// runs before Deactivate so no rebind can follow the dispose
			defer func() {
				stopWatching()
				<-watchDone
			}()
		}
	}

	select {
	case <-ctx.Done():
		logrus.Info("Received shutdown signal. Shutting down gracefully...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("Server forced to shutdown: %v", err)
	} else {
		logrus.Info("Server shutdown complete")
	}

	logrus.Info("CRC provider stopped")
	return nil
}
