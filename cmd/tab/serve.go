package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/tab/internal/daemon"
	"github.com/ArionMiles/tab/internal/server"
	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/client"
	"github.com/ArionMiles/tab/pkg/jobs"
)

const catchUpJob = "sync_unsynced"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the readers and the periodic sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(10 * time.Second)

	scheduler, err := a.newScheduler()
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()
	// Catch up on anything left unsynced by a previous run.
	go func() {
		if _, err := scheduler.Trigger(catchUpJob); err != nil {
			logger.Warn("initial sync failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	if err := a.startReaders(ctx, &wg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(a.repo, a.ingest, a.registry, server.Config{AllowedOrigins: cfg.Origins()}, logger.With("component", "server")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	wg.Wait()
	logger.Info("tab stopped")
	return nil
}

func (a *app) newScheduler() (*jobs.Scheduler, error) {
	s := jobs.NewScheduler(5*time.Minute, logger.With("component", "scheduler"))
	if err := s.Every(a.cfg.SyncSchedule, catchUpJob, func(ctx context.Context) error {
		return syncIfConfigured(ctx, a)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// startReaders runs the configured reader sources in the background.
func (a *app) startReaders(ctx context.Context, wg *sync.WaitGroup) error {
	sources, err := a.cfg.Sources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		logger.Info("no reader sources configured, accepting messages over HTTP only")
		return nil
	}

	names := make([]string, 0, len(sources))
	daemonSources := make([]daemon.Source, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Plugin)
		daemonSources = append(daemonSources, daemon.Source{Plugin: s.Plugin, Config: s.Config})
	}

	scopes, err := a.registry.Scopes(names...)
	if err != nil {
		return err
	}
	var httpClient *http.Client
	if len(scopes) > 0 {
		httpClient, err = client.Cached(a.cfg.ClientSecretFile, a.cfg.TokenFile, scopes...)
		if err != nil {
			return fmt.Errorf("creating oauth client: %w", err)
		}
	}

	runner := daemon.New(a.registry, httpClient, a.ingest, logger.With("component", "daemon"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx, daemonSources); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("readers failed", "error", err)
		}
	}()
	return nil
}

// syncIfConfigured runs the catch-up sync, treating missing settings as nothing to do.
func syncIfConfigured(ctx context.Context, a *app) error {
	rep, err := a.repo.SyncUnsynced(ctx)
	if errors.Is(err, api.ErrNotConfigured) {
		logger.Debug("sync skipped, spreadsheet not configured")
		return nil
	}
	if err != nil {
		return err
	}
	if rep.Synced > 0 || rep.Failed > 0 {
		logger.Info("catch-up sync finished", "synced", rep.Synced, "failed", rep.Failed)
	}
	return nil
}
