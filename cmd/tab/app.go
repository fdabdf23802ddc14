package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ArionMiles/tab/internal/plugins"
	"github.com/ArionMiles/tab/pkg/config"
	"github.com/ArionMiles/tab/pkg/ingest"
	"github.com/ArionMiles/tab/pkg/jobs"
	"github.com/ArionMiles/tab/pkg/repository"
	"github.com/ArionMiles/tab/pkg/store"
	"github.com/ArionMiles/tab/pkg/store/memory"
	"github.com/ArionMiles/tab/pkg/store/postgres"
	"github.com/ArionMiles/tab/pkg/syncer"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Store
	queue    *jobs.Queue
	sync     *syncer.Service
	repo     *repository.Repository
	ingest   *ingest.Service
	registry *plugins.Registry
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, expenses are lost on exit")
		return memory.New(), nil
	}
	pg := cfg.Postgres
	return postgres.New(ctx, postgres.Config{
		URL:         pg.URL,
		Host:        pg.Host,
		Port:        pg.Port,
		Database:    pg.Database,
		User:        pg.User,
		Password:    pg.Password,
		SSLMode:     pg.SSLMode,
		MaxPoolSize: int(pg.MaxConns),
	}, logger.With("component", "postgres"))
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := seedSettings(ctx, st, cfg); err != nil {
		st.Close()
		return nil, err
	}
	if err := store.SeedDefaultCategories(ctx, st); err != nil {
		st.Close()
		return nil, err
	}

	labels, err := parseLabels(labelsInput)
	if err != nil {
		st.Close()
		return nil, err
	}

	sync := syncer.New(st, syncer.SheetsConnector(logger.With("component", "sheets")), logger.With("component", "syncer"))
	if cfg.FetchLimit > 0 {
		sync.FetchLimit = cfg.FetchLimit
	}

	queue := jobs.NewQueue(jobs.Config{
		Attempts:     uint(cfg.SyncAttempts),
		InitialDelay: cfg.SyncRetryDelay,
	}, logger.With("component", "queue"))

	repo := repository.New(st, sync, queue, logger.With("component", "repository"))
	in := ingest.New(repo, nil, ingest.Config{Labels: labels}, logger.With("component", "ingest"))

	logger.Info("application initialized",
		"store", cfg.Store,
		"labels_count", len(labels),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		queue:    queue,
		sync:     sync,
		repo:     repo,
		ingest:   in,
		registry: plugins.Default(),
	}, nil
}

// Close gives queued sync jobs up to timeout to finish, cancels the rest and
// closes the store. Cancelled expenses stay unsynced for the next catch-up.
func (a *app) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.queue.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		a.logger.Warn("sync jobs still pending", "jobs", a.queue.Pending())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.queue.Close(ctx); err != nil {
		a.logger.Warn("sync queue did not drain", "error", err)
	}
	a.store.Close()
}

// seedSettings copies sync settings given in config into the store, leaving
// unset values untouched.
func seedSettings(ctx context.Context, st store.Store, cfg config.Config) error {
	if cfg.SpreadsheetID == "" && cfg.SheetName == "" && cfg.CredentialsFile == "" && cfg.AllowedSenders == "" {
		return nil
	}

	current, err := store.LoadSettings(ctx, st)
	if err != nil {
		return err
	}
	if cfg.SpreadsheetID != "" {
		current.SpreadsheetID = cfg.SpreadsheetID
	}
	if cfg.SheetName != "" {
		current.SheetName = cfg.SheetName
	}
	if cfg.AllowedSenders != "" {
		current.AllowedSenders = cfg.AllowedSenders
	}
	if cfg.CredentialsFile != "" {
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return fmt.Errorf("reading credentials file: %w", err)
		}
		current.Credentials = strings.TrimSpace(string(b))
	}
	return store.SaveSettings(ctx, st, current)
}
