// Package syncer pushes locally stored expenses to the remote spreadsheet and
// pulls remote rows back into the local store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/jobs"
	"github.com/ArionMiles/tab/pkg/reconcile"
	"github.com/ArionMiles/tab/pkg/sheets"
	"github.com/ArionMiles/tab/pkg/store"
)

// Remote is the spreadsheet the service syncs with.
type Remote interface {
	TestConnection(ctx context.Context) error
	EnsureHeaderRow(ctx context.Context) error
	AppendExpense(ctx context.Context, e *api.Expense) error
	AppendExpenses(ctx context.Context, es []api.Expense) error
	UpdateExpense(ctx context.Context, e *api.Expense) error
	DeleteExpense(ctx context.Context, id int64) error
	FetchRecent(ctx context.Context, limit int) ([]api.Expense, error)
}

var _ Remote = (*sheets.Client)(nil)

// Connector builds a Remote from the stored settings. It is called for every
// operation so settings changes take effect immediately.
type Connector func(ctx context.Context, settings store.Settings) (Remote, error)

// SheetsConnector connects to Google Sheets with the stored service-account credentials.
func SheetsConnector(logger *slog.Logger) Connector {
	return func(ctx context.Context, s store.Settings) (Remote, error) {
		return sheets.New(ctx, []byte(s.Credentials), sheets.Config{
			SpreadsheetID: s.SpreadsheetID,
			SheetName:     s.SheetName,
		}, logger)
	}
}

// Service coordinates the local store and the remote sheet.
type Service struct {
	store   store.Store
	connect Connector
	logger  *slog.Logger

	// FetchLimit bounds how many trailing rows are pulled from the sheet.
	FetchLimit int
}

// New creates a sync service.
func New(st store.Store, connect Connector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		connect:    connect,
		logger:     logger,
		FetchLimit: sheets.DefaultFetchLimit,
	}
}

// remote loads settings and connects. api.ErrNotConfigured is returned when
// the spreadsheet id or credentials are missing.
func (s *Service) remote(ctx context.Context) (Remote, error) {
	settings, err := store.LoadSettings(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if !settings.Configured() {
		return nil, api.ErrNotConfigured
	}
	r, err := s.connect(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("initializing sheets client: %w", err)
	}
	return r, nil
}

func (s *Service) ensureHeader(ctx context.Context, r Remote) {
	if err := r.EnsureHeaderRow(ctx); err != nil {
		s.logger.Warn("failed to ensure header row", "error", err)
	}
}

// SyncExpense appends one expense and marks it synced. Errors that retrying
// cannot fix are wrapped with jobs.Permanent.
func (s *Service) SyncExpense(ctx context.Context, id int64) error {
	e, err := s.store.GetExpense(ctx, id)
	if errors.Is(err, api.ErrNotFound) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("loading expense %d: %w", id, err)
	}
	if e.IsSynced {
		s.logger.Debug("expense already synced", "id", id)
		return nil
	}

	r, err := s.remote(ctx)
	if errors.Is(err, api.ErrNotConfigured) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return err
	}

	s.ensureHeader(ctx, r)

	if err := r.AppendExpense(ctx, e); err != nil {
		return fmt.Errorf("syncing expense %d: %w", id, err)
	}
	if err := s.store.MarkSynced(ctx, id); err != nil {
		return fmt.Errorf("marking expense %d synced: %w", id, err)
	}

	s.logger.Info("synced expense", "id", id, "description", e.Description)
	return nil
}

// Report summarises a catch-up sync.
type Report struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// SyncUnsynced appends every unsynced expense one at a time. Missing
// configuration is not an error. An error is returned only when every
// append failed, so the caller retries.
func (s *Service) SyncUnsynced(ctx context.Context) (Report, error) {
	var rep Report

	unsynced, err := s.store.ListUnsynced(ctx)
	if err != nil {
		return rep, fmt.Errorf("listing unsynced expenses: %w", err)
	}
	if len(unsynced) == 0 {
		s.logger.Debug("nothing to sync")
		return rep, nil
	}

	r, err := s.remote(ctx)
	if errors.Is(err, api.ErrNotConfigured) {
		s.logger.Warn("sync skipped, spreadsheet not configured", "pending", len(unsynced))
		return rep, nil
	}
	if err != nil {
		return rep, err
	}

	s.ensureHeader(ctx, r)

	var lastErr error
	for i := range unsynced {
		e := &unsynced[i]
		if err := r.AppendExpense(ctx, e); err != nil {
			rep.Failed++
			lastErr = err
			s.logger.Error("failed to sync expense", "id", e.ID, "error", err)
			continue
		}
		if err := s.store.MarkSynced(ctx, e.ID); err != nil {
			rep.Failed++
			lastErr = err
			s.logger.Error("failed to mark expense synced", "id", e.ID, "error", err)
			continue
		}
		rep.Synced++
	}

	s.logger.Info("catch-up sync finished", "synced", rep.Synced, "failed", rep.Failed)
	if rep.Failed > 0 && rep.Synced == 0 {
		return rep, fmt.Errorf("all %d expenses failed to sync: %w", rep.Failed, lastErr)
	}
	return rep, nil
}

// SyncBatch appends every unsynced expense in a single call.
func (s *Service) SyncBatch(ctx context.Context) (Report, error) {
	unsynced, err := s.store.ListUnsynced(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("listing unsynced expenses: %w", err)
	}
	if len(unsynced) == 0 {
		return Report{}, nil
	}

	r, err := s.remote(ctx)
	if err != nil {
		return Report{}, err
	}
	s.ensureHeader(ctx, r)

	if err := r.AppendExpenses(ctx, unsynced); err != nil {
		return Report{Failed: len(unsynced)}, fmt.Errorf("appending %d expenses: %w", len(unsynced), err)
	}

	ids := make([]int64, len(unsynced))
	for i, e := range unsynced {
		ids[i] = e.ID
	}
	if err := s.store.MarkSynced(ctx, ids...); err != nil {
		return Report{}, fmt.Errorf("marking expenses synced: %w", err)
	}
	return Report{Synced: len(unsynced)}, nil
}

// PushUpdate writes an edited expense to its row, appending when missing.
func (s *Service) PushUpdate(ctx context.Context, id int64) error {
	e, err := s.store.GetExpense(ctx, id)
	if errors.Is(err, api.ErrNotFound) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("loading expense %d: %w", id, err)
	}

	r, err := s.remote(ctx)
	if errors.Is(err, api.ErrNotConfigured) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return err
	}

	if err := r.UpdateExpense(ctx, e); err != nil {
		return fmt.Errorf("updating expense %d in sheet: %w", id, err)
	}
	if err := s.store.MarkSynced(ctx, id); err != nil {
		return fmt.Errorf("marking expense %d synced: %w", id, err)
	}
	return nil
}

// PushDelete removes an expense's row. A row that is already gone is not an error.
func (s *Service) PushDelete(ctx context.Context, id int64) error {
	r, err := s.remote(ctx)
	if errors.Is(err, api.ErrNotConfigured) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return err
	}

	err = r.DeleteExpense(ctx, id)
	if errors.Is(err, api.ErrNotFound) {
		s.logger.Info("expense not in sheet, nothing to delete", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting expense %d from sheet: %w", id, err)
	}
	return nil
}

// RefreshFromSheets replaces every local expense with the sheet's recent rows.
// Local expenses are kept when the fetch or the replace fails.
func (s *Service) RefreshFromSheets(ctx context.Context) (int, error) {
	r, err := s.remote(ctx)
	if err != nil {
		return 0, err
	}
	remote, err := r.FetchRecent(ctx, s.FetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetching expenses from sheet: %w", err)
	}

	if err := s.store.ReplaceExpenses(ctx, remote); err != nil {
		return 0, fmt.Errorf("replacing local expenses: %w", err)
	}

	s.logger.Info("refreshed local expenses from sheet", "count", len(remote))
	return len(remote), nil
}

// PullResult reports what a pull changed.
type PullResult struct {
	Inserted int `json:"inserted"`
	Pending  int `json:"pending"`
}

// PullFromSheets inserts recent sheet rows that are not already present
// locally, by id or by the duplicate heuristic. Local rows are kept.
func (s *Service) PullFromSheets(ctx context.Context) (PullResult, error) {
	r, err := s.remote(ctx)
	if err != nil {
		return PullResult{}, err
	}
	remote, err := r.FetchRecent(ctx, s.FetchLimit)
	if err != nil {
		return PullResult{}, fmt.Errorf("fetching expenses from sheet: %w", err)
	}
	local, err := s.store.ListExpenses(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("listing local expenses: %w", err)
	}

	merged := reconcile.Merge(local, remote)
	if err := s.store.InsertExpenses(ctx, merged.Pull); err != nil {
		return PullResult{}, fmt.Errorf("inserting pulled expenses: %w", err)
	}

	s.logger.Info("pulled expenses from sheet",
		"fetched", len(remote),
		"inserted", len(merged.Pull),
		"pending_push", len(merged.Push),
	)
	return PullResult{Inserted: len(merged.Pull), Pending: len(merged.Push)}, nil
}

// TestConnection checks that the stored settings can reach the sheet.
func (s *Service) TestConnection(ctx context.Context) error {
	r, err := s.remote(ctx)
	if err != nil {
		return err
	}
	return r.TestConnection(ctx)
}
