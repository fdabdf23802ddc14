// Package repository is the entry point for expense reads and writes. Writes
// land in the local store first; propagation to the sheet happens through
// queued background jobs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/currency"
	"github.com/ArionMiles/tab/pkg/jobs"
	"github.com/ArionMiles/tab/pkg/reconcile"
	"github.com/ArionMiles/tab/pkg/store"
	"github.com/ArionMiles/tab/pkg/syncer"
)

// Enqueuer schedules uniquely named background jobs.
type Enqueuer interface {
	Enqueue(name string, fn jobs.Func)
}

// SyncJobName is the unique job name used for every remote change to an expense.
func SyncJobName(id int64) string {
	return "sync_expense_" + strconv.FormatInt(id, 10)
}

// Repository wraps the store with validation and sync scheduling.
type Repository struct {
	store  store.Store
	sync   *syncer.Service
	queue  Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a repository.
func New(st store.Store, sync *syncer.Service, queue Enqueuer, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		store:  st,
		sync:   sync,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

// AddExpense normalizes the date to midnight, saves e as unsynced and queues its sync.
func (r *Repository) AddExpense(ctx context.Context, e *api.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.Date.IsZero() {
		e.Date = r.now()
	}
	e.Date = reconcile.NormalizeToMidnight(e.Date)
	e.Description = strings.TrimSpace(e.Description)
	if strings.TrimSpace(e.Category) == "" {
		e.Category = api.DefaultCategory
	}
	if e.OriginalCurrency == "" {
		e.OriginalCurrency = api.CurrencyMVR
		e.OriginalAmount = e.AmountMVR
	}
	e.IsSynced = false

	id, err := r.store.InsertExpense(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("saving expense: %w", err)
	}

	r.logger.Info("saved expense", "id", id, "description", e.Description, "amount_mvr", e.AmountMVR)
	r.queue.Enqueue(SyncJobName(id), func(ctx context.Context) error {
		return r.sync.SyncExpense(ctx, id)
	})
	return id, nil
}

// FindDuplicate returns a stored expense from the same day that the duplicate
// heuristic matches against e, or nil when there is none.
func (r *Repository) FindDuplicate(ctx context.Context, e *api.Expense) (*api.Expense, error) {
	day := reconcile.NormalizeToMidnight(e.Date)
	sameDay, err := r.store.ListExpensesBetween(ctx, day, day.AddDate(0, 0, 1).Add(-time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("listing expenses for %s: %w", day.Format(time.DateOnly), err)
	}
	for i := range sameDay {
		if reconcile.IsDuplicate(&sameDay[i], e) {
			return &sameDay[i], nil
		}
	}
	return nil, nil
}

// ManualInput is an expense typed in by the user. Amount is raw text.
type ManualInput struct {
	Date        time.Time `json:"date"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", api.ErrInvalidExpense, msg)
}

// CreateManual validates user input, converts USD to MVR and saves the expense.
func (r *Repository) CreateManual(ctx context.Context, in ManualInput) (*api.Expense, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, invalid("please enter a description")
	}
	raw := strings.TrimSpace(in.Amount)
	if raw == "" {
		return nil, invalid("please enter a valid amount")
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, invalid("please enter a valid amount")
	}
	if amount <= 0 {
		return nil, invalid("amount must be greater than 0")
	}

	cur := strings.ToUpper(strings.TrimSpace(in.Currency))
	if cur == "" {
		cur = api.CurrencyMVR
	}
	if cur != api.CurrencyMVR && cur != api.CurrencyUSD {
		return nil, invalid("unsupported currency " + cur)
	}

	e := &api.Expense{
		Date:             in.Date,
		Category:         in.Category,
		Description:      in.Description,
		AmountMVR:        currency.ToMVR(amount, cur),
		OriginalCurrency: cur,
		OriginalAmount:   amount,
	}
	if _, err := r.AddExpense(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetExpense returns one expense.
func (r *Repository) GetExpense(ctx context.Context, id int64) (*api.Expense, error) {
	return r.store.GetExpense(ctx, id)
}

// ListExpenses returns every expense, newest first.
func (r *Repository) ListExpenses(ctx context.Context) ([]api.Expense, error) {
	return r.store.ListExpenses(ctx)
}

// ListExpensesBetween returns expenses dated within [start, end], newest first.
func (r *Repository) ListExpensesBetween(ctx context.Context, start, end time.Time) ([]api.Expense, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return r.store.ListExpensesBetween(ctx, start, end)
}

// UpdateExpense saves an edit locally and queues the matching sheet update.
func (r *Repository) UpdateExpense(ctx context.Context, e *api.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, err := r.store.GetExpense(ctx, e.ID); err != nil {
		return err
	}
	e.Date = reconcile.NormalizeToMidnight(e.Date)
	if strings.TrimSpace(e.Category) == "" {
		e.Category = api.DefaultCategory
	}
	e.IsSynced = false

	if err := r.store.UpdateExpense(ctx, e); err != nil {
		return fmt.Errorf("updating expense: %w", err)
	}

	id := e.ID
	r.queue.Enqueue(SyncJobName(id), func(ctx context.Context) error {
		return r.sync.PushUpdate(ctx, id)
	})
	return nil
}

// DeleteExpense removes an expense locally and queues removal of its row.
func (r *Repository) DeleteExpense(ctx context.Context, id int64) error {
	if _, err := r.store.GetExpense(ctx, id); err != nil {
		return err
	}
	if err := r.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}

	r.queue.Enqueue(SyncJobName(id), func(ctx context.Context) error {
		return r.sync.PushDelete(ctx, id)
	})
	return nil
}

// Summary is a month of expenses and their total.
type Summary struct {
	Year     int           `json:"year"`
	Month    time.Month    `json:"month"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Total    float64       `json:"total"`
	Expenses []api.Expense `json:"expenses"`
}

// MonthRange returns the first and last instant of a month in local time.
func MonthRange(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end
}

// MonthlySummary lists a month's expenses with their MVR total.
func (r *Repository) MonthlySummary(ctx context.Context, year int, month time.Month) (*Summary, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	start, end := MonthRange(year, month)

	expenses, err := r.store.ListExpensesBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	total, err := r.store.TotalBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("summing expenses: %w", err)
	}

	return &Summary{
		Year:     year,
		Month:    month,
		Start:    start,
		End:      end,
		Total:    total,
		Expenses: expenses,
	}, nil
}

// Category operations

func (r *Repository) ListCategories(ctx context.Context) ([]api.Category, error) {
	return r.store.ListCategories(ctx)
}

func (r *Repository) GetCategory(ctx context.Context, id string) (*api.Category, error) {
	return r.store.GetCategory(ctx, id)
}

func (r *Repository) SaveCategory(ctx context.Context, c api.Category) error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
		return errors.New("category id and name are required")
	}
	return r.store.UpsertCategories(ctx, c)
}

func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	return r.store.DeleteCategory(ctx, id)
}

// InitializeDefaultCategories seeds the default categories into an empty store.
func (r *Repository) InitializeDefaultCategories(ctx context.Context) error {
	return store.SeedDefaultCategories(ctx, r.store)
}

// Settings

func (r *Repository) Settings(ctx context.Context) (store.Settings, error) {
	return store.LoadSettings(ctx, r.store)
}

func (r *Repository) SaveSettings(ctx context.Context, s store.Settings) error {
	return store.SaveSettings(ctx, r.store, s)
}

// AllowedSenders returns the SMS sender allow-list. Empty means allow all.
func (r *Repository) AllowedSenders(ctx context.Context) ([]string, error) {
	s, err := store.LoadSettings(ctx, r.store)
	if err != nil {
		return nil, err
	}
	return s.Senders(), nil
}

func (r *Repository) SetAllowedSenders(ctx context.Context, senders string) error {
	return r.store.SetSetting(ctx, store.KeyAllowedSenders, senders)
}

// Sync passthroughs

func (r *Repository) SyncUnsynced(ctx context.Context) (syncer.Report, error) {
	return r.sync.SyncUnsynced(ctx)
}

func (r *Repository) RefreshFromSheets(ctx context.Context) (int, error) {
	return r.sync.RefreshFromSheets(ctx)
}

func (r *Repository) PullFromSheets(ctx context.Context) (syncer.PullResult, error) {
	return r.sync.PullFromSheets(ctx)
}

func (r *Repository) TestSheetsConnection(ctx context.Context) error {
	return r.sync.TestConnection(ctx)
}
