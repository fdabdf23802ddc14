// Package store defines the local expense datastore and the settings kept in it.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
)

// Store persists expenses, categories and key-value settings.
//
// Date ranges are inclusive on both ends.
type Store interface {
	// InsertExpense stores e, replacing any row with the same ID. A zero ID is
	// assigned by the store. The stored ID is returned.
	InsertExpense(ctx context.Context, e *api.Expense) (int64, error)
	InsertExpenses(ctx context.Context, es []api.Expense) error
	// UpdateExpense overwrites an existing expense; api.ErrNotFound if missing.
	UpdateExpense(ctx context.Context, e *api.Expense) error
	GetExpense(ctx context.Context, id int64) (*api.Expense, error)
	// ListExpenses returns every expense, newest date first.
	ListExpenses(ctx context.Context) ([]api.Expense, error)
	ListExpensesBetween(ctx context.Context, start, end time.Time) ([]api.Expense, error)
	TotalBetween(ctx context.Context, start, end time.Time) (float64, error)
	// ListUnsynced returns unsynced expenses, oldest created first.
	ListUnsynced(ctx context.Context) ([]api.Expense, error)
	MarkSynced(ctx context.Context, ids ...int64) error
	DeleteExpense(ctx context.Context, id int64) error
	DeleteAllExpenses(ctx context.Context) error
	// ReplaceExpenses swaps every stored expense for es in one step. On error
	// the previous expenses are kept.
	ReplaceExpenses(ctx context.Context, es []api.Expense) error

	// ListCategories returns categories by sort order.
	ListCategories(ctx context.Context) ([]api.Category, error)
	GetCategory(ctx context.Context, id string) (*api.Category, error)
	UpsertCategories(ctx context.Context, cs ...api.Category) error
	DeleteCategory(ctx context.Context, id string) error

	// GetSetting returns "" when the key is unset.
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close()
}

// Setting keys.
const (
	KeySpreadsheetID   = "spreadsheet_id"
	KeySheetName       = "sheet_name"
	KeyCredentials     = "api_credentials"
	KeyAllowedSenders  = "allowed_senders"
	KeyDefaultCurrency = "default_currency"
)

// DefaultSheetName is used when no sheet name has been saved.
const DefaultSheetName = "Sheet1"

// Settings is the typed view of the key-value settings.
type Settings struct {
	SpreadsheetID   string `json:"spreadsheet_id"`
	SheetName       string `json:"sheet_name"`
	Credentials     string `json:"api_credentials,omitempty"`
	AllowedSenders  string `json:"allowed_senders"`
	DefaultCurrency string `json:"default_currency"`
}

// Configured reports whether enough settings exist to reach the spreadsheet.
func (s Settings) Configured() bool {
	return strings.TrimSpace(s.SpreadsheetID) != "" && strings.TrimSpace(s.Credentials) != ""
}

// Senders splits the comma-separated allowed-sender list.
func (s Settings) Senders() []string {
	var out []string
	for _, p := range strings.Split(s.AllowedSenders, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadSettings reads all known settings, applying defaults.
func LoadSettings(ctx context.Context, s Store) (Settings, error) {
	var out Settings
	fields := map[string]*string{
		KeySpreadsheetID:   &out.SpreadsheetID,
		KeySheetName:       &out.SheetName,
		KeyCredentials:     &out.Credentials,
		KeyAllowedSenders:  &out.AllowedSenders,
		KeyDefaultCurrency: &out.DefaultCurrency,
	}
	for key, dst := range fields {
		v, err := s.GetSetting(ctx, key)
		if err != nil {
			return Settings{}, fmt.Errorf("reading setting %s: %w", key, err)
		}
		*dst = v
	}
	if out.SheetName == "" {
		out.SheetName = DefaultSheetName
	}
	if out.DefaultCurrency == "" {
		out.DefaultCurrency = api.CurrencyMVR
	}
	return out, nil
}

// SaveSettings writes every setting in in.
func SaveSettings(ctx context.Context, s Store, in Settings) error {
	values := map[string]string{
		KeySpreadsheetID:   strings.TrimSpace(in.SpreadsheetID),
		KeySheetName:       strings.TrimSpace(in.SheetName),
		KeyCredentials:     in.Credentials,
		KeyAllowedSenders:  in.AllowedSenders,
		KeyDefaultCurrency: in.DefaultCurrency,
	}
	for key, v := range values {
		if err := s.SetSetting(ctx, key, v); err != nil {
			return fmt.Errorf("saving setting %s: %w", key, err)
		}
	}
	return nil
}

// SeedDefaultCategories inserts the default categories when none exist.
func SeedDefaultCategories(ctx context.Context, s Store) error {
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("listing categories: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if err := s.UpsertCategories(ctx, api.DefaultCategories()...); err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}
	return nil
}
