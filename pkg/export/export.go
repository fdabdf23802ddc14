// Package export writes expenses to CSV or JSON files and reads CSV backups back.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/ArionMiles/tab/pkg/api"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// ErrUnknownFormat is returned for formats other than csv and json.
var ErrUnknownFormat = errors.New("unknown export format")

// Row is the CSV layout of an expense.
type Row struct {
	ID               int64   `csv:"ID"`
	Date             string  `csv:"Date"`
	Category         string  `csv:"Category"`
	Description      string  `csv:"Description"`
	AmountMVR        float64 `csv:"Amount (MVR)"`
	OriginalCurrency string  `csv:"Original Currency"`
	OriginalAmount   float64 `csv:"Original Amount"`
	Synced           bool    `csv:"Synced"`
}

func toRow(e api.Expense) Row {
	return Row{
		ID:               e.ID,
		Date:             e.Date.Format(time.DateOnly),
		Category:         e.Category,
		Description:      e.Description,
		AmountMVR:        e.AmountMVR,
		OriginalCurrency: e.OriginalCurrency,
		OriginalAmount:   e.OriginalAmount,
		Synced:           e.IsSynced,
	}
}

func (r Row) expense() (api.Expense, error) {
	date, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(r.Date), time.Local)
	if err != nil {
		return api.Expense{}, fmt.Errorf("row %d: parsing date %q: %w", r.ID, r.Date, err)
	}
	e := api.Expense{
		ID:               r.ID,
		Date:             date,
		Category:         r.Category,
		Description:      r.Description,
		AmountMVR:        r.AmountMVR,
		OriginalCurrency: r.OriginalCurrency,
		OriginalAmount:   r.OriginalAmount,
		IsSynced:         r.Synced,
	}
	if e.OriginalCurrency == "" {
		e.OriginalCurrency = api.CurrencyMVR
		e.OriginalAmount = e.AmountMVR
	}
	if err := e.Validate(); err != nil {
		return api.Expense{}, fmt.Errorf("row %d: %w", r.ID, err)
	}
	return e, nil
}

// WriteCSV writes expenses with a header row.
func WriteCSV(w io.Writer, expenses []api.Expense) error {
	rows := make([]Row, len(expenses))
	for i, e := range expenses {
		rows[i] = toRow(e)
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// ReadCSV parses a file written by WriteCSV.
func ReadCSV(r io.Reader) ([]api.Expense, error) {
	var rows []Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	out := make([]api.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := row.expense()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// WriteJSON writes expenses as an indented JSON array.
func WriteJSON(w io.Writer, expenses []api.Expense) error {
	if expenses == nil {
		expenses = []api.Expense{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(expenses); err != nil {
		return fmt.Errorf("writing json: %w", err)
	}
	return nil
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// ToFile writes expenses to path in the given format. An empty format is
// inferred from the extension.
func ToFile(path, format string, expenses []api.Expense, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if format == "" {
		format = FormatFromPath(path)
	}

	var write func(io.Writer, []api.Expense) error
	switch format {
	case FormatCSV:
		write = WriteCSV
	case FormatJSON:
		write = WriteJSON
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}
	if err := write(f, expenses); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return fmt.Errorf("%w (close error: %w)", err, closeErr)
		}
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	logger.Info("exported expenses", "file", path, "format", format, "count", len(expenses))
	return nil
}

// FromFile reads a CSV backup.
func FromFile(path string) ([]api.Expense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}
