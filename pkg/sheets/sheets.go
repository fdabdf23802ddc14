// Package sheets reads and writes expense rows in a Google Sheets spreadsheet.
//
// The sheet uses a fixed column layout: A=ID, B=Date (yyyy-MM-dd),
// C=Category, D=Description, E=Amount (MVR). Row 1 is the header.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/tab/pkg/api"
)

// DateLayout is the date format written to column B.
const DateLayout = "2006-01-02"

// DefaultFetchLimit is the number of trailing rows FetchRecent returns.
const DefaultFetchLimit = 30

// Header is the first row of the sheet.
var Header = []any{"ID", "Date", "Category", "Description", "Amount"}

var (
	// ErrSpreadsheetNotFound means the spreadsheet does not exist or is not shared.
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found or not shared with the service account")
	// ErrPermissionDenied means the credentials lack editor access.
	ErrPermissionDenied = errors.New("permission denied: service account needs editor access")
)

// Config identifies the target sheet and tunes retries.
type Config struct {
	SpreadsheetID string
	SheetName     string

	// Attempts bounds retries of rate-limited or failed calls. Defaults to 3.
	Attempts uint
	// RetryDelay is the initial backoff. Defaults to 2s.
	RetryDelay time.Duration
}

// Client talks to one sheet of one spreadsheet.
type Client struct {
	svc    *sheets.Service
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New builds a client authenticated with service-account credentials JSON.
func New(ctx context.Context, credentialsJSON []byte, cfg Config, logger *slog.Logger) (*Client, error) {
	if len(strings.TrimSpace(string(credentialsJSON))) == 0 {
		return nil, fmt.Errorf("credentials: %w", api.ErrNotConfigured)
	}
	creds, err := google.CredentialsFromJSON(ctx, []byte(strings.TrimSpace(string(credentialsJSON))), sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return NewWithService(svc, cfg, logger)
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *sheets.Service, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id: %w", api.ErrNotConfigured)
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Sheet1"
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Client{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("spreadsheet_id", cfg.SpreadsheetID, "sheet", cfg.SheetName),
		now:    time.Now,
	}, nil
}

func (c *Client) rng(a1 string) string {
	return fmt.Sprintf("%s!%s", c.cfg.SheetName, a1)
}

// do runs fn, retrying on rate limiting and server errors.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			if !retryable(err) {
				return false
			}
			c.logger.Warn("sheets call failed, will retry", "op", op, "error", err)
			return true
		}),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrSpreadsheetNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	return err
}

// TestConnection reads the first cell to verify access.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.do(ctx, "testing connection", func() error {
		_, err := c.svc.Spreadsheets.Values.Get(c.cfg.SpreadsheetID, c.rng("A1:A1")).Context(ctx).Do()
		return err
	})
}

// EnsureHeaderRow writes the header when the first row is empty.
func (c *Client) EnsureHeaderRow(ctx context.Context) error {
	var resp *sheets.ValueRange
	err := c.do(ctx, "reading header", func() error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.cfg.SpreadsheetID, c.rng("A1:E1")).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	if resp != nil && len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	err = c.do(ctx, "writing header", func() error {
		_, err := c.svc.Spreadsheets.Values.Update(c.cfg.SpreadsheetID, c.rng("A1:E1"), &sheets.ValueRange{
			Values: [][]any{Header},
		}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	c.logger.Info("wrote header row")
	return nil
}

func toRow(e *api.Expense) []any {
	return []any{
		strconv.FormatInt(e.ID, 10),
		e.Date.Format(DateLayout),
		e.Category,
		e.Description,
		e.AmountMVR,
	}
}

// AppendExpense appends one expense row.
func (c *Client) AppendExpense(ctx context.Context, e *api.Expense) error {
	return c.AppendExpenses(ctx, []api.Expense{*e})
}

// AppendExpenses appends rows in a single call.
func (c *Client) AppendExpenses(ctx context.Context, es []api.Expense) error {
	if len(es) == 0 {
		return nil
	}
	values := make([][]any, 0, len(es))
	for i := range es {
		values = append(values, toRow(&es[i]))
	}

	err := c.do(ctx, "appending rows", func() error {
		_, err := c.svc.Spreadsheets.Values.Append(c.cfg.SpreadsheetID, c.rng("A:E"), &sheets.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return err
	}

	c.logger.Info("appended expenses", "count", len(es), "first_id", es[0].ID)
	return nil
}

// FindRow returns the 1-based row holding id, or 0 when absent.
func (c *Client) FindRow(ctx context.Context, id int64) (int, error) {
	var resp *sheets.ValueRange
	err := c.do(ctx, "reading id column", func() error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.cfg.SpreadsheetID, c.rng("A:A")).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, err
	}
	if resp == nil || len(resp.Values) < 2 {
		return 0, nil
	}

	want := strconv.FormatInt(id, 10)
	for i, row := range resp.Values[1:] {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == want {
			return i + 2, nil
		}
	}
	return 0, nil
}

// UpdateExpense overwrites the row holding e.ID, appending when it is missing.
func (c *Client) UpdateExpense(ctx context.Context, e *api.Expense) error {
	row, err := c.FindRow(ctx, e.ID)
	if err != nil {
		return err
	}
	if row == 0 {
		c.logger.Warn("expense not in sheet, appending instead", "id", e.ID)
		return c.AppendExpense(ctx, e)
	}

	a1 := fmt.Sprintf("A%d:E%d", row, row)
	err = c.do(ctx, "updating row", func() error {
		_, err := c.svc.Spreadsheets.Values.Update(c.cfg.SpreadsheetID, c.rng(a1), &sheets.ValueRange{
			Values: [][]any{toRow(e)},
		}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	c.logger.Info("updated expense row", "id", e.ID, "row", row)
	return nil
}

// DeleteExpense removes the row holding id. Returns api.ErrNotFound if absent.
func (c *Client) DeleteExpense(ctx context.Context, id int64) error {
	row, err := c.FindRow(ctx, id)
	if err != nil {
		return err
	}
	if row == 0 {
		return fmt.Errorf("expense %d in sheet: %w", id, api.ErrNotFound)
	}

	sheetID, err := c.sheetID(ctx)
	if err != nil {
		return err
	}

	err = c.do(ctx, "deleting row", func() error {
		_, err := c.svc.Spreadsheets.BatchUpdate(c.cfg.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				DeleteDimension: &sheets.DeleteDimensionRequest{
					Range: &sheets.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "ROWS",
						StartIndex: int64(row - 1),
						EndIndex:   int64(row),
						// sheet 0 and row 0 are valid values
						ForceSendFields: []string{"SheetId", "StartIndex"},
					},
				},
			}},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	c.logger.Info("deleted expense row", "id", id, "row", row)
	return nil
}

func (c *Client) sheetID(ctx context.Context) (int64, error) {
	var ss *sheets.Spreadsheet
	err := c.do(ctx, "reading spreadsheet", func() error {
		var err error
		ss, err = c.svc.Spreadsheets.Get(c.cfg.SpreadsheetID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.cfg.SheetName {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q: %w", c.cfg.SheetName, api.ErrNotFound)
}

// FetchRecent returns up to limit of the last rows, newest first, marked synced.
// Rows with fewer than five cells are skipped; unparsable dates fall back to now.
func (c *Client) FetchRecent(ctx context.Context, limit int) ([]api.Expense, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	var resp *sheets.ValueRange
	err := c.do(ctx, "reading rows", func() error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.cfg.SpreadsheetID, c.rng("A2:E")).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Values) == 0 {
		return nil, nil
	}

	rows := resp.Values
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	out := make([]api.Expense, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		e, ok := c.parseRow(rows[i])
		if !ok {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) parseRow(row []any) (api.Expense, bool) {
	if len(row) < 5 {
		return api.Expense{}, false
	}
	cell := func(i int) string { return strings.TrimSpace(fmt.Sprint(row[i])) }

	id, _ := strconv.ParseInt(cell(0), 10, 64)
	date, err := time.ParseInLocation(DateLayout, cell(1), time.Local)
	if err != nil {
		c.logger.Debug("unparsable date in sheet row", "value", cell(1))
		date = c.now()
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(cell(4), ",", ""), 64)
	if err != nil || amount <= 0 {
		c.logger.Warn("skipping sheet row without a positive amount", "id", cell(0), "value", cell(4))
		return api.Expense{}, false
	}

	return api.Expense{
		ID:               id,
		Date:             date,
		Category:         cell(2),
		Description:      cell(3),
		AmountMVR:        amount,
		OriginalCurrency: api.CurrencyMVR,
		OriginalAmount:   amount,
		IsSynced:         true,
	}, true
}
