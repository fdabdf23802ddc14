package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/tab/pkg/api"
)

const (
	testSpreadsheet = "sheet-123"
	testSheet       = "Expenses"
)

// fakeSheet serves the subset of the Sheets v4 API the client uses, backed by
// an in-memory grid.
type fakeSheet struct {
	mu       sync.Mutex
	rows     [][]string
	failures []int
	calls    []string
	// inputOptions records valueInputOption of every write.
	inputOptions []string
}

var a1Re = regexp.MustCompile(`^A(\d*):([A-Z])(\d*)$`)

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	f.calls = append(f.calls, r.Method+" "+path)

	if len(f.failures) > 0 {
		code := f.failures[0]
		f.failures = f.failures[1:]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"injected"}}`, code)
		return
	}

	switch {
	case r.Method == http.MethodGet && path == testSpreadsheet:
		writeJSON(w, sheets.Spreadsheet{
			SpreadsheetId: testSpreadsheet,
			Sheets: []*sheets.Sheet{
				{Properties: &sheets.SheetProperties{SheetId: 0, Title: "Summary"}},
				{Properties: &sheets.SheetProperties{SheetId: 77, Title: testSheet}},
			},
		})
	case r.Method == http.MethodPost && path == testSpreadsheet+":batchUpdate":
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if d := rq.DeleteDimension; d != nil && d.Range.SheetId == 77 {
				f.rows = append(f.rows[:d.Range.StartIndex], f.rows[d.Range.EndIndex:]...)
			}
		}
		writeJSON(w, sheets.BatchUpdateSpreadsheetResponse{SpreadsheetId: testSpreadsheet})
	case strings.HasPrefix(path, testSpreadsheet+"/values/"):
		f.serveValues(w, r, strings.TrimPrefix(path, testSpreadsheet+"/values/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSheet) serveValues(w http.ResponseWriter, r *http.Request, rng string) {
	if opt := r.URL.Query().Get("valueInputOption"); opt != "" {
		f.inputOptions = append(f.inputOptions, opt)
	}
	sheetName, a1, _ := strings.Cut(rng, "!")
	if sheetName != testSheet {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if strings.HasSuffix(a1, ":append") {
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		for _, row := range vr.Values {
			f.rows = append(f.rows, toStrings(row))
		}
		writeJSON(w, sheets.AppendValuesResponse{SpreadsheetId: testSpreadsheet})
		return
	}

	m := a1Re.FindStringSubmatch(a1)
	if m == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	start := 1
	if m[1] != "" {
		start, _ = strconv.Atoi(m[1])
	}
	end := len(f.rows)
	if m[3] != "" {
		end, _ = strconv.Atoi(m[3])
	}
	firstColOnly := m[2] == "A"

	switch r.Method {
	case http.MethodGet:
		var values [][]any
		for i := start; i <= end && i <= len(f.rows); i++ {
			row := f.rows[i-1]
			if firstColOnly && len(row) > 1 {
				row = row[:1]
			}
			cells := make([]any, len(row))
			for j, c := range row {
				cells[j] = c
			}
			values = append(values, cells)
		}
		writeJSON(w, sheets.ValueRange{Range: rng, Values: values})
	case http.MethodPut:
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		for len(f.rows) < start {
			f.rows = append(f.rows, nil)
		}
		f.rows[start-1] = toStrings(vr.Values[0])
		writeJSON(w, sheets.UpdateValuesResponse{SpreadsheetId: testSpreadsheet})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func toStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeSheet) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	c, err := NewWithService(svc, Config{
		SpreadsheetID: testSpreadsheet,
		SheetName:     testSheet,
		RetryDelay:    time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func expense(id int64, day int, desc string, amount float64) api.Expense {
	return api.Expense{
		ID:          id,
		Date:        time.Date(2024, time.March, day, 0, 0, 0, 0, time.Local),
		Category:    "Food",
		Description: desc,
		AmountMVR:   amount,
	}
}

func TestNewWithService_RequiresSpreadsheetID(t *testing.T) {
	_, err := NewWithService(&sheets.Service{}, Config{}, nil)
	assert.True(t, errors.Is(err, api.ErrNotConfigured))
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), []byte("  "), Config{SpreadsheetID: "x"}, nil)
	assert.True(t, errors.Is(err, api.ErrNotConfigured))

	_, err = New(context.Background(), []byte("not json"), Config{SpreadsheetID: "x"}, nil)
	assert.Error(t, err)
}

func TestEnsureHeaderRow(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{}
	c := newTestClient(t, fake)

	require.NoError(t, c.EnsureHeaderRow(ctx))
	require.Len(t, fake.rows, 1)
	assert.Equal(t, []string{"ID", "Date", "Category", "Description", "Amount"}, fake.rows[0])
	assert.Equal(t, []string{"USER_ENTERED"}, fake.inputOptions)

	// present header is left alone
	fake.rows[0][0] = "Id"
	require.NoError(t, c.EnsureHeaderRow(ctx))
	assert.Equal(t, "Id", fake.rows[0][0])
}

func TestAppendAndFind(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{rows: [][]string{{"ID", "Date", "Category", "Description", "Amount"}}}
	c := newTestClient(t, fake)

	e := expense(7, 12, "Cafe Alfa", 150.5)
	require.NoError(t, c.AppendExpense(ctx, &e))
	require.NoError(t, c.AppendExpenses(ctx, []api.Expense{expense(8, 13, "Bakery", 20), expense(9, 14, "Taxi", 35)}))

	require.Len(t, fake.rows, 4)
	assert.Equal(t, []string{"7", "2024-03-12", "Food", "Cafe Alfa", "150.5"}, fake.rows[1])

	row, err := c.FindRow(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 4, row)

	row, err = c.FindRow(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, row)
}

func TestFindRow_SkipsHeader(t *testing.T) {
	fake := &fakeSheet{rows: [][]string{{"1"}}}
	c := newTestClient(t, fake)

	row, err := c.FindRow(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, row)
}

func TestUpdateExpense(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{rows: [][]string{
		{"ID", "Date", "Category", "Description", "Amount"},
		{"1", "2024-03-01", "Food", "Cafe", "10"},
		{"2", "2024-03-02", "Food", "Bakery", "20"},
	}}
	c := newTestClient(t, fake)

	e := expense(2, 2, "Bakery Hulhumale", 25)
	require.NoError(t, c.UpdateExpense(ctx, &e))
	assert.Equal(t, []string{"2", "2024-03-02", "Food", "Bakery Hulhumale", "25"}, fake.rows[2])

	missing := expense(3, 3, "Taxi", 30)
	require.NoError(t, c.UpdateExpense(ctx, &missing))
	require.Len(t, fake.rows, 4)
	assert.Equal(t, "3", fake.rows[3][0])
}

func TestDeleteExpense(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheet{rows: [][]string{
		{"ID", "Date", "Category", "Description", "Amount"},
		{"1", "2024-03-01", "Food", "Cafe", "10"},
		{"2", "2024-03-02", "Food", "Bakery", "20"},
	}}
	c := newTestClient(t, fake)

	require.NoError(t, c.DeleteExpense(ctx, 1))
	require.Len(t, fake.rows, 2)
	assert.Equal(t, "2", fake.rows[1][0])

	err := c.DeleteExpense(ctx, 1)
	assert.True(t, errors.Is(err, api.ErrNotFound))
}

func TestFetchRecent(t *testing.T) {
	fake := &fakeSheet{rows: [][]string{{"ID", "Date", "Category", "Description", "Amount"}}}
	for i := 1; i <= 35; i++ {
		fake.rows = append(fake.rows, []string{strconv.Itoa(i), "2024-03-05", "Food", fmt.Sprintf("item %d", i), "1,000.25"})
	}
	fake.rows = append(fake.rows,
		[]string{"36", "2024-03-06", "Food"},
		[]string{"37", "not a date", "Bills", "Stelco", "400"},
	)
	c := newTestClient(t, fake)
	fixed := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.Local)
	c.now = func() time.Time { return fixed }

	got, err := c.FetchRecent(context.Background(), 0)
	require.NoError(t, err)

	// last 30 rows include the short row, which is skipped
	require.Len(t, got, 29)
	assert.Equal(t, int64(37), got[0].ID)
	assert.Equal(t, fixed, got[0].Date)
	assert.Equal(t, int64(35), got[1].ID)
	assert.Equal(t, int64(8), got[28].ID)

	for _, e := range got {
		assert.True(t, e.IsSynced)
		assert.Equal(t, api.CurrencyMVR, e.OriginalCurrency)
	}
	assert.InDelta(t, 1000.25, got[1].AmountMVR, 0.001)
	assert.Equal(t, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.Local), got[1].Date)
}

func TestFetchRecent_SkipsRowsWithoutAmount(t *testing.T) {
	fake := &fakeSheet{rows: [][]string{
		{"ID", "Date", "Category", "Description", "Amount"},
		{"1", "2024-03-05", "Food", "Cafe", "50"},
		{"2", "2024-03-05", "Food", "Blank", ""},
		{"3", "2024-03-05", "Food", "Text", "n/a"},
		{"4", "2024-03-05", "Food", "Zero", "0"},
		{"5", "2024-03-05", "Bills", "Stelco", "400"},
	}}
	c := newTestClient(t, fake)

	got, err := c.FetchRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
}

func TestRetriesRateLimit(t *testing.T) {
	fake := &fakeSheet{
		rows:     [][]string{{"ID"}},
		failures: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
	}
	c := newTestClient(t, fake)

	require.NoError(t, c.TestConnection(context.Background()))
	assert.Len(t, fake.calls, 3)
}

func TestClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"not found", http.StatusNotFound, ErrSpreadsheetNotFound},
		{"forbidden", http.StatusForbidden, ErrPermissionDenied},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeSheet{failures: []int{tc.code}}
			c := newTestClient(t, fake)

			err := c.TestConnection(context.Background())
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			// client errors are not retried
			assert.Len(t, fake.calls, 1)
		})
	}
}
