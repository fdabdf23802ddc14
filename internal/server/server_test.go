package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/tab/internal/plugins"
	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/ingest"
	"github.com/ArionMiles/tab/pkg/jobs"
	"github.com/ArionMiles/tab/pkg/repository"
	"github.com/ArionMiles/tab/pkg/store"
	"github.com/ArionMiles/tab/pkg/store/memory"
	"github.com/ArionMiles/tab/pkg/syncer"
)

type discardQueue struct{ names []string }

func (q *discardQueue) Enqueue(name string, _ jobs.Func) { q.names = append(q.names, name) }

type sheetStub struct{ rows map[int64]api.Expense }

func (s *sheetStub) TestConnection(context.Context) error  { return nil }
func (s *sheetStub) EnsureHeaderRow(context.Context) error { return nil }
func (s *sheetStub) AppendExpense(_ context.Context, e *api.Expense) error {
	s.rows[e.ID] = *e
	return nil
}
func (s *sheetStub) AppendExpenses(_ context.Context, es []api.Expense) error {
	for _, e := range es {
		s.rows[e.ID] = e
	}
	return nil
}
func (s *sheetStub) UpdateExpense(_ context.Context, e *api.Expense) error {
	s.rows[e.ID] = *e
	return nil
}
func (s *sheetStub) DeleteExpense(_ context.Context, id int64) error {
	delete(s.rows, id)
	return nil
}
func (s *sheetStub) FetchRecent(context.Context, int) ([]api.Expense, error) { return nil, nil }

var now = time.Date(2024, time.March, 20, 9, 0, 0, 0, time.Local)

type fixture struct {
	srv   *httptest.Server
	st    *memory.Store
	sheet *sheetStub
	queue *discardQueue
}

func newFixture(t *testing.T, configured bool) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	if configured {
		require.NoError(t, store.SaveSettings(ctx, st, store.Settings{
			SpreadsheetID: "sheet-1",
			Credentials:   `{"type":"service_account"}`,
		}))
	}
	require.NoError(t, store.SeedDefaultCategories(ctx, st))

	sheet := &sheetStub{rows: map[int64]api.Expense{}}
	sync := syncer.New(st, func(context.Context, store.Settings) (syncer.Remote, error) {
		return sheet, nil
	}, nil)
	q := &discardQueue{}
	repo := repository.New(st, sync, q, nil)
	in := ingest.New(repo, nil, ingest.Config{
		Labels: api.Labels{"Cafe Alfa": {Category: "Food"}},
		Now:    func() time.Time { return now },
	}, nil)

	s := New(repo, in, plugins.Default(), Config{AllowedOrigins: []string{"http://localhost:5173"}}, nil)
	s.now = func() time.Time { return now }

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, st: st, sheet: sheet, queue: q}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

const bankSMS = "Transaction from 7730 on 12/03/24 at 14:22:01 for USD10.00 at CAFE ALFA was processed. Reference No:123"

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, false)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/expenses", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSMSDetectAndConfirm(t *testing.T) {
	f := newFixture(t, true)

	resp := f.do(t, http.MethodPost, "/api/sms", fmt.Sprintf(`{"sender":"BML","body":%q}`, bankSMS))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var d ingest.Detection
	decodeBody(t, resp, &d)
	assert.Equal(t, "Cafe Alfa", d.Expense.Description)
	assert.Equal(t, "Food", d.SuggestedCategory)

	resp = f.do(t, http.MethodGet, "/api/detections", "")
	var list struct {
		Detections []ingest.Detection `json:"detections"`
		Count      int                `json:"count"`
	}
	decodeBody(t, resp, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, d.ID, list.Detections[0].ID)

	resp = f.do(t, http.MethodPost, "/api/detections/"+d.ID+"/confirm", `{"description":"Cafe Alfa Hulhumale"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var e api.Expense
	decodeBody(t, resp, &e)
	assert.NotZero(t, e.ID)
	assert.Equal(t, "Cafe Alfa Hulhumale", e.Description)
	assert.Equal(t, api.CurrencyUSD, e.OriginalCurrency)
	assert.InDelta(t, 154.2, e.AmountMVR, 0.001)
	assert.Equal(t, []string{repository.SyncJobName(e.ID)}, f.queue.names)

	resp = f.do(t, http.MethodGet, "/api/detections/"+d.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSMSIgnored(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodPost, "/api/sms", `{"sender":"BML","body":"Your OTP is 1234"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNotificationDismiss(t *testing.T) {
	f := newFixture(t, false)
	body := `{"package":"mv.com.bml.mib","title":"Funds Transferred","text":"You have sent MVR 250.00 from 7730*****001 to AHMED ALI"}`
	resp := f.do(t, http.MethodPost, "/api/notifications", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var d ingest.Detection
	decodeBody(t, resp, &d)
	assert.Equal(t, api.KindNotification, d.Kind)
	assert.Equal(t, "Ahmed Ali", d.Expense.Description)

	resp = f.do(t, http.MethodDelete, "/api/detections/"+d.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/detections/"+d.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExpenseCRUD(t *testing.T) {
	f := newFixture(t, true)

	resp := f.do(t, http.MethodPost, "/api/expenses", `{"date":"2024-03-18T12:00:00Z","category":"Food","description":"Lunch","amount":"10","currency":"USD"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var e api.Expense
	decodeBody(t, resp, &e)
	assert.InDelta(t, 154.2, e.AmountMVR, 0.001)

	path := fmt.Sprintf("/api/expenses/%d", e.ID)
	resp = f.do(t, http.MethodPut, path, `{"amount_mvr":200}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got api.Expense
	decodeBody(t, resp, &got)
	assert.Equal(t, 200.0, got.AmountMVR)
	assert.Equal(t, "Lunch", got.Description)

	resp = f.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, []string{
		repository.SyncJobName(e.ID),
		repository.SyncJobName(e.ID),
		repository.SyncJobName(e.ID),
	}, f.queue.names)
}

func TestExpenseValidation(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"empty description", http.MethodPost, "/api/expenses", `{"description":"","amount":"5"}`, http.StatusBadRequest},
		{"bad amount", http.MethodPost, "/api/expenses", `{"description":"x","amount":"abc"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/expenses", `{"description":"x","amount":"5","tip":1}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/expenses/abc", "", http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/expenses/99", "", http.StatusNotFound},
		{"bad month", http.MethodGet, "/api/summary?month=13", "", http.StatusBadRequest},
		{"bad range", http.MethodGet, "/api/expenses?from=2024-03-10&to=2024-03-01", "", http.StatusBadRequest},
		{"bad format", http.MethodGet, "/api/export?format=xml", "", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestListAndSummary(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, e := range []api.Expense{
		{Date: time.Date(2024, time.March, 2, 0, 0, 0, 0, time.Local), Description: "Fuel", AmountMVR: 100, Category: "Transport"},
		{Date: time.Date(2024, time.March, 15, 0, 0, 0, 0, time.Local), Description: "Groceries", AmountMVR: 250.5, Category: "Food"},
		{Date: time.Date(2024, time.February, 28, 0, 0, 0, 0, time.Local), Description: "Rent", AmountMVR: 9000, Category: "Housing"},
	} {
		e.OriginalCurrency = api.CurrencyMVR
		e.OriginalAmount = e.AmountMVR
		_, err := f.st.InsertExpense(ctx, &e)
		require.NoError(t, err)
	}

	resp := f.do(t, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum repository.Summary
	decodeBody(t, resp, &sum)
	assert.Equal(t, time.March, sum.Month)
	assert.InDelta(t, 350.5, sum.Total, 0.001)
	assert.Len(t, sum.Expenses, 2)

	resp = f.do(t, http.MethodGet, "/api/expenses?from=2024-02-28&to=2024-03-02", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Expenses []api.Expense `json:"expenses"`
		Count    int           `json:"count"`
	}
	decodeBody(t, resp, &list)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "Fuel", list.Expenses[0].Description)
	assert.Equal(t, "Rent", list.Expenses[1].Description)

	resp = f.do(t, http.MethodGet, "/api/export?format=csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "tab-2024-03-20.csv")
}

func TestSettings(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/api/settings", "")
	var view map[string]any
	decodeBody(t, resp, &view)
	assert.Equal(t, false, view["configured"])
	assert.Equal(t, "Sheet1", view["sheet_name"])

	resp = f.do(t, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/settings", `{"spreadsheet_id":"abc","sheet_name":"Tab","api_credentials":"{\"type\":\"service_account\"}","allowed_senders":"BML"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = nil
	decodeBody(t, resp, &view)
	assert.Equal(t, true, view["credentials_set"])
	assert.Equal(t, true, view["configured"])
	assert.NotContains(t, view, "api_credentials")

	// Credentials survive an update that omits them.
	resp = f.do(t, http.MethodPut, "/api/settings", `{"spreadsheet_id":"abc","sheet_name":"Expenses"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st, err := store.LoadSettings(context.Background(), f.st)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, st.Credentials)
	assert.Equal(t, "Expenses", st.SheetName)

	resp = f.do(t, http.MethodPut, "/api/settings", `{"default_currency":"EUR"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/settings/test", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSync(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, err := f.st.InsertExpense(ctx, &api.Expense{
		Date: now, Description: "Taxi", Category: "Transport",
		AmountMVR: 50, OriginalCurrency: api.CurrencyMVR, OriginalAmount: 50,
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep syncer.Report
	decodeBody(t, resp, &rep)
	assert.Equal(t, 1, rep.Synced)
	assert.Contains(t, f.sheet.rows, id)
}

func TestCategories(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPut, "/api/categories/pets", `{"name":"Pets","icon":"🐾","order":20}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/categories", "")
	var out struct {
		Categories []api.Category `json:"categories"`
	}
	decodeBody(t, resp, &out)
	var ids []string
	for _, c := range out.Categories {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "pets")

	resp = f.do(t, http.MethodDelete, "/api/categories/pets", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
