package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/ingest"
	"github.com/ArionMiles/tab/pkg/repository"
	"github.com/ArionMiles/tab/pkg/store"
)

// Intake

type smsRequest struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.ingest.HandleSMS(r.Context(), req.Sender, req.Body, req.ReceivedAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type notificationRequest struct {
	Package  string    `json:"package"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
	SubText  string    `json:"sub_text"`
	BigText  string    `json:"big_text"`
	PostedAt time.Time `json:"posted_at"`
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.ingest.HandleNotification(r.Context(), &api.Message{
		Kind:       api.KindNotification,
		Sender:     req.Package,
		Title:      req.Title,
		Body:       req.Text,
		SubText:    req.SubText,
		BigText:    req.BigText,
		ReceivedAt: req.PostedAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// Detections

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	list := s.ingest.Inbox().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": list,
		"count":      len(list),
	})
}

func (s *Server) getDetection(w http.ResponseWriter, r *http.Request) {
	d, err := s.ingest.Inbox().Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) confirmDetection(w http.ResponseWriter, r *http.Request) {
	var edits ingest.Edits
	if r.ContentLength != 0 {
		if !decode(w, r, &edits) {
			return
		}
	}
	e, err := s.ingest.Confirm(r.Context(), r.PathValue("id"), edits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) dismissDetection(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.Dismiss(r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Expenses

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return 0, false
	}
	return id, true
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.Local)
}

// listExpenses accepts optional from and to dates (YYYY-MM-DD, inclusive).
func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")

	var (
		expenses []api.Expense
		err      error
	)
	if from == "" && to == "" {
		expenses, err = s.repo.ListExpenses(r.Context())
	} else {
		start, end := time.Time{}, s.now()
		if from != "" {
			if start, err = parseDay(from); err != nil {
				writeError(w, http.StatusBadRequest, "invalid from date")
				return
			}
		}
		if to != "" {
			if end, err = parseDay(to); err != nil {
				writeError(w, http.StatusBadRequest, "invalid to date")
				return
			}
		}
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, "to is before from")
			return
		}
		end = end.AddDate(0, 0, 1).Add(-time.Millisecond)
		expenses, err = s.repo.ListExpensesBetween(r.Context(), start, end)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []api.Expense{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expenses": expenses,
		"count":    len(expenses),
	})
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request) {
	var in repository.ManualInput
	if !decode(w, r, &in) {
		return
	}
	e, err := s.repo.CreateManual(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) getExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := s.repo.GetExpense(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type expenseUpdate struct {
	Date        *time.Time `json:"date"`
	Category    *string    `json:"category"`
	Description *string    `json:"description"`
	AmountMVR   *float64   `json:"amount_mvr"`
}

func (s *Server) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req expenseUpdate
	if !decode(w, r, &req) {
		return
	}

	e, err := s.repo.GetExpense(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Date != nil {
		e.Date = *req.Date
	}
	if req.Category != nil {
		e.Category = *req.Category
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.AmountMVR != nil {
		e.AmountMVR = *req.AmountMVR
	}

	if err := s.repo.UpdateExpense(r.Context(), e); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteExpense(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// summary defaults to the current month.
func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	year, month := now.Year(), now.Month()

	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = y
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "invalid month")
			return
		}
		month = time.Month(m)
	}

	sum, err := s.repo.MonthlySummary(r.Context(), year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sum.Expenses == nil {
		sum.Expenses = []api.Expense{}
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	exp, err := s.registry.GetExporter(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expenses, err := s.repo.ListExpenses(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := exp.Export(&buf, expenses); err != nil {
		s.fail(w, r, err)
		return
	}

	contentType := "text/csv"
	if format == "json" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tab-%s.%s"`, s.now().Format(time.DateOnly), format))
	_, _ = w.Write(buf.Bytes())
}

// Categories

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.repo.ListCategories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if cats == nil {
		cats = []api.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) saveCategory(w http.ResponseWriter, r *http.Request) {
	var c api.Category
	if !decode(w, r, &c) {
		return
	}
	c.ID = r.PathValue("id")
	if err := s.repo.SaveCategory(r.Context(), c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteCategory(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Settings and sync

type settingsView struct {
	SpreadsheetID   string `json:"spreadsheet_id"`
	SheetName       string `json:"sheet_name"`
	AllowedSenders  string `json:"allowed_senders"`
	DefaultCurrency string `json:"default_currency"`
	CredentialsSet  bool   `json:"credentials_set"`
	Configured      bool   `json:"configured"`
}

func viewOf(st store.Settings) settingsView {
	return settingsView{
		SpreadsheetID:   st.SpreadsheetID,
		SheetName:       st.SheetName,
		AllowedSenders:  st.AllowedSenders,
		DefaultCurrency: st.DefaultCurrency,
		CredentialsSet:  strings.TrimSpace(st.Credentials) != "",
		Configured:      st.Configured(),
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.repo.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

// saveSettings keeps the stored credentials when none are sent.
func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	var in store.Settings
	if !decode(w, r, &in) {
		return
	}
	current, err := s.repo.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(in.Credentials) == "" {
		in.Credentials = current.Credentials
	}
	if cur := strings.ToUpper(strings.TrimSpace(in.DefaultCurrency)); cur != "" && cur != api.CurrencyMVR && cur != api.CurrencyUSD {
		writeError(w, http.StatusBadRequest, "default_currency must be MVR or USD")
		return
	}

	if err := s.repo.SaveSettings(r.Context(), in); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.repo.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.TestSheetsConnection(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	rep, err := s.repo.SyncUnsynced(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.RefreshFromSheets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fetched": n})
}

func (s *Server) pull(w http.ResponseWriter, r *http.Request) {
	res, err := s.repo.PullFromSheets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
