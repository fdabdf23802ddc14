package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/export"
	"github.com/ArionMiles/tab/pkg/reader/gmail"
	"github.com/ArionMiles/tab/pkg/reader/mbox"
)

// GmailPlugin polls Gmail for bank alert e-mails.
type GmailPlugin struct{}

func (p *GmailPlugin) Name() string { return "gmail" }

func (p *GmailPlugin) Description() string {
	return "Read bank alert e-mails from Gmail"
}

func (p *GmailPlugin) RequiredScopes() []string {
	return []string{
		gmailapi.GmailReadonlyScope,
		gmailapi.GmailModifyScope,
	}
}

// GmailConfig is the JSON config of the gmail plugin.
type GmailConfig struct {
	Queries  []string `json:"queries"`
	Interval int      `json:"interval,omitempty"` // in seconds
}

func (p *GmailPlugin) NewReader(httpClient *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	var cfg GmailConfig
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling gmail config: %w", err)
		}
	}
	if httpClient == nil {
		return nil, errors.New("gmail reader requires an authenticated http client")
	}
	return gmail.New(httpClient, gmail.Config{
		Queries:  cfg.Queries,
		Interval: time.Duration(cfg.Interval) * time.Second,
	}, logger)
}

// MboxPlugin replays an mbox export.
type MboxPlugin struct{}

func (p *MboxPlugin) Name() string { return "mbox" }

func (p *MboxPlugin) Description() string {
	return "Replay bank alert e-mails from an mbox file"
}

func (p *MboxPlugin) RequiredScopes() []string { return nil }

func (p *MboxPlugin) NewReader(_ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	var cfg mbox.Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling mbox config: %w", err)
	}
	return mbox.New(cfg, logger)
}

// CSVExporter writes CSV.
type CSVExporter struct{}

func (CSVExporter) Name() string        { return export.FormatCSV }
func (CSVExporter) Description() string { return "Comma separated values with a header row" }
func (CSVExporter) Export(w io.Writer, expenses []api.Expense) error {
	return export.WriteCSV(w, expenses)
}

// JSONExporter writes a JSON array.
type JSONExporter struct{}

func (JSONExporter) Name() string        { return export.FormatJSON }
func (JSONExporter) Description() string { return "Indented JSON array" }
func (JSONExporter) Export(w io.Writer, expenses []api.Expense) error {
	return export.WriteJSON(w, expenses)
}
