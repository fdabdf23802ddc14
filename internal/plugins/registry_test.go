package plugins

import (
	"bytes"
	"encoding/json"
	"testing"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/tab/pkg/api"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	var names []string
	for _, p := range r.ListReaders() {
		names = append(names, p.Name())
	}
	if len(names) != 2 || names[0] != "gmail" || names[1] != "mbox" {
		t.Errorf("readers: got %v, want [gmail mbox]", names)
	}

	if err := r.RegisterReader(&MboxPlugin{}); err == nil {
		t.Error("registering a duplicate reader should fail")
	}
	if _, err := r.GetReader("thunderbird"); err == nil {
		t.Error("expected error for unknown reader")
	}
}

func TestScopes(t *testing.T) {
	r := Default()

	scopes, err := r.Scopes("gmail", "mbox", "gmail")
	if err != nil {
		t.Fatalf("Scopes: %v", err)
	}
	want := []string{gmailapi.GmailModifyScope, gmailapi.GmailReadonlyScope}
	if len(scopes) != len(want) {
		t.Fatalf("scopes: got %v, want %v", scopes, want)
	}
	for i := range want {
		if scopes[i] != want[i] {
			t.Errorf("scope %d: got %q, want %q", i, scopes[i], want[i])
		}
	}

	if _, err := r.Scopes("nope"); err == nil {
		t.Error("expected error for unknown reader")
	}
}

func TestMboxPlugin_Config(t *testing.T) {
	p := &MboxPlugin{}
	if _, err := p.NewReader(nil, json.RawMessage(`{"path":""}`), nil); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := p.NewReader(nil, json.RawMessage(`not json`), nil); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := p.NewReader(nil, json.RawMessage(`{"path":"/tmp/x.mbox"}`), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExporters(t *testing.T) {
	r := Default()
	exp, err := r.GetExporter("csv")
	if err != nil {
		t.Fatalf("GetExporter: %v", err)
	}

	var buf bytes.Buffer
	if err := exp.Export(&buf, []api.Expense{{ID: 1, Description: "Cafe", AmountMVR: 10}}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Cafe")) {
		t.Errorf("csv output missing description: %q", buf.String())
	}

	if got := len(r.ListExporters()); got != 2 {
		t.Errorf("exporters: got %d, want 2", got)
	}
}
