package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("addr: got %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("store: got %q, want %q", cfg.Store, StorePostgres)
	}
	if cfg.SyncSchedule != DefaultSyncSchedule {
		t.Errorf("schedule: got %q", cfg.SyncSchedule)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"TAB_ADDR": ":9000",
		"TAB_STORE": "memory",
		"TAB_SPREADSHEET_ID": "from-file",
		"POSTGRES_HOST": "db",
		"POSTGRES_PORT": 5433,
		"TAB_READERS": "[{\"plugin\":\"mbox\",\"config\":{\"path\":\"a.mbox\"}}]"
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TAB_SPREADSHEET_ID", "from-env")
	t.Setenv("TAB_SYNC_RETRY_DELAY", "2s")
	t.Setenv("TAB_CORS_ORIGINS", "http://localhost:5173, https://tab.example ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr != ":9000" {
		t.Errorf("addr: got %q", cfg.Addr)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("store: got %q", cfg.Store)
	}
	if cfg.SpreadsheetID != "from-env" {
		t.Errorf("spreadsheet id: got %q, want env value", cfg.SpreadsheetID)
	}
	if cfg.SyncRetryDelay != 2*time.Second {
		t.Errorf("retry delay: got %v", cfg.SyncRetryDelay)
	}
	if cfg.Postgres.Host != "db" || cfg.Postgres.Port != 5433 {
		t.Errorf("postgres: got %+v", cfg.Postgres)
	}
	if got := cfg.Origins(); len(got) != 2 || got[1] != "https://tab.example" {
		t.Errorf("origins: got %v", got)
	}

	sources, err := cfg.Sources()
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(sources) != 1 || sources[0].Plugin != "mbox" {
		t.Errorf("sources: got %+v", sources)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":   {"TAB_STORE": "sqlite"},
		"bad readers":     {"TAB_READERS": "[{"},
		"reader w/o name": {"TAB_READERS": `[{"config":{}}]`},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed file")
	}
}
