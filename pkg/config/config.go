// Package config loads tab's configuration from an optional JSON file and
// environment variables. Environment variables win.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults.
const (
	DefaultAddr             = ":8080"
	DefaultConfigFile       = "config.json"
	DefaultClientSecretFile = "data/client_secret.json"
	DefaultTokenFile        = "data/token.json"
	DefaultSyncSchedule     = "@every 15m"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds the application configuration.
type Config struct {
	// Addr is the HTTP listen address.
	// Environment variable: TAB_ADDR
	Addr string `koanf:"TAB_ADDR"`

	// Store selects the local store, "postgres" or "memory".
	// Environment variable: TAB_STORE
	Store string `koanf:"TAB_STORE"`

	// SyncSchedule is the cron spec of the catch-up sync.
	// Environment variable: TAB_SYNC_SCHEDULE
	SyncSchedule string `koanf:"TAB_SYNC_SCHEDULE"`

	// SyncAttempts bounds retries of a single sync job.
	// Environment variable: TAB_SYNC_ATTEMPTS
	SyncAttempts int `koanf:"TAB_SYNC_ATTEMPTS"`

	// SyncRetryDelay is the first backoff delay of a sync job, e.g. "10s".
	// Environment variable: TAB_SYNC_RETRY_DELAY
	SyncRetryDelay time.Duration `koanf:"TAB_SYNC_RETRY_DELAY"`

	// FetchLimit bounds how many sheet rows a refresh pulls.
	// Environment variable: TAB_FETCH_LIMIT
	FetchLimit int `koanf:"TAB_FETCH_LIMIT"`

	// SpreadsheetID, SheetName and CredentialsFile seed the stored sync
	// settings on startup when set.
	SpreadsheetID   string `koanf:"TAB_SPREADSHEET_ID"`
	SheetName       string `koanf:"TAB_SHEET_NAME"`
	CredentialsFile string `koanf:"TAB_CREDENTIALS_FILE"`

	// AllowedSenders is a comma separated SMS sender allow-list.
	// Environment variable: TAB_ALLOWED_SENDERS
	AllowedSenders string `koanf:"TAB_ALLOWED_SENDERS"`

	// Readers is a JSON array of {"plugin": ..., "config": {...}} sources.
	// Environment variable: TAB_READERS
	Readers string `koanf:"TAB_READERS"`

	// ClientSecretFile and TokenFile hold the Gmail OAuth client and token.
	ClientSecretFile string `koanf:"TAB_CLIENT_SECRET_FILE"`
	TokenFile        string `koanf:"TAB_TOKEN_FILE"`

	// CORSOrigins is a comma separated list of allowed browser origins.
	// Environment variable: TAB_CORS_ORIGINS
	CORSOrigins string `koanf:"TAB_CORS_ORIGINS"`

	Postgres PostgresConfig `koanf:",squash"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL      string `koanf:"DATABASE_URL"`
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
	MaxConns int32  `koanf:"POSTGRES_MAX_CONNS"`
}

// Source is one configured reader.
type Source struct {
	Plugin string          `json:"plugin"`
	Config json.RawMessage `json:"config"`
}

// Load reads path, if it exists, then the environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), kJson.Parser()); err != nil {
				return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("checking config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Store == "" {
		c.Store = StorePostgres
	}
	c.Store = strings.ToLower(c.Store)
	if c.SyncSchedule == "" {
		c.SyncSchedule = DefaultSyncSchedule
	}
	if c.ClientSecretFile == "" {
		c.ClientSecretFile = DefaultClientSecretFile
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
}

// Validate checks values that have no sensible default.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("TAB_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.SyncAttempts < 0 {
		return fmt.Errorf("TAB_SYNC_ATTEMPTS must not be negative")
	}
	if _, err := c.Sources(); err != nil {
		return err
	}
	return nil
}

// Sources decodes Readers.
func (c Config) Sources() ([]Source, error) {
	if strings.TrimSpace(c.Readers) == "" {
		return nil, nil
	}
	var out []Source
	if err := json.Unmarshal([]byte(c.Readers), &out); err != nil {
		return nil, fmt.Errorf("parsing TAB_READERS: %w", err)
	}
	for i, s := range out {
		if s.Plugin == "" {
			return nil, fmt.Errorf("TAB_READERS[%d]: plugin is required", i)
		}
	}
	return out, nil
}

// Origins splits CORSOrigins.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
