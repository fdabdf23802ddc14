// Package postgres provides a PostgreSQL-backed store.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/store"
)

//go:embed 001_create_expenses.sql
var migrationSQL string

// Config holds the PostgreSQL connection settings.
type Config struct {
	// URL, when set, is used instead of the individual fields.
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// ConnString renders the pgx connection string for cfg.
func (cfg Config) ConnString() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)
}

// Store persists expenses, categories and settings in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to PostgreSQL and applies the schema.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

const expenseColumns = `id, date, category, description, amount_mvr,
	original_currency, original_amount, is_synced, created_at, updated_at`

func scanExpense(row pgx.Row) (api.Expense, error) {
	var e api.Expense
	err := row.Scan(
		&e.ID, &e.Date, &e.Category, &e.Description, &e.AmountMVR,
		&e.OriginalCurrency, &e.OriginalAmount, &e.IsSynced, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

func (s *Store) queryExpenses(ctx context.Context, sql string, args ...any) ([]api.Expense, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Expense, error) {
		return scanExpense(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning expenses: %w", err)
	}
	return out, nil
}

// Expense operations

const upsertExpense = `
	INSERT INTO expenses (
		id, date, category, description, amount_mvr,
		original_currency, original_amount, is_synced, created_at, updated_at
	) VALUES (
		COALESCE($1, nextval(pg_get_serial_sequence('expenses', 'id'))),
		$2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($10, NOW())
	)
	ON CONFLICT (id) DO UPDATE SET
		date = EXCLUDED.date,
		category = EXCLUDED.category,
		description = EXCLUDED.description,
		amount_mvr = EXCLUDED.amount_mvr,
		original_currency = EXCLUDED.original_currency,
		original_amount = EXCLUDED.original_amount,
		is_synced = EXCLUDED.is_synced,
		created_at = EXCLUDED.created_at,
		updated_at = NOW()
	RETURNING id`

// Rows inserted with explicit IDs (pulled from the sheet) must not collide
// with later generated IDs.
const bumpSequence = `
	SELECT setval(pg_get_serial_sequence('expenses', 'id'),
		GREATEST((SELECT COALESCE(MAX(id), 0) FROM expenses), 1))`

func upsertArgs(e *api.Expense) []any {
	var id *int64
	if e.ID != 0 {
		id = &e.ID
	}
	return []any{
		id, e.Date, e.Category, e.Description, e.AmountMVR,
		e.OriginalCurrency, e.OriginalAmount, e.IsSynced,
		nullTime(e.CreatedAt), nullTime(e.UpdatedAt),
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) InsertExpense(ctx context.Context, e *api.Expense) (int64, error) {
	es := []api.Expense{*e}
	if err := s.InsertExpenses(ctx, es); err != nil {
		return 0, err
	}
	e.ID = es[0].ID
	return e.ID, nil
}

// InsertExpenses upserts every expense in one transaction and assigns
// generated IDs back into es.
func (s *Store) InsertExpenses(ctx context.Context, es []api.Expense) error {
	if len(es) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertExpenses(ctx, tx, es); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ReplaceExpenses deletes every expense and inserts es in one transaction.
func (s *Store) ReplaceExpenses(ctx context.Context, es []api.Expense) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM expenses`); err != nil {
		return fmt.Errorf("deleting expenses: %w", err)
	}
	if len(es) > 0 {
		if err := insertExpenses(ctx, tx, es); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertExpenses(ctx context.Context, tx pgx.Tx, es []api.Expense) error {
	batch := &pgx.Batch{}
	explicit := false
	for i := range es {
		if es[i].ID != 0 {
			explicit = true
		}
		batch.Queue(upsertExpense, upsertArgs(&es[i])...)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range es {
		if err := results.QueryRow().Scan(&es[i].ID); err != nil {
			results.Close()
			return fmt.Errorf("inserting expense %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if explicit {
		if _, err := tx.Exec(ctx, bumpSequence); err != nil {
			return fmt.Errorf("advancing id sequence: %w", err)
		}
	}
	return nil
}

func (s *Store) UpdateExpense(ctx context.Context, e *api.Expense) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE expenses SET
			date = $2, category = $3, description = $4, amount_mvr = $5,
			original_currency = $6, original_amount = $7, is_synced = $8,
			updated_at = NOW()
		WHERE id = $1`,
		e.ID, e.Date, e.Category, e.Description, e.AmountMVR,
		e.OriginalCurrency, e.OriginalAmount, e.IsSynced,
	)
	if err != nil {
		return fmt.Errorf("updating expense %d: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %d: %w", e.ID, api.ErrNotFound)
	}
	return nil
}

func (s *Store) GetExpense(ctx context.Context, id int64) (*api.Expense, error) {
	e, err := scanExpense(s.pool.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("expense %d: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting expense %d: %w", id, err)
	}
	return &e, nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]api.Expense, error) {
	return s.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY date DESC, id DESC`)
}

func (s *Store) ListExpensesBetween(ctx context.Context, start, end time.Time) ([]api.Expense, error) {
	return s.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses
		WHERE date >= $1 AND date <= $2
		ORDER BY date DESC, id DESC`, start, end)
}

func (s *Store) TotalBetween(ctx context.Context, start, end time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_mvr), 0) FROM expenses WHERE date >= $1 AND date <= $2`,
		start, end,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing expenses: %w", err)
	}
	return total, nil
}

func (s *Store) ListUnsynced(ctx context.Context) ([]api.Expense, error) {
	return s.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE NOT is_synced ORDER BY created_at ASC, id ASC`)
}

func (s *Store) MarkSynced(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE expenses SET is_synced = TRUE WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("marking expenses synced: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting expense %d: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteAllExpenses(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM expenses`); err != nil {
		return fmt.Errorf("deleting expenses: %w", err)
	}
	return nil
}

// Category operations

func (s *Store) ListCategories(ctx context.Context) ([]api.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, icon, sort_order FROM categories ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Category, error) {
		var c api.Category
		err := row.Scan(&c.ID, &c.Name, &c.Icon, &c.Order)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning categories: %w", err)
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*api.Category, error) {
	var c api.Category
	err := s.pool.QueryRow(ctx, `SELECT id, name, icon, sort_order FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Icon, &c.Order)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting category %q: %w", id, err)
	}
	return &c, nil
}

func (s *Store) UpsertCategories(ctx context.Context, cs ...api.Category) error {
	if len(cs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range cs {
		batch.Queue(`
			INSERT INTO categories (id, name, icon, sort_order) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				icon = EXCLUDED.icon,
				sort_order = EXCLUDED.sort_order`,
			c.ID, c.Name, c.Icon, c.Order,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting categories: %w", err)
	}
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting category %q: %w", id, err)
	}
	return nil
}

// Settings

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}
