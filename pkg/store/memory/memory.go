// Package memory provides an in-memory store.Store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/store"
)

// Store keeps everything in maps guarded by a single lock.
type Store struct {
	mu sync.RWMutex

	expenses   map[int64]api.Expense
	categories map[string]api.Category
	settings   map[string]string
	nextID     int64

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		expenses:   make(map[int64]api.Expense),
		categories: make(map[string]api.Category),
		settings:   make(map[string]string),
		nextID:     1,
		now:        time.Now,
	}
}

// Expense operations

func (m *Store) InsertExpense(ctx context.Context, e *api.Expense) (int64, error) {
	if err := checkAmounts(*e); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e), nil
}

func (m *Store) InsertExpenses(ctx context.Context, es []api.Expense) error {
	if err := checkAmounts(es...); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range es {
		m.insertLocked(&es[i])
	}
	return nil
}

func (m *Store) ReplaceExpenses(ctx context.Context, es []api.Expense) error {
	if err := checkAmounts(es...); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = make(map[int64]api.Expense, len(es))
	for i := range es {
		m.insertLocked(&es[i])
	}
	return nil
}

// checkAmounts mirrors the database constraint on amount_mvr.
func checkAmounts(es ...api.Expense) error {
	for i := range es {
		if es[i].AmountMVR <= 0 {
			return fmt.Errorf("expense %d: amount must be greater than 0: %w", es[i].ID, api.ErrInvalidExpense)
		}
	}
	return nil
}

func (m *Store) insertLocked(e *api.Expense) int64 {
	if e.ID == 0 {
		e.ID = m.nextID
	}
	if e.ID >= m.nextID {
		m.nextID = e.ID + 1
	}
	now := m.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	m.expenses[e.ID] = *e
	return e.ID
}

func (m *Store) UpdateExpense(ctx context.Context, e *api.Expense) error {
	if err := checkAmounts(*e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.expenses[e.ID]
	if !ok {
		return fmt.Errorf("expense %d: %w", e.ID, api.ErrNotFound)
	}
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = m.now()
	m.expenses[e.ID] = *e
	return nil
}

func (m *Store) GetExpense(ctx context.Context, id int64) (*api.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.expenses[id]
	if !ok {
		return nil, fmt.Errorf("expense %d: %w", id, api.ErrNotFound)
	}
	return &e, nil
}

func (m *Store) ListExpenses(ctx context.Context) ([]api.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(api.Expense) bool { return true }, byDateDesc), nil
}

func (m *Store) ListExpensesBetween(ctx context.Context, start, end time.Time) ([]api.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(inRange(start, end), byDateDesc), nil
}

func (m *Store) TotalBetween(ctx context.Context, start, end time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, e := range m.filterLocked(inRange(start, end), byDateDesc) {
		total += e.AmountMVR
	}
	return total, nil
}

func (m *Store) ListUnsynced(ctx context.Context) ([]api.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(e api.Expense) bool { return !e.IsSynced }, byCreatedAsc), nil
}

func (m *Store) MarkSynced(ctx context.Context, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if e, ok := m.expenses[id]; ok {
			e.IsSynced = true
			m.expenses[id] = e
		}
	}
	return nil
}

func (m *Store) DeleteExpense(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expenses, id)
	return nil
}

func (m *Store) DeleteAllExpenses(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = make(map[int64]api.Expense)
	return nil
}

func (m *Store) filterLocked(keep func(api.Expense) bool, less func(a, b api.Expense) bool) []api.Expense {
	out := make([]api.Expense, 0, len(m.expenses))
	for _, e := range m.expenses {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func inRange(start, end time.Time) func(api.Expense) bool {
	return func(e api.Expense) bool {
		return !e.Date.Before(start) && !e.Date.After(end)
	}
}

func byDateDesc(a, b api.Expense) bool {
	if a.Date.Equal(b.Date) {
		return a.ID > b.ID
	}
	return a.Date.After(b.Date)
}

func byCreatedAsc(a, b api.Expense) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Category operations

func (m *Store) ListCategories(ctx context.Context) ([]api.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].ID < out[j].ID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (m *Store) GetCategory(ctx context.Context, id string) (*api.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %q: %w", id, api.ErrNotFound)
	}
	return &c, nil
}

func (m *Store) UpsertCategories(ctx context.Context, cs ...api.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		m.categories[c.ID] = c
	}
	return nil
}

func (m *Store) DeleteCategory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.categories, id)
	return nil
}

// Settings

func (m *Store) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *Store) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// Close is a no-op.
func (m *Store) Close() {}
