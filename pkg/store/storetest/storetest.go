// Package storetest holds a behavioural suite shared by store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/store"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

func date(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 0, 0, 0, 0, time.UTC)
}

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndGet", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		e := &api.Expense{Date: date(time.March, 12), Category: "Food", Description: "Cafe Alfa", AmountMVR: 150, OriginalCurrency: "MVR", OriginalAmount: 150}
		id, err := s.InsertExpense(ctx, e)
		require.NoError(t, err)
		require.NotZero(t, id)

		got, err := s.GetExpense(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Cafe Alfa", got.Description)
		assert.InDelta(t, 150.0, got.AmountMVR, 0.001)
		assert.True(t, got.Date.Equal(e.Date))
		assert.False(t, got.IsSynced)
		assert.False(t, got.CreatedAt.IsZero())

		_, err = s.GetExpense(ctx, id+1000)
		assert.True(t, errors.Is(err, api.ErrNotFound))
	})

	t.Run("InsertReplacesOnConflict", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		_, err := s.InsertExpense(ctx, &api.Expense{ID: 42, Date: date(time.March, 1), Category: "Food", Description: "old", AmountMVR: 1})
		require.NoError(t, err)
		_, err = s.InsertExpense(ctx, &api.Expense{ID: 42, Date: date(time.March, 1), Category: "Food", Description: "new", AmountMVR: 2, IsSynced: true})
		require.NoError(t, err)

		all, err := s.ListExpenses(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "new", all[0].Description)
		assert.True(t, all[0].IsSynced)

		id, err := s.InsertExpense(ctx, &api.Expense{Date: date(time.March, 2), Category: "Food", Description: "next", AmountMVR: 3})
		require.NoError(t, err)
		assert.Greater(t, id, int64(42))
	})

	t.Run("ListOrderingAndRanges", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.InsertExpenses(ctx, []api.Expense{
			{ID: 1, Date: date(time.February, 28), Category: "Bills", Description: "Stelco", AmountMVR: 400},
			{ID: 2, Date: date(time.March, 1), Category: "Food", Description: "Cafe", AmountMVR: 50},
			{ID: 3, Date: date(time.March, 31), Category: "Food", Description: "Bakery", AmountMVR: 25.5},
			{ID: 4, Date: date(time.April, 1), Category: "Health", Description: "Pharmacy", AmountMVR: 80},
		}))

		all, err := s.ListExpenses(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, []int64{4, 3, 2, 1}, ids(all))

		march, err := s.ListExpensesBetween(ctx, date(time.March, 1), date(time.March, 31))
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2}, ids(march))

		total, err := s.TotalBetween(ctx, date(time.March, 1), date(time.March, 31))
		require.NoError(t, err)
		assert.InDelta(t, 75.5, total, 0.001)

		empty, err := s.TotalBetween(ctx, date(time.June, 1), date(time.June, 30))
		require.NoError(t, err)
		assert.Zero(t, empty)
	})

	t.Run("UnsyncedAndMarkSynced", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		base := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, s.InsertExpenses(ctx, []api.Expense{
			{ID: 1, Date: date(time.March, 1), Category: "Food", Description: "a", AmountMVR: 1, CreatedAt: base.Add(2 * time.Minute)},
			{ID: 2, Date: date(time.March, 1), Category: "Food", Description: "b", AmountMVR: 1, CreatedAt: base},
			{ID: 3, Date: date(time.March, 1), Category: "Food", Description: "c", AmountMVR: 1, CreatedAt: base.Add(time.Minute), IsSynced: true},
		}))

		unsynced, err := s.ListUnsynced(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 1}, ids(unsynced))

		require.NoError(t, s.MarkSynced(ctx, 1, 2))
		unsynced, err = s.ListUnsynced(ctx)
		require.NoError(t, err)
		assert.Empty(t, unsynced)
	})

	t.Run("UpdateAndDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		id, err := s.InsertExpense(ctx, &api.Expense{Date: date(time.May, 5), Category: "Food", Description: "Lunch", AmountMVR: 90})
		require.NoError(t, err)

		e, err := s.GetExpense(ctx, id)
		require.NoError(t, err)
		e.Description = "Dinner"
		require.NoError(t, s.UpdateExpense(ctx, e))

		got, err := s.GetExpense(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Dinner", got.Description)

		err = s.UpdateExpense(ctx, &api.Expense{ID: 9999, Description: "x", AmountMVR: 1})
		assert.True(t, errors.Is(err, api.ErrNotFound))

		require.NoError(t, s.DeleteExpense(ctx, id))
		_, err = s.GetExpense(ctx, id)
		assert.True(t, errors.Is(err, api.ErrNotFound))

		_, err = s.InsertExpense(ctx, &api.Expense{Date: date(time.May, 5), Category: "Food", Description: "x", AmountMVR: 1})
		require.NoError(t, err)
		require.NoError(t, s.DeleteAllExpenses(ctx))
		all, err := s.ListExpenses(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("ReplaceExpenses", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.InsertExpenses(ctx, []api.Expense{
			{ID: 1, Date: date(time.April, 1), Category: "Food", Description: "a", AmountMVR: 10},
			{ID: 2, Date: date(time.April, 2), Category: "Food", Description: "b", AmountMVR: 20},
		}))

		// a zero amount violates the store constraint, so nothing changes
		err := s.ReplaceExpenses(ctx, []api.Expense{
			{ID: 7, Date: date(time.April, 3), Category: "Bills", Description: "ok", AmountMVR: 5},
			{ID: 8, Date: date(time.April, 3), Category: "Bills", Description: "bad", AmountMVR: 0},
		})
		require.Error(t, err)
		all, err := s.ListExpenses(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 1}, ids(all))

		require.NoError(t, s.ReplaceExpenses(ctx, []api.Expense{
			{ID: 7, Date: date(time.April, 3), Category: "Bills", Description: "ok", AmountMVR: 5, IsSynced: true},
		}))
		all, err = s.ListExpenses(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, ids(all))
		assert.True(t, all[0].IsSynced)

		require.NoError(t, s.ReplaceExpenses(ctx, nil))
		all, err = s.ListExpenses(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("Categories", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		require.NoError(t, store.SeedDefaultCategories(ctx, s))
		// second seed is a no-op
		require.NoError(t, store.SeedDefaultCategories(ctx, s))

		cats, err := s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 7)
		assert.Equal(t, "food", cats[0].ID)
		assert.Equal(t, "other", cats[6].ID)

		require.NoError(t, s.UpsertCategories(ctx, api.Category{ID: "food", Name: "Food & Drink", Icon: "🍔", Order: 1}))
		c, err := s.GetCategory(ctx, "food")
		require.NoError(t, err)
		assert.Equal(t, "Food & Drink", c.Name)

		require.NoError(t, s.DeleteCategory(ctx, "food"))
		_, err = s.GetCategory(ctx, "food")
		assert.True(t, errors.Is(err, api.ErrNotFound))
	})

	t.Run("Settings", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		v, err := s.GetSetting(ctx, store.KeySpreadsheetID)
		require.NoError(t, err)
		assert.Empty(t, v)

		loaded, err := store.LoadSettings(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, store.DefaultSheetName, loaded.SheetName)
		assert.Equal(t, api.CurrencyMVR, loaded.DefaultCurrency)
		assert.False(t, loaded.Configured())

		require.NoError(t, store.SaveSettings(ctx, s, store.Settings{
			SpreadsheetID:  " sheet-123 ",
			SheetName:      "Expenses",
			Credentials:    `{"type":"service_account"}`,
			AllowedSenders: "BML, 455",
		}))

		loaded, err = store.LoadSettings(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, "sheet-123", loaded.SpreadsheetID)
		assert.Equal(t, "Expenses", loaded.SheetName)
		assert.True(t, loaded.Configured())
		assert.Equal(t, []string{"BML", "455"}, loaded.Senders())

		require.NoError(t, s.SetSetting(ctx, store.KeySheetName, "Other"))
		v, err = s.GetSetting(ctx, store.KeySheetName)
		require.NoError(t, err)
		assert.Equal(t, "Other", v)
	})
}

func ids(es []api.Expense) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
