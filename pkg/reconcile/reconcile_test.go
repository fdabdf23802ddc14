package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ArionMiles/tab/pkg/api"
)

func day(d, h int) time.Time {
	return time.Date(2024, time.March, d, h, 0, 0, 0, time.Local)
}

func TestIsDuplicate(t *testing.T) {
	base := api.Expense{ID: 1, Date: day(12, 9), Category: "Food", Description: "Cafe Alfa", AmountMVR: 150}

	tests := []struct {
		name   string
		modify func(e *api.Expense)
		want   bool
	}{
		{"identical", func(e *api.Expense) {}, true},
		{"category case differs", func(e *api.Expense) { e.Category = "food" }, true},
		{"description contained", func(e *api.Expense) { e.Description = "cafe alfa  hulhumale" }, true},
		{"amount within tolerance", func(e *api.Expense) { e.AmountMVR = 150.01 }, true},
		{"same day different hour", func(e *api.Expense) { e.Date = day(12, 22) }, true},
		{"different category", func(e *api.Expense) { e.Category = "Shopping" }, false},
		{"different description", func(e *api.Expense) { e.Description = "Sea House" }, false},
		{"amount beyond tolerance", func(e *api.Expense) { e.AmountMVR = 150.02 }, false},
		{"different day", func(e *api.Expense) { e.Date = day(13, 9) }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			other := base
			other.ID = 2
			tc.modify(&other)
			if got := IsDuplicate(&base, &other); got != tc.want {
				t.Errorf("IsDuplicate: got %v, want %v", got, tc.want)
			}
			if got := IsDuplicate(&other, &base); got != tc.want {
				t.Errorf("IsDuplicate (reversed): got %v, want %v", got, tc.want)
			}
		})
	}

	assert.False(t, IsDuplicate(nil, &base))
}

func TestNormalizeToMidnight(t *testing.T) {
	got := NormalizeToMidnight(time.Date(2024, time.March, 12, 17, 45, 12, 99, time.Local))
	assert.Equal(t, time.Date(2024, time.March, 12, 0, 0, 0, 0, time.Local), got)
}

func TestNormalizeToMidnight_UsesLocalDay(t *testing.T) {
	orig := time.Local
	time.Local = time.FixedZone("MVT", 5*60*60)
	t.Cleanup(func() { time.Local = orig })

	// 22:00 UTC on the 12th is 03:00 on the 13th in Male.
	got := NormalizeToMidnight(time.Date(2024, time.March, 12, 22, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.March, 13, 0, 0, 0, 0, time.Local), got)
	assert.Equal(t, time.Local, got.Location())
}

func TestMerge(t *testing.T) {
	local := []api.Expense{
		{ID: 1, Date: day(1, 0), Category: "Food", Description: "Cafe", AmountMVR: 10, IsSynced: true},
		{ID: 2, Date: day(2, 0), Category: "Bills", Description: "Dhiraagu", AmountMVR: 500},
		{ID: 3, Date: day(3, 0), Category: "Transport", Description: "Taxi", AmountMVR: 25},
	}
	remote := []api.Expense{
		// same id as a local row
		{ID: 1, Date: day(1, 0), Category: "Food", Description: "Cafe", AmountMVR: 10, IsSynced: true},
		// heuristic match for local 3 under a different id
		{ID: 30, Date: day(3, 0), Category: "transport", Description: "taxi", AmountMVR: 25, IsSynced: true},
		// new on the remote side
		{ID: 40, Date: day(4, 0), Category: "Health", Description: "Pharmacy", AmountMVR: 80, IsSynced: true},
	}

	res := Merge(local, remote)

	if assert.Len(t, res.Pull, 1) {
		assert.Equal(t, int64(40), res.Pull[0].ID)
	}
	if assert.Len(t, res.Push, 1) {
		assert.Equal(t, int64(2), res.Push[0].ID)
	}
}

func TestMergeEmpty(t *testing.T) {
	res := Merge(nil, nil)
	assert.Empty(t, res.Pull)
	assert.Empty(t, res.Push)
}
