// Package reconcile decides when two expenses describe the same spend and
// merges local and remote expense sets without introducing duplicates.
package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
)

// AmountTolerance is the largest MVR difference still considered equal.
const AmountTolerance = 0.01

// NormalizeToMidnight returns the start of t's calendar day in local time.
func NormalizeToMidnight(t time.Time) time.Time {
	y, m, d := t.In(time.Local).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// SameDay reports whether a and b fall on the same calendar day in local time.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// IsDuplicate reports whether a and b look like the same spend: same
// category, similar description, amounts within AmountTolerance, same day.
func IsDuplicate(a, b *api.Expense) bool {
	if a == nil || b == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(a.Category), strings.TrimSpace(b.Category)) {
		return false
	}
	if !SimilarDescription(a.Description, b.Description) {
		return false
	}
	if math.Abs(a.AmountMVR-b.AmountMVR) > AmountTolerance+1e-9 {
		return false
	}
	return SameDay(a.Date, b.Date)
}

// SimilarDescription compares normalized descriptions for equality or containment.
func SimilarDescription(a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return na == nb
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Result is the outcome of merging local and remote expense sets.
type Result struct {
	// Pull holds remote rows that have no local counterpart.
	Pull []api.Expense
	// Push holds unsynced local rows that have no remote counterpart.
	Push []api.Expense
}

// Merge compares local expenses against rows fetched from the sheet.
func Merge(local, remote []api.Expense) Result {
	var res Result

	localByID := make(map[int64]struct{}, len(local))
	for i := range local {
		localByID[local[i].ID] = struct{}{}
	}
	remoteByID := make(map[int64]struct{}, len(remote))
	for i := range remote {
		remoteByID[remote[i].ID] = struct{}{}
	}

	for i := range remote {
		r := &remote[i]
		if _, ok := localByID[r.ID]; ok {
			continue
		}
		if containsDuplicate(local, r) {
			continue
		}
		res.Pull = append(res.Pull, *r)
	}

	for i := range local {
		l := &local[i]
		if l.IsSynced {
			continue
		}
		if _, ok := remoteByID[l.ID]; ok {
			continue
		}
		if containsDuplicate(remote, l) {
			continue
		}
		res.Push = append(res.Push, *l)
	}

	return res
}

func containsDuplicate(set []api.Expense, e *api.Expense) bool {
	for i := range set {
		if IsDuplicate(&set[i], e) {
			return true
		}
	}
	return false
}
