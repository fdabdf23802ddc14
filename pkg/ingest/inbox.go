package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
)

// DefaultInboxSize bounds how many unconfirmed detections are kept.
const DefaultInboxSize = 100

// Detection is a parsed expense waiting for the user to confirm or dismiss it.
type Detection struct {
	ID                string            `json:"id"`
	Kind              api.MessageKind   `json:"kind"`
	Sender            string            `json:"sender"`
	Text              string            `json:"text"`
	Expense           api.ParsedExpense `json:"expense"`
	SuggestedCategory string            `json:"suggested_category,omitempty"`
	// DuplicateOf is the id of a stored expense that looks like the same spend.
	DuplicateOf *int64    `json:"duplicate_of,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Inbox holds pending detections in memory. The oldest detection is evicted
// once the inbox is full.
type Inbox struct {
	mu    sync.Mutex
	items map[string]*Detection
	order []string
	max   int
}

// NewInbox creates an inbox holding at most size detections.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{
		items: make(map[string]*Detection),
		max:   size,
	}
}

func (b *Inbox) put(d *Detection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.order) >= b.max {
		delete(b.items, b.order[0])
		b.order = b.order[1:]
	}
	b.items[d.ID] = d
	b.order = append(b.order, d.ID)
}

// List returns pending detections, newest first.
func (b *Inbox) List() []Detection {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Detection, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.items[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// Get returns a pending detection.
func (b *Inbox) Get(id string) (*Detection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.items[id]
	if !ok {
		return nil, api.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// take removes and returns a detection.
func (b *Inbox) take(id string) (*Detection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.items[id]
	if !ok {
		return nil, api.ErrNotFound
	}
	delete(b.items, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return d, nil
}

// Len returns the number of pending detections.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
