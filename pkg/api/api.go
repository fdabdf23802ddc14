// Package api defines the core interfaces and data structures for tab.
package api

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Currency codes understood by the parsers and converters.
const (
	CurrencyMVR = "MVR"
	CurrencyUSD = "USD"
)

// DefaultCategory is used when an expense is saved without a category.
const DefaultCategory = "Other"

var (
	// ErrNotFound is returned when an expense, category or detection does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidExpense is returned when an expense fails validation.
	ErrInvalidExpense = errors.New("invalid expense")
	// ErrNotConfigured is returned when spreadsheet settings are missing.
	ErrNotConfigured = errors.New("spreadsheet sync not configured")
)

// Expense is a single recorded spend. Amount is always stored in MVR.
type Expense struct {
	ID               int64     `json:"id"`
	Date             time.Time `json:"date"`
	Category         string    `json:"category"`
	Description      string    `json:"description"`
	AmountMVR        float64   `json:"amount_mvr"`
	OriginalCurrency string    `json:"original_currency"`
	OriginalAmount   float64   `json:"original_amount"`
	IsSynced         bool      `json:"is_synced"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks the invariants every stored expense must hold.
func (e *Expense) Validate() error {
	if strings.TrimSpace(e.Description) == "" {
		return errors.Join(ErrInvalidExpense, errors.New("description is required"))
	}
	if e.AmountMVR <= 0 {
		return errors.Join(ErrInvalidExpense, errors.New("amount must be greater than 0"))
	}
	return nil
}

// Category is a user-visible expense category.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Order int    `json:"order"`
}

// DefaultCategories are seeded into an empty store.
func DefaultCategories() []Category {
	return []Category{
		{ID: "food", Name: "Food", Icon: "🍔", Order: 1},
		{ID: "transport", Name: "Transport", Icon: "🚕", Order: 2},
		{ID: "shopping", Name: "Shopping", Icon: "🛒", Order: 3},
		{ID: "health", Name: "Health", Icon: "💊", Order: 4},
		{ID: "entertainment", Name: "Entertainment", Icon: "🎮", Order: 5},
		{ID: "bills", Name: "Bills", Icon: "🏠", Order: 6},
		{ID: "other", Name: "Other", Icon: "📱", Order: 7},
	}
}

// ParsedExpense is the structured result of parsing an SMS or notification.
type ParsedExpense struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	// Amount is in Currency, which is always MVR after conversion.
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	// OriginalAmount and OriginalCurrency are set when the message carried them explicitly.
	OriginalAmount   *float64 `json:"original_amount,omitempty"`
	OriginalCurrency *string  `json:"original_currency,omitempty"`
}

// Original returns the amount and currency as written in the source message.
func (p *ParsedExpense) Original() (float64, string) {
	if p.OriginalAmount != nil && p.OriginalCurrency != nil {
		return *p.OriginalAmount, *p.OriginalCurrency
	}
	return p.Amount, p.Currency
}

// MessageKind identifies where an inbound message came from.
type MessageKind string

// Message kinds.
const (
	KindSMS          MessageKind = "sms"
	KindNotification MessageKind = "notification"
)

// Message is a raw inbound SMS or app notification.
type Message struct {
	Kind MessageKind `json:"kind"`
	// Sender is the SMS originating address or the notifying app package.
	Sender     string    `json:"sender"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body"`
	SubText    string    `json:"sub_text,omitempty"`
	BigText    string    `json:"big_text,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	// SourceID is the upstream identifier (e.g. Gmail message ID), used for acknowledgment.
	SourceID string `json:"-"`
}

// Reader reads messages from a source and sends them to the provided channel.
// Implementations should close the channel when done or on error.
// The ack channel receives the SourceID of every message that was handled,
// so sources that track read state can mark it.
type Reader interface {
	Read(ctx context.Context, out chan<- *Message, ack <-chan string) error
}

// Labels maps merchant names to their suggested category.
type Labels map[string]struct {
	Category string `json:"category"`
}

// LabelLookup returns the category for a merchant, matched case-insensitively.
// Returns an empty string if the merchant is not found.
func (l Labels) LabelLookup(merchant string) string {
	if val, exists := l[merchant]; exists {
		return val.Category
	}
	for name, val := range l {
		if strings.EqualFold(name, merchant) {
			return val.Category
		}
	}
	return ""
}
