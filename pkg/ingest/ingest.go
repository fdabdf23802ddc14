// Package ingest turns inbound SMS and bank-app notifications into
// detections the user can confirm as expenses.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/parser/notification"
	"github.com/ArionMiles/tab/pkg/parser/sms"
)

// Expenses is the part of the repository ingest needs.
type Expenses interface {
	AddExpense(ctx context.Context, e *api.Expense) (int64, error)
	FindDuplicate(ctx context.Context, e *api.Expense) (*api.Expense, error)
	AllowedSenders(ctx context.Context) ([]string, error)
}

// Service parses messages, keeps the resulting detections and saves them
// once confirmed.
type Service struct {
	expenses Expenses
	labels   api.Labels
	notifier Notifier
	inbox    *Inbox
	sms      *sms.Parser
	notif    *notification.Parser
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Config holds optional settings for the service.
type Config struct {
	// Labels suggests a category from the merchant name.
	Labels api.Labels
	// InboxSize bounds the pending detections. Defaults to DefaultInboxSize.
	InboxSize int
	// Now overrides the clock, used for undated messages.
	Now func() time.Time
}

// New creates an ingest service. A nil notifier logs detections.
func New(expenses Expenses, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		expenses: expenses,
		labels:   cfg.Labels,
		notifier: notifier,
		inbox:    NewInbox(cfg.InboxSize),
		sms:      sms.New(logger.With("component", "sms_parser"), sms.WithClock(now)),
		notif:    notification.New(logger.With("component", "notification_parser")),
		logger:   logger,
		now:      now,
		newID:    uuid.NewString,
	}
}

// Inbox returns the pending detections.
func (s *Service) Inbox() *Inbox {
	return s.inbox
}

// SenderAllowed reports whether sender passes the allow-list. Blank entries
// are ignored, and a list with no other entries allows every sender.
// Otherwise sender and entry match when either contains the other.
func SenderAllowed(sender string, allowed []string) bool {
	configured := false
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		configured = true
		if strings.Contains(sender, entry) || strings.Contains(entry, sender) {
			return true
		}
	}
	return !configured
}

// HandleSMS parses an SMS from an allowed sender. A nil detection with a nil
// error means the message was ignored.
func (s *Service) HandleSMS(ctx context.Context, sender, body string, at time.Time) (*Detection, error) {
	allowed, err := s.expenses.AllowedSenders(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading allowed senders: %w", err)
	}
	if !SenderAllowed(sender, allowed) {
		s.logger.Debug("sms sender not allowed", "sender", sender)
		return nil, nil
	}

	parsed := s.sms.Parse(body)
	if parsed == nil {
		s.logger.Debug("sms did not match any pattern", "sender", sender)
		return nil, nil
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.detect(ctx, api.KindSMS, sender, body, parsed, at)
}

// HandleNotification parses a bank-app transfer notification.
func (s *Service) HandleNotification(ctx context.Context, msg *api.Message) (*Detection, error) {
	if msg == nil {
		return nil, nil
	}
	if msg.ReceivedAt.IsZero() {
		cp := *msg
		cp.ReceivedAt = s.now()
		msg = &cp
	}
	parsed := s.notif.Parse(msg)
	if parsed == nil {
		return nil, nil
	}
	return s.detect(ctx, api.KindNotification, msg.Sender, notification.FullText(msg), parsed, msg.ReceivedAt)
}

// Handle routes a message by kind.
func (s *Service) Handle(ctx context.Context, msg *api.Message) (*Detection, error) {
	if msg == nil {
		return nil, nil
	}
	switch msg.Kind {
	case api.KindSMS, "":
		return s.HandleSMS(ctx, msg.Sender, msg.Body, msg.ReceivedAt)
	case api.KindNotification:
		return s.HandleNotification(ctx, msg)
	default:
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func (s *Service) detect(ctx context.Context, kind api.MessageKind, sender, text string, parsed *api.ParsedExpense, at time.Time) (*Detection, error) {
	d := &Detection{
		ID:                s.newID(),
		Kind:              kind,
		Sender:            sender,
		Text:              text,
		Expense:           *parsed,
		SuggestedCategory: s.labels.LabelLookup(parsed.Description),
		DetectedAt:        at,
	}

	dup, err := s.expenses.FindDuplicate(ctx, &api.Expense{
		Date:        parsed.Date,
		Category:    d.category(),
		Description: parsed.Description,
		AmountMVR:   parsed.Amount,
	})
	if err != nil {
		s.logger.Warn("duplicate check failed", "error", err)
	} else if dup != nil {
		d.DuplicateOf = &dup.ID
	}

	s.inbox.put(d)
	s.logger.Info("expense detected",
		"detection_id", d.ID,
		"kind", kind,
		"merchant", parsed.Description,
		"amount_mvr", parsed.Amount,
		"possible_duplicate", d.DuplicateOf != nil,
	)

	if err := s.notifier.Notify(ctx, d); err != nil {
		s.logger.Warn("failed to notify", "detection_id", d.ID, "error", err)
	}
	return d, nil
}

func (d *Detection) category() string {
	if d.SuggestedCategory != "" {
		return d.SuggestedCategory
	}
	return api.DefaultCategory
}

// Edits are user changes applied when a detection is confirmed.
type Edits struct {
	Date        *time.Time `json:"date,omitempty"`
	Category    *string    `json:"category,omitempty"`
	Description *string    `json:"description,omitempty"`
	// AmountMVR replaces the converted amount.
	AmountMVR *float64 `json:"amount_mvr,omitempty"`
}

// Confirm saves a detection as an expense and removes it from the inbox.
// The detection stays pending when saving fails.
func (s *Service) Confirm(ctx context.Context, id string, edits Edits) (*api.Expense, error) {
	d, err := s.inbox.take(id)
	if err != nil {
		return nil, err
	}

	origAmount, origCurrency := d.Expense.Original()
	e := &api.Expense{
		Date:             d.Expense.Date,
		Category:         d.category(),
		Description:      d.Expense.Description,
		AmountMVR:        d.Expense.Amount,
		OriginalCurrency: origCurrency,
		OriginalAmount:   origAmount,
	}
	if edits.Date != nil {
		e.Date = *edits.Date
	}
	if edits.Category != nil {
		e.Category = *edits.Category
	}
	if edits.Description != nil {
		e.Description = *edits.Description
	}
	if edits.AmountMVR != nil {
		e.AmountMVR = *edits.AmountMVR
	}

	expenseID, err := s.expenses.AddExpense(ctx, e)
	if err != nil {
		s.inbox.put(d)
		return nil, fmt.Errorf("saving detection %s: %w", id, err)
	}
	e.ID = expenseID

	s.logger.Info("detection confirmed", "detection_id", id, "expense_id", e.ID)
	return e, nil
}

// Dismiss drops a detection without saving it.
func (s *Service) Dismiss(id string) error {
	if _, err := s.inbox.take(id); err != nil {
		return err
	}
	s.logger.Debug("detection dismissed", "detection_id", id)
	return nil
}

// Consume handles messages until in is closed or ctx is done. The SourceID
// of each handled message is sent on ack when ack is not nil.
func (s *Service) Consume(ctx context.Context, in <-chan *api.Message, ack chan<- string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				s.logger.Info("message channel closed")
				return nil
			}
			if _, err := s.Handle(ctx, msg); err != nil {
				s.logger.Error("failed to handle message", "sender", msg.Sender, "error", err)
				continue
			}
			if ack == nil || msg.SourceID == "" {
				continue
			}
			select {
			case ack <- msg.SourceID:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
