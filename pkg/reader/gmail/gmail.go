// Package gmail implements a Reader that forwards bank alert e-mails from Gmail
// as SMS-style messages.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/parser"
)

// DefaultQuery matches unread bank alerts.
const DefaultQuery = "is:unread from:(bankofmaldives.com.mv) subject:(transaction)"

// Reader polls Gmail queries and emits matching messages.
type Reader struct {
	client   *gmail.Service
	queries  []string
	interval time.Duration
	logger   *slog.Logger
}

// Config holds configuration for the Gmail reader.
type Config struct {
	// Queries are Gmail search queries. Defaults to DefaultQuery.
	Queries []string `json:"queries"`
	// Interval between polls. Defaults to one minute.
	Interval time.Duration `json:"interval"`
}

// New creates a new Gmail reader.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	client, err := gmail.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	queries := cfg.Queries
	if len(queries) == 0 {
		queries = []string{DefaultQuery}
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Minute
	}

	return &Reader{
		client:   client,
		queries:  queries,
		interval: interval,
		logger:   logger,
	}, nil
}

// Read polls until ctx is canceled. Messages are only marked as read after
// their id comes back on ack.
func (r *Reader) Read(ctx context.Context, out chan<- *api.Message, ack <-chan string) error {
	defer close(out)

	go r.handleAcknowledgments(ctx, ack)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.poll(ctx, out)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("gmail reader stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			r.poll(ctx, out)
		}
	}
}

func (r *Reader) handleAcknowledgments(ctx context.Context, ack <-chan string) {
	if ack == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msgID, ok := <-ack:
			if !ok {
				r.logger.Info("acknowledgment channel closed")
				return
			}
			r.markAsRead(ctx, msgID)
		}
	}
}

func (r *Reader) markAsRead(ctx context.Context, msgID string) {
	_, err := r.client.Users.Messages.Modify("me", msgID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		r.logger.Warn("failed to mark message as read", "message_id", msgID, "error", err)
		return
	}
	r.logger.Debug("marked message as read", "message_id", msgID)
}

func (r *Reader) poll(ctx context.Context, out chan<- *api.Message) {
	var wg sync.WaitGroup
	for _, q := range r.queries {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			r.processQuery(ctx, q, out)
		}(q)
	}
	wg.Wait()
}

func (r *Reader) processQuery(ctx context.Context, query string, out chan<- *api.Message) {
	logger := r.logger.With("query", query)

	resp, err := r.client.Users.Messages.List("me").Q(query).Context(ctx).Do()
	if err != nil {
		logger.Error("failed to list messages", "error", err)
		return
	}
	logger.Debug("found messages", "count", len(resp.Messages))

	for _, m := range resp.Messages {
		if err := r.processMessage(ctx, m.Id, out); err != nil {
			logger.Error("failed to process message", "message_id", m.Id, "error", err)
		}
	}
}

func (r *Reader) processMessage(ctx context.Context, msgID string, out chan<- *api.Message) error {
	msg, err := r.client.Users.Messages.Get("me", msgID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("getting message: %w", err)
	}

	m := ToMessage(msg)
	if m.Body == "" {
		r.logger.Warn("empty message body", "message_id", msgID, "subject", header(msg, "Subject"))
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- m:
	}
	return nil
}

// ToMessage converts a Gmail message into an SMS-kind message.
func ToMessage(msg *gmail.Message) *api.Message {
	return &api.Message{
		Kind:       api.KindSMS,
		Sender:     header(msg, "From"),
		Title:      header(msg, "Subject"),
		Body:       ExtractBody(msg),
		ReceivedAt: time.UnixMilli(msg.InternalDate),
		SourceID:   msg.Id,
	}
}

func header(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ExtractBody returns the message text, preferring text/plain over text/html.
// HTML is reduced to its text content.
func ExtractBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}

	var plain, htmlBody string
	for _, part := range msg.Payload.Parts {
		if part.Body == nil || part.Body.Data == "" {
			continue
		}
		data, err := decode(part.Body.Data)
		if err != nil {
			continue
		}
		switch part.MimeType {
		case "text/plain":
			if plain == "" {
				plain = data
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = data
			}
		}
	}

	if plain == "" && htmlBody == "" && msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		if data, err := decode(msg.Payload.Body.Data); err == nil {
			if strings.Contains(msg.Payload.MimeType, "html") {
				htmlBody = data
			} else {
				plain = data
			}
		}
	}

	if plain != "" {
		return parser.CollapseSpace(plain)
	}
	return parser.StripHTML(htmlBody)
}

func decode(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
