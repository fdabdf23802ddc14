// Package mbox replays messages from an mbox export, such as a Thunderbird
// folder or a Google Takeout archive.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	gombox "github.com/emersion/go-mbox"
	// Registers decoders for non-UTF-8 charsets such as ISO-8859-1.
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/parser"
)

// Config holds configuration for the mbox reader.
type Config struct {
	// Path is the mbox file to read.
	Path string `json:"path"`
	// Sender, when set, only replays messages whose From header contains it.
	Sender string `json:"sender"`
}

// Reader emits every message of an mbox file once, then closes its output.
type Reader struct {
	cfg    Config
	open   func() (io.ReadCloser, error)
	logger *slog.Logger
}

// New creates a reader for the file at cfg.Path.
func New(cfg Config, logger *slog.Logger) (*Reader, error) {
	if cfg.Path == "" {
		return nil, errors.New("mbox path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cfg:    cfg,
		open:   func() (io.ReadCloser, error) { return os.Open(cfg.Path) },
		logger: logger,
	}, nil
}

// NewFromReader reads messages from r instead of a file.
func NewFromReader(r io.Reader, cfg Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cfg:    cfg,
		open:   func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		logger: logger,
	}
}

// Read sends each message to out. Acknowledgments are drained and ignored
// since an mbox file has no read state.
func (r *Reader) Read(ctx context.Context, out chan<- *api.Message, ack <-chan string) error {
	defer close(out)

	if ack != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ack:
					if !ok {
						return
					}
				}
			}
		}()
	}

	f, err := r.open()
	if err != nil {
		return fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	mr := gombox.NewReader(f)
	var count, skipped int
	for {
		raw, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading mbox message %d: %w", count+skipped+1, err)
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			skipped++
			r.logger.Warn("skipping unreadable message", "index", count+skipped, "error", err)
			continue
		}
		if r.cfg.Sender != "" && !strings.Contains(strings.ToLower(msg.Sender), strings.ToLower(r.cfg.Sender)) {
			skipped++
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- msg:
			count++
		}
	}

	r.logger.Info("mbox replay complete", "path", r.cfg.Path, "messages", count, "skipped", skipped)
	return nil
}

// ParseMessage reads an RFC 5322 message into an SMS-kind message. Transfer
// encodings and charsets are decoded; the first text/plain part wins over HTML.
func ParseMessage(raw io.Reader) (*api.Message, error) {
	mr, err := mail.CreateReader(raw)
	if mr == nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	body, err := textBody(mr)
	if err != nil {
		return nil, err
	}

	h := mr.Header
	received, err := h.Date()
	if err != nil {
		received = time.Time{}
	}
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	from, err := h.Text("From")
	if err != nil {
		from = h.Get("From")
	}

	return &api.Message{
		Kind:       api.KindSMS,
		Sender:     from,
		Title:      subject,
		Body:       body,
		ReceivedAt: received,
		SourceID:   h.Get("Message-Id"),
	}, nil
}

func textBody(mr *mail.Reader) (string, error) {
	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if p == nil {
			return "", fmt.Errorf("reading message part: %w", err)
		}
		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := inline.ContentType()
		if err != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		if mediaType != "text/plain" && mediaType != "text/html" {
			continue
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("reading %s body: %w", mediaType, err)
		}
		if mediaType == "text/plain" {
			if plain = parser.CollapseSpace(string(b)); plain != "" {
				return plain, nil
			}
			continue
		}
		if htmlBody == "" {
			htmlBody = parser.StripHTML(string(b))
		}
	}
	return htmlBody, nil
}
