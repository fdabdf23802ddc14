package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/tab/pkg/currency"
)

// NotificationTitle is shown for every new detection.
const NotificationTitle = "💳 Expense Detected"

// Notifier tells the user about a new detection.
type Notifier interface {
	Notify(ctx context.Context, d *Detection) error
}

// Notice is the rendered text of a detection alert.
type Notice struct {
	Title   string
	Content string
	Detail  string
}

// Render builds the alert text. The converted MVR amount is only added when
// the message was in another currency.
func Render(d *Detection) Notice {
	amount, cur := d.Expense.Original()
	display := currency.FormatAmount(amount, cur)
	if cur != d.Expense.Currency {
		display += fmt.Sprintf("\n(%s)", currency.FormatAmount(d.Expense.Amount, d.Expense.Currency))
	}

	return Notice{
		Title:   NotificationTitle,
		Content: fmt.Sprintf("%s at %s", display, d.Expense.Description),
		Detail: fmt.Sprintf("Amount: %s\nMerchant: %s\n\nTap to review and save",
			display, d.Expense.Description),
	}
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, d *Detection) error {
	notice := Render(d)
	n.logger.InfoContext(ctx, notice.Title,
		"detection_id", d.ID,
		"content", notice.Content,
		"suggested_category", d.SuggestedCategory,
	)
	return nil
}
