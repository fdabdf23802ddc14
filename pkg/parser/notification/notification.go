// Package notification extracts expenses from bank-app push notifications.
package notification

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/currency"
	"github.com/ArionMiles/tab/pkg/parser"
)

// BankPackage is the application package whose notifications are parsed.
const BankPackage = "mv.com.bml.mib"

const (
	transferTitle = "funds transferred"
	sentMarker    = "you have sent"
)

// "You have sent MVR 1.0 from 7730*2789 to Fary"
var transferRe = regexp.MustCompile(`(?i)You have sent\s+(MVR|USD)\s*([\d,]+\.?\d*)\s+from\s+([\d*]+)\s+to\s+(.+)`)

// Parser turns bank-app transfer notifications into parsed expenses.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Accept reports whether msg is an outgoing funds transfer from the bank app.
func Accept(msg *api.Message) bool {
	if msg == nil || msg.Sender != BankPackage {
		return false
	}
	if !strings.Contains(strings.ToLower(msg.Title), transferTitle) {
		return false
	}
	return strings.Contains(strings.ToLower(msg.Body), sentMarker)
}

// FullText joins the non-empty notification parts with " | ".
func FullText(msg *api.Message) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{msg.Title, msg.Body, msg.SubText, msg.BigText} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}

// Parse returns the transfer described by msg, or nil if it is not one.
// The expense is dated at the notification's post time.
func (p *Parser) Parse(msg *api.Message) *api.ParsedExpense {
	if msg == nil {
		return nil
	}
	if !Accept(msg) {
		p.logger.Debug("skipping notification", "package", msg.Sender, "title", msg.Title)
		return nil
	}

	m := transferRe.FindStringSubmatch(msg.Body)
	if m == nil {
		p.logger.Info("transfer notification did not match known format", "text", FullText(msg))
		return nil
	}

	amount, ok := parser.ParseAmount(m[2])
	if !ok {
		return nil
	}
	recipient := parser.FormatName(m[4])
	if recipient == "" {
		return nil
	}
	cur := strings.ToUpper(m[1])

	p.logger.Debug("transfer notification matched",
		"recipient", recipient,
		"amount", amount,
		"currency", cur,
		"account", m[3],
	)

	return &api.ParsedExpense{
		Date:             msg.ReceivedAt,
		Description:      recipient,
		Amount:           currency.ToMVR(amount, cur),
		Currency:         api.CurrencyMVR,
		OriginalAmount:   &amount,
		OriginalCurrency: &cur,
	}
}
