// Package sms extracts expenses from bank SMS alerts.
package sms

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/currency"
	"github.com/ArionMiles/tab/pkg/parser"
)

var (
	// "Transaction from 7730 on 12/03/24 at 14:22:01 for MVR150.00 at CAFE ALFA was processed"
	bankRe = regexp.MustCompile(`(?i)Transaction\s+from\s+\d+\s+on\s+(\d{1,2}/\d{1,2}/\d{2})\s+at\s+[\d:]+\s+for\s+(MVR|USD)\s*([\d,]+\.?\d*)\s+at\s+(.+?)\s+was\s+processed`)

	// "You spent MVR 250.00 at Cafe Alfa on 12-Jan-2024 using card 1234"
	// The merchant stays on one line and ends at "on <date>", punctuation or end of text.
	genericRe = regexp.MustCompile(`(?i)(?:spent|paid|purchased?)\s+(?:Rs\.?|MVR|MRF)\s*([\d,]+\.?\d*)\s+(?:at|to|for)\s+([A-Za-z0-9 &'-]+?)(?:\s+on\s+(\d{1,2}[-/](?:[A-Za-z]{3}|\d{1,2})[-/]\d{2,4})\b|[^A-Za-z0-9 &'-]|$)`)

	bankDateLayout = "2/1/06"

	genericDateLayouts = []string{
		"2-Jan-2006",
		"2/1/2006",
		"2-1-2006",
		"2/1/06",
		"2-1-06",
	}
)

// Parser turns SMS bodies into parsed expenses.
type Parser struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the fallback clock used when a date cannot be parsed.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New creates a Parser.
func New(logger *slog.Logger, opts ...Option) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse returns the expense described by body, or nil when no pattern matches.
func (p *Parser) Parse(body string) *api.ParsedExpense {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if exp := p.parseBank(body); exp != nil {
		p.logger.Debug("bank pattern matched", "merchant", exp.Description, "amount", exp.Amount)
		return exp
	}
	if exp := p.parseGeneric(body); exp != nil {
		p.logger.Debug("generic pattern matched", "merchant", exp.Description, "amount", exp.Amount)
		return exp
	}
	p.logger.Debug("no pattern matched", "length", len(body))
	return nil
}

func (p *Parser) parseBank(body string) *api.ParsedExpense {
	m := bankRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	amount, ok := parser.ParseAmount(m[3])
	if !ok {
		return nil
	}
	merchant := parser.FormatName(m[4])
	if merchant == "" {
		return nil
	}
	cur := strings.ToUpper(m[2])
	origAmount, origCurrency := amount, cur

	return &api.ParsedExpense{
		Date:             p.parseBankDate(m[1]),
		Description:      merchant,
		Amount:           currency.ToMVR(amount, cur),
		Currency:         api.CurrencyMVR,
		OriginalAmount:   &origAmount,
		OriginalCurrency: &origCurrency,
	}
}

func (p *Parser) parseGeneric(body string) *api.ParsedExpense {
	m := genericRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	amount, ok := parser.ParseAmount(m[1])
	if !ok {
		return nil
	}
	merchant := parser.CleanName(m[2])
	if merchant == "" {
		return nil
	}
	return &api.ParsedExpense{
		Date:        p.parseDate(m[3]),
		Description: merchant,
		Amount:      amount,
		Currency:    api.CurrencyMVR,
	}
}

func (p *Parser) parseBankDate(s string) time.Time {
	t, err := time.ParseInLocation(bankDateLayout, s, time.Local)
	if err != nil {
		p.logger.Warn("failed to parse bank date", "date", s, "error", err)
		return p.now()
	}
	return t
}

func (p *Parser) parseDate(s string) time.Time {
	if s == "" {
		return p.now()
	}
	for _, layout := range genericDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	p.logger.Warn("failed to parse date", "date", s)
	return p.now()
}
