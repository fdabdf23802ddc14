// Package parser holds text cleanup helpers shared by the SMS and notification parsers.
package parser

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxMerchantLength bounds merchant and recipient names, in runes.
const MaxMerchantLength = 50

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Go's \w is ASCII only, matching what bank gateways send.
	disallowedRe = regexp.MustCompile(`[^\w\s&'-]`)
	markupRe     = regexp.MustCompile(`(?is)<style.*?</style>|<script.*?</script>|<[^>]+>`)
)

// FormatName collapses whitespace, capitalizes the first letter of every
// space-separated word, lowercases the rest and truncates.
// "PIZZA  HUT male" becomes "Pizza Hut Male", "AL-NOOR" becomes "Al-noor".
func FormatName(s string) string {
	s = collapse(s)
	if s == "" {
		return ""
	}
	upper := cases.Upper(language.English)
	lower := cases.Lower(language.English)
	words := strings.Split(s, " ")
	for i, w := range words {
		_, size := utf8.DecodeRuneInString(w)
		words[i] = upper.String(w[:size]) + lower.String(w[size:])
	}
	return truncate(strings.Join(words, " "))
}

// CleanName collapses whitespace, strips punctuation other than & ' - and truncates.
func CleanName(s string) string {
	s = collapse(s)
	s = disallowedRe.ReplaceAllString(s, "")
	return truncate(s)
}

// ParseAmount parses a captured amount such as "1,234.50".
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StripHTML reduces an HTML e-mail body to its text.
func StripHTML(s string) string {
	s = markupRe.ReplaceAllString(s, " ")
	return collapse(html.UnescapeString(s))
}

// CollapseSpace trims s and replaces runs of whitespace with one space.
func CollapseSpace(s string) string {
	return collapse(s)
}

func collapse(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > MaxMerchantLength {
		return strings.TrimSpace(string(r[:MaxMerchantLength]))
	}
	return s
}
