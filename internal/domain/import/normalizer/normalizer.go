// Package normalizer converts raw statement cells into canonical dates, amounts and type tags.
package normalizer

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

var ErrUndecodable = errors.New("upload is not decodable as text")

// dateOnlyFormats are tried in order; US month-first wins for ambiguous input.
var dateOnlyFormats = []string{
	"2006-1-2",
	"1/2/2006",
	"2/1/2006",
	"1-2-2006",
	"2-1-2006",
	"2006/1/2",
	"1/2/06",
	"2/1/06",
}

// dateFormats is the full list used for whole-string parsing.
var dateFormats = append(append([]string{}, dateOnlyFormats...),
	"2006-1-2 15:04:05",
	"1/2/2006 15:04:05",
	"2/1/2006 15:04:05",
	"2006-1-2 15:04",
	"1/2/2006 15:04",
	"2/1/2006 15:04",
)

var embeddedDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`),
	regexp.MustCompile(`(\d{2}/\d{2}/\d{2})`),
}

var (
	currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", "₹", "", ",", "")
	whitespaceRun   = regexp.MustCompile(`\s+`)
	referenceStrip  = regexp.MustCompile(`[^\w\-]`)
)

// descriptionPrefixes are transaction codes dropped from the front of descriptions.
var descriptionPrefixes = []string{"POS ", "VISA ", "MC ", "DEBIT ", "CREDIT ", "ATM ", "CHECK "}

var debitIndicators = map[string]struct{}{
	"debit": {}, "deduction": {}, "withdrawal": {}, "out": {}, "-": {}, "dr": {},
	"debit card": {}, "purchase": {}, "payment": {}, "charge": {}, "withdraw": {},
	"debit transaction": {},
}

var creditIndicators = map[string]struct{}{
	"credit": {}, "deposit": {}, "addition": {}, "in": {}, "+": {}, "cr": {},
	"credit card": {}, "refund": {}, "credit transaction": {}, "credit adjustment": {},
}

const (
	maxDescriptionLen = 500
	maxReferenceLen   = 100
)

// ParseDate parses a statement date. The bool is false when nothing matched.
func ParseDate(raw string) (time.Time, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return time.Time{}, false
	}

	if t, ok := parseWithFormats(cleaned, dateFormats); ok {
		return t, true
	}

	for _, pattern := range embeddedDatePatterns {
		match := pattern.FindString(cleaned)
		if match == "" {
			continue
		}
		if t, ok := parseWithFormats(match, dateOnlyFormats); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

func parseWithFormats(value string, formats []string) (time.Time, bool) {
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseAmount parses a currency string through a fixed-point decimal.
// Parenthesized values and leading or trailing minus signs are negative.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := currencySymbols.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, false
	}

	negative := strings.Contains(cleaned, "(") && strings.Contains(cleaned, ")")

	cleaned = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, cleaned)

	if rest, ok := strings.CutPrefix(cleaned, "-"); ok {
		negative, cleaned = true, rest
	} else if rest, ok := strings.CutSuffix(cleaned, "-"); ok {
		negative, cleaned = true, rest
	}
	// A minus anywhere else means the cell is not an amount (dates, phone numbers).
	if strings.Contains(cleaned, "-") {
		return decimal.Zero, false
	}

	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	if cleaned == "" || cleaned == "." {
		return decimal.Zero, false
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, true
}

// NormalizeTransactionType maps a raw type cell to debit or credit,
// falling back to the sign of the already-parsed amount.
func NormalizeTransactionType(raw string, amount decimal.Decimal) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := debitIndicators[value]; ok && value != "" {
		return common.TransactionTypeDebit
	}
	if _, ok := creditIndicators[value]; ok && value != "" {
		return common.TransactionTypeCredit
	}
	return TypeFromSign(amount)
}

// TypeFromSign infers the type tag from the amount sign (non-negative is credit).
func TypeFromSign(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return common.TransactionTypeDebit
	}
	return common.TransactionTypeCredit
}

// CleanDescription collapses whitespace and strips leading transaction codes.
func CleanDescription(raw string) string {
	result := whitespaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")

	for _, prefix := range descriptionPrefixes {
		if len(result) >= len(prefix) && strings.EqualFold(result[:len(prefix)], prefix) {
			result = strings.TrimSpace(result[len(prefix):])
		}
	}

	return truncate(result, maxDescriptionLen)
}

// CleanReference keeps word characters and dashes.
func CleanReference(raw string) string {
	return truncate(referenceStrip.ReplaceAllString(raw, ""), maxReferenceLen)
}

// DecodeText turns upload bytes into text. Invalid UTF-8 is read as ISO-8859-1
// unless it contains NUL bytes, which only binary files do.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		if bytes.IndexByte(data, 0) >= 0 {
			return "", ErrUndecodable
		}
		return string(data), nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", ErrUndecodable
	}

	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return "", errors.Join(ErrUndecodable, err)
	}
	return string(decoded), nil
}

// truncate limits s to n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
