package normalizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"($45.67)", "-45.67"},
		{"$1,234.56", "1234.56"},
		{"-29.99", "-29.99"},
		{"45.67-", "-45.67"},
		{"€ 12.50", "12.50"},
		{"£1,000,000.00", "1000000"},
		{"₹500", "500"},
		{"1.234.56", "1234.56"},
		{"  45.23  ", "45.23"},
		{"0", "0"},
		{"USD 19.99", "19.99"},
	}

	for _, tc := range tests {
		got, ok := ParseAmount(tc.input)
		if !ok {
			t.Errorf("ParseAmount(%q) reported unparseable", tc.input)
			continue
		}
		want := decimal.RequireFromString(tc.expected)
		if !got.Equal(want) {
			t.Errorf("ParseAmount(%q) = %s, want %s", tc.input, got, want)
		}
	}
}

func TestParseAmount_Unparseable(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "$", "-", ".", "12-34", "2024-01-15", "1-800-555", "-5-", "--5"} {
		if got, ok := ParseAmount(input); ok {
			t.Errorf("ParseAmount(%q) = %s, expected unparseable", input, got)
		}
	}
}

func TestParseAmount_NoFloatDrift(t *testing.T) {
	a, _ := ParseAmount("0.1")
	b, _ := ParseAmount("0.2")
	c, _ := ParseAmount("0.3")
	if !a.Add(b).Equal(c) {
		t.Errorf("expected 0.1 + 0.2 == 0.3 with decimal amounts, got %s", a.Add(b))
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string // YYYY-MM-DD format
	}{
		// ISO
		{"2024-01-15", "2024-01-15"},
		{"2024/01/15", "2024-01-15"},

		// US month-first is tried before EU day-first
		{"01/15/2024", "2024-01-15"},
		{"01/02/2024", "2024-01-02"},
		{"1/5/2024", "2024-01-05"},
		{"01-15-2024", "2024-01-15"},
		{"01/15/24", "2024-01-15"},

		// EU when the first field cannot be a month
		{"15/01/2024", "2024-01-15"},
		{"25-12-2024", "2024-12-25"},
		{"15/01/24", "2024-01-15"},

		// Time-of-day suffixes
		{"2024-01-15 10:30:00", "2024-01-15"},
		{"01/15/2024 10:30", "2024-01-15"},
		{"15/01/2024 08:05:09", "2024-01-15"},

		// Embedded dates
		{"Posted 2024-01-15 ref 99", "2024-01-15"},
		{"TXN 01/15/2024 #12", "2024-01-15"},
		{"on 01/15/24.", "2024-01-15"},
	}

	for _, tc := range tests {
		got, ok := ParseDate(tc.input)
		if !ok {
			t.Errorf("ParseDate(%q) reported unparseable", tc.input)
			continue
		}
		if gotStr := got.Format("2006-01-02"); gotStr != tc.expected {
			t.Errorf("ParseDate(%q) = %s, want %s", tc.input, gotStr, tc.expected)
		}
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{"", "not-a-date", "13/13/2024", "2024-13-45"} {
		if got, ok := ParseDate(input); ok {
			t.Errorf("ParseDate(%q) = %v, expected unparseable", input, got)
		}
	}
}

func TestNormalizeTransactionType(t *testing.T) {
	positive := decimal.RequireFromString("12.50")
	negative := decimal.RequireFromString("-12.50")

	tests := []struct {
		raw      string
		amount   decimal.Decimal
		expected string
	}{
		{"DEBIT", positive, "debit"},
		{" Credit ", negative, "credit"},
		{"DR", positive, "debit"},
		{"cr", negative, "credit"},
		{"purchase", positive, "debit"},
		{"refund", negative, "credit"},
		{"-", positive, "debit"},
		{"+", negative, "credit"},
		{"something else", negative, "debit"},
		{"", positive, "credit"},
		{"", decimal.Zero, "credit"},
		{"", negative, "debit"},
	}

	for _, tc := range tests {
		if got := NormalizeTransactionType(tc.raw, tc.amount); got != tc.expected {
			t.Errorf("NormalizeTransactionType(%q, %s) = %q, want %q", tc.raw, tc.amount, got, tc.expected)
		}
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Pingo Doce  ", "Pingo Doce"},
		{"Compra  MB   -   Lidl", "Compra MB - Lidl"},
		{"POS  STARBUCKS   #123", "STARBUCKS #123"},
		{"visa Amazon Marketplace", "Amazon Marketplace"},
		{"Netflix", "Netflix"},
	}

	for _, tc := range tests {
		if got := CleanDescription(tc.input); got != tc.expected {
			t.Errorf("CleanDescription(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}

	long := strings.Repeat("a", 600)
	if got := CleanDescription(long); len(got) != maxDescriptionLen {
		t.Errorf("expected description truncated to %d, got %d", maxDescriptionLen, len(got))
	}
}

func TestCleanReference(t *testing.T) {
	if got := CleanReference("CHK#12-34 "); got != "CHK12-34" {
		t.Errorf("CleanReference = %q, want %q", got, "CHK12-34")
	}
	if got := CleanReference(strings.Repeat("9", 150)); len(got) != maxReferenceLen {
		t.Errorf("expected reference truncated to %d, got %d", maxReferenceLen, len(got))
	}
}

func TestDecodeText(t *testing.T) {
	got, err := DecodeText([]byte("\xEF\xBB\xBFDate,Amount\n"))
	if err != nil {
		t.Fatalf("DecodeText with BOM: %v", err)
	}
	if got != "Date,Amount\n" {
		t.Errorf("expected BOM stripped, got %q", got)
	}

	got, err = DecodeText([]byte("caf\xe9;12,50"))
	if err != nil {
		t.Fatalf("DecodeText latin-1: %v", err)
	}
	if got != "café;12,50" {
		t.Errorf("expected latin-1 decode, got %q", got)
	}

	if _, err := DecodeText([]byte{0x89, 'P', 'N', 'G', 0x00, 0x01}); !errors.Is(err, ErrUndecodable) {
		t.Errorf("expected ErrUndecodable for binary input, got %v", err)
	}
}
