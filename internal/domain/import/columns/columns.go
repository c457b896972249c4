// Package columns maps heterogeneous statement headers onto canonical field names.
package columns

import (
	"regexp"
	"strings"
)

// Canonical field names produced by NormalizeRow.
const (
	Date            = "date"
	Description     = "description"
	Amount          = "amount"
	Balance         = "balance"
	TransactionType = "transaction_type"
	Reference       = "reference_number"
	Category        = "category"
)

type synonyms struct {
	field    string
	variants []string
}

// synonymTable is ordered; the first field with a variant contained in the key wins.
var synonymTable = []synonyms{
	{Date, []string{
		"date", "transaction_date", "posted_date", "trans_date", "posting_date",
		"transaction date", "posting date", "date posted", "effective date",
	}},
	{Description, []string{
		"description", "memo", "merchant", "payee", "details", "transaction description",
		"merchant name", "payee name", "transaction details", "memo/description",
		"merchant/description", "merchant_description",
	}},
	{Amount, []string{
		"amount", "transaction_amount", "debit", "credit", "transaction amount",
		"debit amount", "credit amount", "withdrawal", "deposit",
	}},
	{Balance, []string{
		"balance", "running_balance", "account_balance", "running balance",
		"account balance", "ending balance", "new balance",
	}},
	{TransactionType, []string{
		"type", "transaction_type", "debit_credit", "transaction type",
		"debit/credit", "dc", "dr_cr",
	}},
	{Reference, []string{
		"reference", "ref_number", "check_number", "transaction_id", "reference number",
		"check number", "transaction id", "ref", "check", "id",
	}},
	{Category, []string{
		"category", "categories", "transaction_category", "transaction categories",
	}},
}

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// NormalizeKey lower-cases a header, turns punctuation into spaces and joins words with '_'.
func NormalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = nonWord.ReplaceAllString(k, " ")
	k = whitespace.ReplaceAllString(k, "_")
	return strings.Trim(k, "_")
}

// Canonical returns the canonical field for a normalized key, or "" when none applies.
func Canonical(normalizedKey string) string {
	for _, s := range synonymTable {
		for _, v := range s.variants {
			if strings.Contains(normalizedKey, v) {
				return s.field
			}
		}
	}
	return ""
}

// NormalizeRow rekeys a raw row by canonical field. Unknown keys are kept under
// their normalized form; empty keys and values are dropped. When several
// columns map to the same field the later column wins.
func NormalizeRow(row map[string]string, order []string) map[string]string {
	out := make(map[string]string, len(row))
	for _, key := range order {
		value := strings.TrimSpace(row[key])
		if key == "" || value == "" {
			continue
		}
		normalized := NormalizeKey(key)
		if normalized == "" {
			continue
		}
		if field := Canonical(normalized); field != "" {
			out[field] = value
		} else {
			out[normalized] = value
		}
	}
	return out
}

// Field returns the first non-empty value among names.
func Field(row map[string]string, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(row[name]); v != "" {
			return v
		}
	}
	return ""
}
