package common

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction type tags stored on bank records.
const (
	TransactionTypeDebit  = "debit"
	TransactionTypeCredit = "credit"
)

// MatchType describes which side(s) produced a reconciliation entry.
type MatchType string

const (
	MatchTypeMatched    MatchType = "matched"
	MatchTypeLedgerOnly MatchType = "ledger_only"
	MatchTypeBankOnly   MatchType = "bank_only"
)

// DefaultCurrency is applied to ledger records created without an explicit currency.
const DefaultCurrency = "USD"

// LedgerRecord is a transaction extracted from receipt emails by the upstream pipeline.
type LedgerRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	MerchantName    string          `json:"merchant_name" db:"merchant_name"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Currency        string          `json:"currency" db:"currency"`
	TransactionDate time.Time       `json:"transaction_date" db:"transaction_date"`
	Category        string          `json:"category" db:"category"`
	Description     string          `json:"description" db:"description"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// BankRecord is a transaction parsed from an uploaded bank statement.
type BankRecord struct {
	ID                   uuid.UUID           `json:"id" db:"id"`
	UserID               uuid.UUID           `json:"user_id" db:"user_id"`
	UploadBatchID        uuid.UUID           `json:"upload_batch_id" db:"upload_batch_id"`
	Date                 time.Time           `json:"date" db:"date"`
	Description          string              `json:"description" db:"description"`
	Amount               decimal.Decimal     `json:"amount" db:"amount"`
	Balance              decimal.NullDecimal `json:"balance" db:"balance"`
	TransactionType      string              `json:"transaction_type" db:"transaction_type"`
	ReferenceNumber      string              `json:"reference_number,omitempty" db:"reference_number"`
	Category             string              `json:"category" db:"category"`
	MerchantName         string              `json:"merchant_name" db:"merchant_name"`
	IsMatched            bool                `json:"is_matched" db:"is_matched"`
	MatchedTransactionID *uuid.UUID          `json:"matched_transaction_id,omitempty" db:"matched_transaction_id"`
	MatchConfidence      *float64            `json:"match_confidence,omitempty" db:"match_confidence"`
	MatchType            *string             `json:"match_type,omitempty" db:"match_type"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// Match pairs zero-or-one ledger record with zero-or-one bank record.
type Match struct {
	Ledger     *LedgerRecord `json:"ledger_transaction"`
	Bank       *BankRecord   `json:"bank_transaction"`
	Type       MatchType     `json:"match_type"`
	Confidence float64       `json:"confidence"`
}

// DuplicateVerdict is the outcome of asking whether a group of bank records are duplicates.
type DuplicateVerdict struct {
	AreDuplicates     bool    `json:"are_duplicates"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
	RecommendedAction string  `json:"recommended_action,omitempty"`
}

// MatchState is the persisted reconciliation outcome for one bank record.
type MatchState struct {
	BankID     uuid.UUID
	LedgerID   uuid.UUID
	Confidence float64
}
