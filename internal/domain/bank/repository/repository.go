// Package repository provides data access for bank statement records and upload batches.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

// Upload batch statuses.
const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// UploadBatch tracks one ingestion call
type UploadBatch struct {
	ID           uuid.UUID  `db:"id"`
	UserID       uuid.UUID  `db:"user_id"`
	FileName     string     `db:"file_name"`
	SizeBytes    int64      `db:"size_bytes"`
	Fingerprint  *string    `db:"fingerprint"`
	ParseMethod  *string    `db:"parse_method"` // "ai", "tabular"
	Status       string     `db:"status"`
	RowsTotal    int        `db:"rows_total"`
	RowsImported int        `db:"rows_imported"`
	RowsFailed   int        `db:"rows_failed"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	FinishedAt   *time.Time `db:"finished_at"`
}

// BatchSummary aggregates the stored records of one upload batch
type BatchSummary struct {
	BatchID     uuid.UUID       `json:"batch_id" db:"upload_batch_id"`
	Count       int             `json:"count" db:"count"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	StartDate   time.Time       `json:"start_date" db:"start_date"`
	EndDate     time.Time       `json:"end_date" db:"end_date"`
}

// ListFilter narrows and pages a record listing. Size 0 returns every record.
type ListFilter struct {
	BatchID *uuid.UUID
	Page    int
	Size    int
}

// BankRepository defines data access operations for bank records
type BankRepository interface {
	// Upload batches
	CreateBatch(ctx context.Context, batch *UploadBatch) error
	FinishBatch(ctx context.Context, batch *UploadBatch) error

	// Records
	BulkInsert(ctx context.Context, records []*common.BankRecord) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*common.BankRecord, int, error)
	ListBatches(ctx context.Context, userID uuid.UUID) ([]BatchSummary, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Reconciliation writes, each in one transaction
	ReplaceDuplicates(ctx context.Context, merged *common.BankRecord, originalIDs []uuid.UUID) error
	ApplyMatchStates(ctx context.Context, userID uuid.UUID, states []common.MatchState) error
}
