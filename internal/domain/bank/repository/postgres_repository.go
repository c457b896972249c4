package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var (
	_ PgxPool        = (*pgxpool.Pool)(nil)
	_ BankRepository = (*PostgresBankRepository)(nil)
)

const (
	createBatchQuery = `
		INSERT INTO upload_batches (id, user_id, file_name, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	finishBatchQuery = `
		UPDATE upload_batches SET
			status = $2, fingerprint = $3, parse_method = $4,
			rows_total = $5, rows_imported = $6, rows_failed = $7,
			error_message = $8, finished_at = NOW()
		WHERE id = $1
	`
	selectRecordColumns = `
		SELECT id, user_id, upload_batch_id, date, description, amount, balance,
		       transaction_type, reference_number, category, merchant_name,
		       is_matched, matched_transaction_id, match_confidence, match_type,
		       created_at, updated_at
		FROM bank_transactions
		WHERE user_id = $1 AND ($2::uuid IS NULL OR upload_batch_id = $2)
		ORDER BY row_seq
	`
	countRecordsQuery = `
		SELECT COUNT(*) FROM bank_transactions
		WHERE user_id = $1 AND ($2::uuid IS NULL OR upload_batch_id = $2)
	`
	listBatchesQuery = `
		SELECT upload_batch_id, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_amount,
		       MIN(date) AS start_date, MAX(date) AS end_date
		FROM bank_transactions
		WHERE user_id = $1
		GROUP BY upload_batch_id
		ORDER BY MIN(row_seq)
	`
	insertRecordQuery = `
		INSERT INTO bank_transactions (
			id, user_id, upload_batch_id, date, description, amount, balance,
			transaction_type, reference_number, category, merchant_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	deleteRecordsQuery    = `DELETE FROM bank_transactions WHERE user_id = $1 AND id = ANY($2)`
	deleteByUserQuery     = `DELETE FROM bank_transactions WHERE user_id = $1`
	resetMatchStatesQuery = `
		UPDATE bank_transactions SET
			is_matched = FALSE, matched_transaction_id = NULL, match_confidence = NULL,
			match_type = NULL, updated_at = NOW()
		WHERE user_id = $1
	`
	setMatchStateQuery = `
		UPDATE bank_transactions SET
			is_matched = TRUE, matched_transaction_id = $3, match_confidence = $4,
			match_type = $5, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`
)

// copyColumns is the column order used for COPY inserts.
var copyColumns = []string{
	"id", "user_id", "upload_batch_id", "date", "description", "amount", "balance",
	"transaction_type", "reference_number", "category", "merchant_name",
}

// PostgresBankRepository implements BankRepository using PostgreSQL
type PostgresBankRepository struct {
	pgpool PgxPool
}

// NewPostgresBankRepository creates a new PostgreSQL-backed bank repository
func NewPostgresBankRepository(pgpool PgxPool) *PostgresBankRepository {
	return &PostgresBankRepository{pgpool: pgpool}
}

func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", operation),
	}, attrs...)
	return otel.Tracer("BankRepository").Start(ctx, operation, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CreateBatch records the start of an ingestion call
func (r *PostgresBankRepository) CreateBatch(ctx context.Context, batch *UploadBatch) error {
	ctx, span := startSpan(ctx, "CreateBatch", attribute.String("batch.id", batch.ID.String()))
	defer span.End()

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusRunning
	}

	_, err := r.pgpool.Exec(ctx, createBatchQuery,
		batch.ID, batch.UserID, batch.FileName, batch.SizeBytes, batch.Status,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("failed to create upload batch: %w", err)
	}
	return nil
}

// FinishBatch stores the outcome of an ingestion call
func (r *PostgresBankRepository) FinishBatch(ctx context.Context, batch *UploadBatch) error {
	ctx, span := startSpan(ctx, "FinishBatch",
		attribute.String("batch.id", batch.ID.String()),
		attribute.String("batch.status", batch.Status),
	)
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, finishBatchQuery,
		batch.ID, batch.Status, batch.Fingerprint, batch.ParseMethod,
		batch.RowsTotal, batch.RowsImported, batch.RowsFailed, batch.ErrorMessage,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("failed to finish upload batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload batch %s: %w", batch.ID, common.ErrNotFound)
	}
	return nil
}

// BulkInsert inserts records with COPY and returns the number written
func (r *PostgresBankRepository) BulkInsert(ctx context.Context, records []*common.BankRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ctx, span := startSpan(ctx, "BulkInsert", attribute.Int("records.count", len(records)))
	defer span.End()

	copyCount, err := r.pgpool.CopyFrom(ctx,
		pgx.Identifier{"bank_transactions"},
		copyColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			return recordValues(rec), nil
		}),
	)
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("failed to bulk insert bank records: %w", err)
	}

	return int(copyCount), nil
}

// ListByUser returns the user's records in insertion order with the unpaged total
func (r *PostgresBankRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*common.BankRecord, int, error) {
	ctx, span := startSpan(ctx, "ListByUser", attribute.String("user.id", userID.String()))
	defer span.End()

	var total int
	if err := r.pgpool.QueryRow(ctx, countRecordsQuery, userID, filter.BatchID).Scan(&total); err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("failed to count bank records: %w", err)
	}

	query := selectRecordColumns
	args := []any{userID, filter.BatchID}
	if filter.Size > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += " LIMIT $3 OFFSET $4"
		args = append(args, filter.Size, (page-1)*filter.Size)
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("failed to list bank records: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[common.BankRecord])
	if err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("failed to scan bank records: %w", err)
	}

	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, total, nil
}

// ListBatches summarizes the user's records per upload batch
func (r *PostgresBankRepository) ListBatches(ctx context.Context, userID uuid.UUID) ([]BatchSummary, error) {
	ctx, span := startSpan(ctx, "ListBatches", attribute.String("user.id", userID.String()))
	defer span.End()

	rows, err := r.pgpool.Query(ctx, listBatchesQuery, userID)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to list upload batches: %w", err)
	}

	batches, err := pgx.CollectRows(rows, pgx.RowToStructByName[BatchSummary])
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to scan upload batches: %w", err)
	}
	return batches, nil
}

// DeleteByUser removes every bank record of the user
func (r *PostgresBankRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, span := startSpan(ctx, "DeleteByUser", attribute.String("user.id", userID.String()))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, deleteByUserQuery, userID)
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("failed to delete bank records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceDuplicates inserts the merged record and deletes the originals in one transaction.
func (r *PostgresBankRepository) ReplaceDuplicates(ctx context.Context, merged *common.BankRecord, originalIDs []uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "ReplaceDuplicates", attribute.Int("records.replaced", len(originalIDs)))
	defer span.End()

	if merged.ID == uuid.Nil {
		merged.ID = uuid.New()
	}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			fail(span, err)
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, insertRecordQuery, recordValues(merged)...); err != nil {
		return fmt.Errorf("failed to insert merged record: %w", err)
	}

	tag, err := tx.Exec(ctx, deleteRecordsQuery, merged.UserID, originalIDs)
	if err != nil {
		return fmt.Errorf("failed to delete duplicate records: %w", err)
	}
	if tag.RowsAffected() != int64(len(originalIDs)) {
		err = fmt.Errorf("deleted %d of %d duplicate records: %w", tag.RowsAffected(), len(originalIDs), common.ErrConflict)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit duplicate merge: %w", err)
	}
	return nil
}

// ApplyMatchStates clears every match flag of the user and sets the given ones in one transaction.
func (r *PostgresBankRepository) ApplyMatchStates(ctx context.Context, userID uuid.UUID, states []common.MatchState) (err error) {
	ctx, span := startSpan(ctx, "ApplyMatchStates",
		attribute.String("user.id", userID.String()),
		attribute.Int("matches.count", len(states)),
	)
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			fail(span, err)
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, resetMatchStatesQuery, userID); err != nil {
		return fmt.Errorf("failed to reset match states: %w", err)
	}

	matched := string(common.MatchTypeMatched)
	for _, state := range states {
		tag, execErr := tx.Exec(ctx, setMatchStateQuery,
			state.BankID, userID, state.LedgerID, state.Confidence, matched,
		)
		if execErr != nil {
			err = fmt.Errorf("failed to set match state for %s: %w", state.BankID, execErr)
			return err
		}
		if tag.RowsAffected() == 0 {
			err = fmt.Errorf("bank record %s: %w", state.BankID, common.ErrNotFound)
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit match states: %w", err)
	}
	return nil
}

func recordValues(rec *common.BankRecord) []any {
	return []any{
		rec.ID,
		rec.UserID,
		rec.UploadBatchID,
		rec.Date,
		rec.Description,
		numeric(rec.Amount),
		nullNumeric(rec.Balance),
		rec.TransactionType,
		rec.ReferenceNumber,
		rec.Category,
		rec.MerchantName,
	}
}

// numeric converts a decimal to the pgtype used for binary COPY encoding.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return numeric(d.Decimal)
}
