// Package repository provides data access for ledger records produced by the
// receipt-extraction pipeline.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LedgerRepository defines data access operations for ledger records
type LedgerRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*common.LedgerRecord, error)
	Create(ctx context.Context, rec *common.LedgerRecord) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

var (
	_ PgxPool          = (*pgxpool.Pool)(nil)
	_ LedgerRepository = (*PostgresLedgerRepository)(nil)
)

const (
	listLedgerQuery = `
		SELECT id, user_id, merchant_name, amount, currency, transaction_date,
		       category, description, created_at
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY row_seq
	`
	createLedgerQuery = `
		INSERT INTO ledger_transactions (
			id, user_id, merchant_name, amount, currency, transaction_date, category, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	deleteLedgerByUserQuery = `DELETE FROM ledger_transactions WHERE user_id = $1`
)

// PostgresLedgerRepository implements LedgerRepository using PostgreSQL
type PostgresLedgerRepository struct {
	pgpool PgxPool
}

// NewPostgresLedgerRepository creates a new PostgreSQL-backed ledger repository
func NewPostgresLedgerRepository(pgpool PgxPool) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{pgpool: pgpool}
}

// ListByUser returns the user's ledger records in insertion order
func (r *PostgresLedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*common.LedgerRecord, error) {
	ctx, span := otel.Tracer("LedgerRepository").Start(ctx, "ListByUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	rows, err := r.pgpool.Query(ctx, listLedgerQuery, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[common.LedgerRecord])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan ledger records: %w", err)
	}
	return records, nil
}

// Create inserts a ledger record; used by the sample-data seeder.
func (r *PostgresLedgerRepository) Create(ctx context.Context, rec *common.LedgerRecord) error {
	ctx, span := otel.Tracer("LedgerRepository").Start(ctx, "Create", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
	))
	defer span.End()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Currency == "" {
		rec.Currency = common.DefaultCurrency
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := r.pgpool.Exec(ctx, createLedgerQuery,
		rec.ID, rec.UserID, rec.MerchantName, rec.Amount.String(), rec.Currency,
		rec.TransactionDate, rec.Category, rec.Description, rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create ledger record: %w", err)
	}
	return nil
}

// DeleteByUser removes every ledger record of the user
func (r *PostgresLedgerRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, span := otel.Tracer("LedgerRepository").Start(ctx, "DeleteByUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "DELETE"),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, deleteLedgerByUserQuery, userID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete ledger records: %w", err)
	}
	return tag.RowsAffected(), nil
}
