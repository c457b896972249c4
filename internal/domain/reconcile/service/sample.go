package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
)

const (
	sampleFileName    = "sample_statement.csv"
	sampleParseMethod = "sample"
)

type sampleLedger struct {
	merchant    string
	amount      string
	day         int
	category    string
	description string
}

type sampleBank struct {
	day         int
	description string
	amount      string
	balance     string
	txType      string
	reference   string
	category    string
	merchant    string
}

var sampleLedgerRows = []sampleLedger{
	{"SAFEWAY", "45.67", 15, "food", "Grocery purchase at Safeway"},
	{"SHELL", "35.89", 17, "gas", "Gas station purchase"},
	{"AMAZON", "89.99", 18, "shopping", "Online purchase from Amazon"},
	{"CHIPOTLE", "67.45", 19, "food", "Restaurant dining at Chipotle"},
	{"NETFLIX", "15.99", 20, "entertainment", "Netflix subscription payment"},
}

var sampleBankRows = []sampleBank{
	{15, "SAFEWAY GROCERY PURCHASE", "45.67", "1234.56", common.TransactionTypeDebit, "123456", "food", "SAFEWAY"},
	{17, "SHELL GAS STATION", "35.89", "3698.67", common.TransactionTypeDebit, "789012", "gas", "SHELL"},
	{18, "AMAZON.COM ONLINE PURCHASE", "89.99", "3608.68", common.TransactionTypeDebit, "345678", "shopping", "AMAZON"},
	{16, "SALARY DEPOSIT", "2500.00", "3734.56", common.TransactionTypeCredit, "", "income", "EMPLOYER CORP"},
	{19, "CHIPOTLE RESTAURANT", "67.45", "3541.23", common.TransactionTypeDebit, "901234", "food", "CHIPOTLE"},
	{20, "NETFLIX SUBSCRIPTION", "15.99", "3525.24", common.TransactionTypeDebit, "567890", "entertainment", "NETFLIX"},
	{21, "CVS PHARMACY PURCHASE", "23.50", "3501.74", common.TransactionTypeDebit, "234567", "healthcare", "CVS"},
	{22, "ELECTRIC COMPANY BILL PAYMENT", "125.00", "3376.74", common.TransactionTypeDebit, "890123", "utilities", "ELECTRIC COMPANY"},
}

func sampleDate(day int) time.Time {
	return time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
}

// SeedSample replaces the user's records with a fixed demonstration data set
// and returns the baseline comparison over it.
func (s *Service) SeedSample(ctx context.Context, userID uuid.UUID) (*matcher.Result, error) {
	ctx, span := otel.Tracer("ReconcileService").Start(ctx, "SeedSample")
	defer span.End()

	l := s.logger.With(slog.String("method", "SeedSample"), slog.String("userID", userID.String()))

	// bank first: its rows reference ledger rows
	if _, err := s.bank.DeleteByUser(ctx, userID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to clear bank records: %w", err)
	}
	if _, err := s.ledger.DeleteByUser(ctx, userID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to clear ledger records: %w", err)
	}

	now := time.Now().UTC()
	for _, row := range sampleLedgerRows {
		rec := &common.LedgerRecord{
			ID:              uuid.New(),
			UserID:          userID,
			MerchantName:    row.merchant,
			Amount:          decimal.RequireFromString(row.amount),
			Currency:        common.DefaultCurrency,
			TransactionDate: sampleDate(row.day),
			Category:        row.category,
			Description:     row.description,
			CreatedAt:       now,
		}
		if err := s.ledger.Create(ctx, rec); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to create sample ledger record: %w", err)
		}
	}

	_, inserted, err := s.insertSampleBankBatch(ctx, l, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	l.InfoContext(ctx, "sample data seeded",
		slog.Int("ledger", len(sampleLedgerRows)),
		slog.Int("bank", inserted))

	return s.Compare(ctx, userID)
}

// SeedSampleBank replaces only the user's bank records with the sample
// statement and reports it the way an upload would. Ledger records are kept.
func (s *Service) SeedSampleBank(ctx context.Context, userID uuid.UUID) (*importservice.UploadResult, error) {
	ctx, span := otel.Tracer("ReconcileService").Start(ctx, "SeedSampleBank")
	defer span.End()

	l := s.logger.With(slog.String("method", "SeedSampleBank"), slog.String("userID", userID.String()))

	if _, err := s.bank.DeleteByUser(ctx, userID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to clear bank records: %w", err)
	}

	batchID, inserted, err := s.insertSampleBankBatch(ctx, l, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	l.InfoContext(ctx, "sample bank statement seeded", slog.Int("bank", inserted))

	return &importservice.UploadResult{
		BatchID:   batchID,
		Total:     len(sampleBankRows),
		Succeeded: inserted,
		Failed:    len(sampleBankRows) - inserted,
		Errors:    []string{},
	}, nil
}

// insertSampleBankBatch records the sample rows under their own upload batch.
func (s *Service) insertSampleBankBatch(ctx context.Context, l *slog.Logger, userID uuid.UUID) (uuid.UUID, int, error) {
	now := time.Now().UTC()
	method := sampleParseMethod
	batch := &repository.UploadBatch{
		ID:          uuid.New(),
		UserID:      userID,
		FileName:    sampleFileName,
		ParseMethod: &method,
		Status:      repository.BatchStatusRunning,
		RowsTotal:   len(sampleBankRows),
		CreatedAt:   now,
	}
	if err := s.bank.CreateBatch(ctx, batch); err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to create sample batch: %w", err)
	}

	records := make([]*common.BankRecord, 0, len(sampleBankRows))
	for _, row := range sampleBankRows {
		records = append(records, &common.BankRecord{
			ID:              uuid.New(),
			UserID:          userID,
			UploadBatchID:   batch.ID,
			Date:            sampleDate(row.day),
			Description:     row.description,
			Amount:          decimal.RequireFromString(row.amount),
			Balance:         decimal.NewNullDecimal(decimal.RequireFromString(row.balance)),
			TransactionType: row.txType,
			ReferenceNumber: row.reference,
			Category:        row.category,
			MerchantName:    row.merchant,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	inserted, err := s.bank.BulkInsert(ctx, records)
	batch.RowsImported = inserted
	batch.Status = repository.BatchStatusCompleted
	finished := time.Now().UTC()
	batch.FinishedAt = &finished
	if err != nil {
		msg := err.Error()
		batch.Status = repository.BatchStatusFailed
		batch.ErrorMessage = &msg
	}
	if ferr := s.bank.FinishBatch(ctx, batch); ferr != nil {
		l.WarnContext(ctx, "failed to finish sample batch", slog.Any("error", ferr))
	}
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to insert sample bank records: %w", err)
	}
	return batch.ID, inserted, nil
}
