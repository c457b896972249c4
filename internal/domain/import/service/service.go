// Package service provides the statement ingestion pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/import/categorizer"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/import/columns"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-reconciler/pkg/observability"
)

// Parse methods recorded on upload batches.
const (
	ParseMethodAI      = "ai"
	ParseMethodTabular = "tabular"
)

const (
	importBatchSize = 500
	maxErrors       = 10
	defaultPageSize = 100
)

var (
	dateFields        = []string{"date", "transaction_date", "posted_date"}
	amountFields      = []string{"amount", "transaction_amount", "debit", "credit"}
	descriptionFields = []string{"description", "memo", "merchant", "payee"}
	balanceFields     = []string{"balance", "running_balance", "account_balance"}
	typeFields        = []string{"transaction_type", "type", "debit_credit"}
	referenceFields   = []string{"reference_number", "reference", "ref_number", "check_number"}
	categoryFields    = []string{"category", "categories", "transaction_category"}
)

var errNoRows = errors.New("no transaction rows found")

// StatementParser turns statement text into candidate records keyed by field name.
type StatementParser interface {
	ParseStatement(ctx context.Context, text string) ([]map[string]string, error)
}

// UploadResult is the outcome of one ingestion call
type UploadResult struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Total     int       `json:"total_transactions"`
	Succeeded int       `json:"successful_imports"`
	Failed    int       `json:"failed_imports"`
	Errors    []string  `json:"errors"`
}

// ListResult is one page of a user's bank records
type ListResult struct {
	Transactions []*common.BankRecord `json:"transactions"`
	Total        int                  `json:"total"`
	Page         int                  `json:"page"`
	Size         int                  `json:"size"`
	Pages        int                  `json:"pages"`
}

// ImportService orchestrates statement uploads and bank record listing
type ImportService struct {
	repo   repository.BankRepository
	parser StatementParser
	logger *slog.Logger
}

type candidate struct {
	line   int
	fields map[string]string
}

type parseJob struct {
	lineNum int
	fields  map[string]string
}

type parseResult struct {
	lineNum int
	record  *common.BankRecord
	err     error
}

// NewImportService creates a new import service. parser may be nil.
func NewImportService(repo repository.BankRepository, parser StatementParser, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:   repo,
		parser: parser,
		logger: logger,
	}
}

// Upload ingests one statement file. Malformed input and per-row failures are
// reported in the result; only storage failures return an error.
func (s *ImportService) Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (*UploadResult, error) {
	ctx, span := otel.Tracer("ImportService").Start(ctx, "Upload")
	defer span.End()

	l := s.logger.With(slog.String("method", "Upload"), slog.String("userID", userID.String()))

	batch := &repository.UploadBatch{
		ID:        uuid.New(),
		UserID:    userID,
		FileName:  fileName,
		SizeBytes: int64(len(data)),
		Status:    repository.BatchStatusRunning,
	}
	span.SetAttributes(attribute.String("batch.id", batch.ID.String()))

	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		l.ErrorContext(ctx, "failed to create upload batch", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create upload batch: %w", err)
	}

	result := &UploadResult{BatchID: batch.ID, Errors: []string{}}

	candidates, err := s.extract(ctx, batch, data)
	if err != nil {
		l.WarnContext(ctx, "malformed upload", slog.String("batchID", batch.ID.String()), slog.Any("error", err))
		result.Failed = 1
		result.Errors = []string{fmt.Sprintf("CSV parsing error: %v", err)}
		observability.RowsIngested.WithLabelValues("failed").Inc()
		s.finish(ctx, batch, result, err)
		return result, nil
	}
	result.Total = len(candidates)

	parseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := s.cleanStream(parseCtx, userID, batch.ID, candidates)

	type rowError struct {
		lineNum int
		err     error
	}

	var rowErrors []rowError
	pending := make([]*common.BankRecord, 0, importBatchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		inserted, err := s.repo.BulkInsert(ctx, pending)
		if err != nil {
			return err
		}
		result.Succeeded += inserted
		pending = pending[:0]
		return nil
	}

	var insertErr error
	for res := range results {
		if insertErr != nil {
			continue
		}
		if res.err != nil {
			rowErrors = append(rowErrors, rowError{lineNum: res.lineNum, err: res.err})
			continue
		}
		pending = append(pending, res.record)
		if len(pending) >= importBatchSize {
			if err := flush(); err != nil {
				insertErr = err
				cancel()
			}
		}
	}
	if insertErr == nil {
		insertErr = flush()
	}

	sort.Slice(rowErrors, func(i, j int) bool {
		return rowErrors[i].lineNum < rowErrors[j].lineNum
	})
	result.Failed = len(rowErrors)
	for _, rowErr := range rowErrors {
		if len(result.Errors) == maxErrors {
			break
		}
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowErr.lineNum, rowErr.err))
	}

	observability.RowsIngested.WithLabelValues("imported").Add(float64(result.Succeeded))
	observability.RowsIngested.WithLabelValues("failed").Add(float64(result.Failed))

	if insertErr != nil {
		l.ErrorContext(ctx, "failed to insert bank records", slog.Any("error", insertErr))
		s.finish(ctx, batch, result, insertErr)
		return nil, fmt.Errorf("failed to insert bank records: %w", insertErr)
	}

	s.finish(ctx, batch, result, nil)
	l.InfoContext(ctx, "statement ingested",
		slog.String("batchID", batch.ID.String()),
		slog.Int("total", result.Total),
		slog.Int("imported", result.Succeeded),
		slog.Int("failed", result.Failed))
	return result, nil
}

// List returns one page of the user's bank records. A zero size means the default page size.
func (s *ImportService) List(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) (*ListResult, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size <= 0 {
		filter.Size = defaultPageSize
	}

	records, total, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank records: %w", err)
	}
	if records == nil {
		records = []*common.BankRecord{}
	}

	return &ListResult{
		Transactions: records,
		Total:        total,
		Page:         filter.Page,
		Size:         filter.Size,
		Pages:        int(math.Ceil(float64(total) / float64(filter.Size))),
	}, nil
}

// Batches summarises the user's upload batches.
func (s *ImportService) Batches(ctx context.Context, userID uuid.UUID) ([]repository.BatchSummary, error) {
	batches, err := s.repo.ListBatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload batches: %w", err)
	}
	if batches == nil {
		batches = []repository.BatchSummary{}
	}
	return batches, nil
}

// extract decodes the upload and produces candidate rows, preferring the
// statement parser and falling back to delimiter sniffing.
func (s *ImportService) extract(ctx context.Context, batch *repository.UploadBatch, data []byte) ([]candidate, error) {
	if len(data) == 0 {
		return nil, sniffer.ErrEmptyFile
	}
	text, err := normalizer.DecodeText(data)
	if err != nil {
		return nil, err
	}

	if s.parser != nil {
		rows, err := s.parser.ParseStatement(ctx, text)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "statement parser failed, falling back to tabular parsing", slog.Any("error", err))
		case len(rows) > 0:
			method := ParseMethodAI
			batch.ParseMethod = &method
			candidates := make([]candidate, len(rows))
			for i, row := range rows {
				candidates[i] = candidate{line: i + 1, fields: row}
			}
			return candidates, nil
		}
	}

	cfg, err := sniffer.DetectConfig(text)
	if err != nil {
		return nil, err
	}
	method := ParseMethodTabular
	batch.ParseMethod = &method
	batch.Fingerprint = &cfg.Fingerprint

	rows, err := sniffer.ReadRows(text, cfg)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNoRows
	}

	candidates := make([]candidate, 0, len(rows))
	for _, row := range rows {
		fields := columns.NormalizeRow(row.Values, cfg.Headers)
		if len(fields) == 0 {
			continue
		}
		candidates = append(candidates, candidate{line: row.Line, fields: fields})
	}
	if len(candidates) == 0 {
		return nil, errNoRows
	}
	return candidates, nil
}

// finish records the final batch counters. Failures are logged, never returned.
func (s *ImportService) finish(ctx context.Context, batch *repository.UploadBatch, result *UploadResult, cause error) {
	batch.Status = repository.BatchStatusCompleted
	if cause != nil {
		batch.Status = repository.BatchStatusFailed
		msg := cause.Error()
		batch.ErrorMessage = &msg
	}
	batch.RowsTotal = result.Total
	batch.RowsImported = result.Succeeded
	batch.RowsFailed = result.Failed
	now := time.Now().UTC()
	batch.FinishedAt = &now

	if err := s.repo.FinishBatch(ctx, batch); err != nil {
		s.logger.WarnContext(ctx, "failed to finish upload batch",
			slog.String("batchID", batch.ID.String()), slog.Any("error", err))
	}
}

// cleanStream cleans candidates on a bounded worker pool.
func (s *ImportService) cleanStream(ctx context.Context, userID, batchID uuid.UUID, candidates []candidate) <-chan parseResult {
	workerCount := runtime.GOMAXPROCS(0)
	if workerCount < 1 {
		workerCount = 1
	}

	results := make(chan parseResult, workerCount*4)
	jobs := make(chan parseJob, workerCount*4)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				record, err := cleanRecord(job.fields)
				if record != nil {
					record.UserID = userID
					record.UploadBatchID = batchID
				}
				select {
				case results <- parseResult{lineNum: job.lineNum, record: record, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, c := range candidates {
			select {
			case jobs <- parseJob{lineNum: c.line, fields: c.fields}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// cleanRecord validates one candidate and converts it into a bank record.
// Date and amount are required.
func cleanRecord(fields map[string]string) (*common.BankRecord, error) {
	dateValue := columns.Field(fields, dateFields...)
	if dateValue == "" {
		return nil, invalidRow("missing date")
	}
	date, ok := normalizer.ParseDate(dateValue)
	if !ok {
		return nil, invalidRow(fmt.Sprintf("unparseable date %q", dateValue))
	}

	amountValue := columns.Field(fields, amountFields...)
	if amountValue == "" {
		return nil, invalidRow("missing amount")
	}
	amount, ok := normalizer.ParseAmount(amountValue)
	if !ok {
		return nil, invalidRow(fmt.Sprintf("unparseable amount %q", amountValue))
	}

	now := time.Now().UTC()
	rec := &common.BankRecord{
		ID:        uuid.New(),
		Date:      date,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if desc := columns.Field(fields, descriptionFields...); desc != "" {
		rec.Description = normalizer.CleanDescription(desc)
	}

	if balanceValue := columns.Field(fields, balanceFields...); balanceValue != "" {
		if balance, ok := normalizer.ParseAmount(balanceValue); ok {
			rec.Balance = decimal.NewNullDecimal(balance)
		}
	}

	if typeValue := columns.Field(fields, typeFields...); typeValue != "" {
		rec.TransactionType = normalizer.NormalizeTransactionType(typeValue, amount)
	} else {
		rec.TransactionType = normalizer.TypeFromSign(amount)
	}

	if ref := columns.Field(fields, referenceFields...); ref != "" {
		rec.ReferenceNumber = normalizer.CleanReference(ref)
	}

	category := columns.Field(fields, categoryFields...)
	switch strings.ToLower(category) {
	case "", "n/a", "unknown":
		rec.Category = categorizer.Categorize(rec.Description)
	default:
		rec.Category = strings.ToLower(category)
	}

	if rec.Description != "" {
		rec.MerchantName = categorizer.ExtractMerchant(rec.Description)
	}

	return rec, nil
}

func invalidRow(reason string) error {
	return fmt.Errorf("invalid transaction data (%s)", reason)
}
