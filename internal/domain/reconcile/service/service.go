// Package service orchestrates reconciliation runs: loading both record sets,
// optional duplicate merging, matching and persisting match state.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/dedupe"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
)

// LedgerStore reads and seeds ledger records.
type LedgerStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*common.LedgerRecord, error)
	Create(ctx context.Context, rec *common.LedgerRecord) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// BankStore reads bank records and persists reconciliation outcomes.
type BankStore interface {
	CreateBatch(ctx context.Context, batch *repository.UploadBatch) error
	FinishBatch(ctx context.Context, batch *repository.UploadBatch) error
	BulkInsert(ctx context.Context, records []*common.BankRecord) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) ([]*common.BankRecord, int, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ApplyMatchStates(ctx context.Context, userID uuid.UUID, states []common.MatchState) error
}

// Deduper merges duplicate bank records.
type Deduper interface {
	Run(ctx context.Context, userID uuid.UUID, batchID *uuid.UUID) (*dedupe.Result, error)
}

// Service runs reconciliations for one user at a time
type Service struct {
	ledger   LedgerStore
	bank     BankStore
	deduper  Deduper
	verifier matcher.Verifier
	logger   *slog.Logger
}

// NewService creates a reconciliation service. verifier may be nil.
func NewService(ledger LedgerStore, bank BankStore, deduper Deduper, verifier matcher.Verifier, logger *slog.Logger) *Service {
	return &Service{
		ledger:   ledger,
		bank:     bank,
		deduper:  deduper,
		verifier: verifier,
		logger:   logger,
	}
}

// Compare runs the baseline matcher over all of the user's records.
func (s *Service) Compare(ctx context.Context, userID uuid.UUID) (*matcher.Result, error) {
	ctx, span := otel.Tracer("ReconcileService").Start(ctx, "Compare", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Compare"), slog.String("userID", userID.String()))

	ledger, bank, err := s.load(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := matcher.NewBaseline().Match(ctx, ledger, bank)
	if err := s.persist(ctx, userID, result); err != nil {
		span.RecordError(err)
		l.ErrorContext(ctx, "failed to persist match state", slog.Any("error", err))
		return nil, err
	}

	l.InfoContext(ctx, "comparison finished",
		slog.Int("matched", result.Summary.MatchedCount),
		slog.Float64("matchPercentage", result.Summary.MatchPercentage))
	return result, nil
}

// CompareEnhanced merges duplicate bank records first, then runs the
// verifier-assisted matcher over the refreshed bank records.
func (s *Service) CompareEnhanced(ctx context.Context, userID uuid.UUID) (*matcher.Result, error) {
	ctx, span := otel.Tracer("ReconcileService").Start(ctx, "CompareEnhanced", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CompareEnhanced"), slog.String("userID", userID.String()))

	dup, err := s.deduper.Run(ctx, userID, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to merge duplicates: %w", err)
	}

	ledger, bank, err := s.load(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := matcher.NewEnhanced(s.verifier).Match(ctx, ledger, bank)
	merged := dup.Summary.TransactionsMerged
	result.Summary.DuplicatesMerged = &merged

	if err := s.persist(ctx, userID, result); err != nil {
		span.RecordError(err)
		l.ErrorContext(ctx, "failed to persist match state", slog.Any("error", err))
		return nil, err
	}

	l.InfoContext(ctx, "enhanced comparison finished",
		slog.Int("matched", result.Summary.MatchedCount),
		slog.Int("duplicatesMerged", merged))
	return result, nil
}

// DetectDuplicates merges duplicate bank records, optionally within one batch.
func (s *Service) DetectDuplicates(ctx context.Context, userID uuid.UUID, batchID *uuid.UUID) (*dedupe.Result, error) {
	return s.deduper.Run(ctx, userID, batchID)
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) ([]*common.LedgerRecord, []*common.BankRecord, error) {
	ledger, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load ledger records: %w", err)
	}
	bank, _, err := s.bank.ListByUser(ctx, userID, repository.ListFilter{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bank records: %w", err)
	}
	return ledger, bank, nil
}

// persist writes the match state of every bank record in one transaction and
// mirrors it onto the returned records.
func (s *Service) persist(ctx context.Context, userID uuid.UUID, result *matcher.Result) error {
	states := make([]common.MatchState, 0, len(result.Matched))
	for _, m := range result.Matched {
		states = append(states, common.MatchState{
			BankID:     m.Bank.ID,
			LedgerID:   m.Ledger.ID,
			Confidence: m.Confidence,
		})
	}
	if err := s.bank.ApplyMatchStates(ctx, userID, states); err != nil {
		return fmt.Errorf("failed to apply match states: %w", err)
	}

	matchType := string(common.MatchTypeMatched)
	for _, m := range result.Matched {
		ledgerID := m.Ledger.ID
		confidence := m.Confidence
		m.Bank.IsMatched = true
		m.Bank.MatchedTransactionID = &ledgerID
		m.Bank.MatchConfidence = &confidence
		m.Bank.MatchType = &matchType
	}
	for _, m := range result.BankOnly {
		m.Bank.IsMatched = false
		m.Bank.MatchedTransactionID = nil
		m.Bank.MatchConfidence = nil
		m.Bank.MatchType = nil
	}
	return nil
}
