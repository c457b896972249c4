// Package dedupe finds bank records that describe the same transaction and
// collapses each confirmed group into one merged record.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/import/categorizer"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
	"github.com/FACorreiaa/ledger-reconciler/pkg/observability"
)

var ErrEmptyGroup = errors.New("cannot merge an empty group")

const (
	keyDescriptionLen   = 50
	descriptionJoin     = " | "
	similarityThreshold = 0.8
)

var (
	groupingPrefixes = []string{"POS ", "VISA ", "MC ", "DEBIT ", "CREDIT ", "ATM ", "CHECK "}
	amountTolerance  = decimal.New(1, -2)
)

// Group is a set of bank records sharing one grouping key, in first-appearance order.
type Group struct {
	Key     string
	Records []*common.BankRecord
}

// Confirmer decides whether the records of a candidate group are duplicates.
type Confirmer interface {
	ConfirmDuplicates(ctx context.Context, group []*common.BankRecord) (common.DuplicateVerdict, error)
}

// Repository is the storage used by the Deduplicator.
type Repository interface {
	ListByUser(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) ([]*common.BankRecord, int, error)
	ReplaceDuplicates(ctx context.Context, merged *common.BankRecord, originalIDs []uuid.UUID) error
}

// GroupOutcome describes one merged group
type GroupOutcome struct {
	GroupID             string    `json:"group_id"`
	TransactionsCount   int       `json:"transactions_count"`
	AIConfidence        float64   `json:"ai_confidence"`
	AIReasoning         string    `json:"ai_reasoning"`
	MergedTransactionID uuid.UUID `json:"merged_transaction_id"`
}

// Summary counts the work done by one deduplication run
type Summary struct {
	TotalTransactions    int            `json:"total_transactions"`
	DuplicateGroupsFound int            `json:"duplicate_groups_found"`
	TransactionsMerged   int            `json:"transactions_merged"`
	TransactionsDeleted  int            `json:"transactions_deleted"`
	GroupsProcessed      []GroupOutcome `json:"groups_processed"`
}

// Result is the outcome of one deduplication run
type Result struct {
	Summary            Summary              `json:"summary"`
	MergedTransactions []*common.BankRecord `json:"merged_transactions"`
}

// GroupKey buckets a record by amount, date and the first 50 characters of its
// cleaned description.
func GroupKey(rec *common.BankRecord) string {
	date := "unknown"
	if !rec.Date.IsZero() {
		date = rec.Date.Format("2006-01-02")
	}

	desc := cleanForGrouping(rec.Description)
	if utf8.RuneCountInString(desc) > keyDescriptionLen {
		desc = string([]rune(desc)[:keyDescriptionLen])
	}

	return rec.Amount.StringFixed(2) + "_" + date + "_" + desc
}

func cleanForGrouping(description string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(description))
	for _, prefix := range groupingPrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
		}
	}
	return strings.TrimSpace(categorizer.StripTrailingCodes(cleaned))
}

// FindGroups returns the groups with more than one member, ordered by the
// first appearance of their key.
func FindGroups(records []*common.BankRecord) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, rec := range records {
		key := GroupKey(rec)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Records) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// FallbackVerdict is the deterministic duplicate check. It only judges pairs.
func FallbackVerdict(group []*common.BankRecord) common.DuplicateVerdict {
	if len(group) != 2 {
		return common.DuplicateVerdict{Reasoning: "Can only analyze pairs"}
	}
	a, b := group[0], group[1]

	if a.Amount.Equal(b.Amount) && a.Date.Equal(b.Date) && a.Description == b.Description {
		return common.DuplicateVerdict{
			AreDuplicates:     true,
			Confidence:        1.0,
			Reasoning:         "Exact match on amount, date, and description",
			RecommendedAction: "merge",
		}
	}

	amountMatch := a.Amount.Sub(b.Amount).Abs().LessThan(amountTolerance)
	dateMatch := a.Date.Equal(b.Date)
	similarity := matcher.Jaccard(strings.ToLower(a.Description), strings.ToLower(b.Description))
	if amountMatch && dateMatch && similarity > similarityThreshold {
		return common.DuplicateVerdict{
			AreDuplicates:     true,
			Confidence:        0.9,
			Reasoning:         fmt.Sprintf("Close match: amount=%t, date=%t, desc_similarity=%.2f", amountMatch, dateMatch, similarity),
			RecommendedAction: "merge",
		}
	}

	return common.DuplicateVerdict{
		Reasoning:         "No significant similarity found",
		RecommendedAction: "keep_separate",
	}
}

// Merge builds a new record from group. The first member is the base; distinct
// descriptions are joined, and the first usable category and merchant win.
func Merge(group []*common.BankRecord) (*common.BankRecord, error) {
	if len(group) == 0 {
		return nil, ErrEmptyGroup
	}
	base := group[0]
	now := time.Now().UTC()

	merged := &common.BankRecord{
		ID:              uuid.New(),
		UserID:          base.UserID,
		UploadBatchID:   base.UploadBatchID,
		Date:            base.Date,
		Description:     base.Description,
		Amount:          base.Amount,
		Balance:         base.Balance,
		TransactionType: base.TransactionType,
		ReferenceNumber: base.ReferenceNumber,
		Category:        base.Category,
		MerchantName:    base.MerchantName,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var descriptions []string
	seen := make(map[string]bool)
	for _, rec := range group {
		if rec.Description != "" && !seen[rec.Description] {
			seen[rec.Description] = true
			descriptions = append(descriptions, rec.Description)
		}
	}
	if len(descriptions) > 0 {
		merged.Description = strings.Join(descriptions, descriptionJoin)
	}

	for _, rec := range group {
		if rec.Category != "" && rec.Category != "N/A" {
			merged.Category = rec.Category
			break
		}
	}
	for _, rec := range group {
		if rec.MerchantName != "" && rec.MerchantName != "Unknown" {
			merged.MerchantName = rec.MerchantName
			break
		}
	}

	return merged, nil
}

// Deduplicator runs grouping, confirmation and merging for one user
type Deduplicator struct {
	repo      Repository
	confirmer Confirmer
	logger    *slog.Logger
}

// NewDeduplicator creates a Deduplicator. confirmer may be nil.
func NewDeduplicator(repo Repository, confirmer Confirmer, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{repo: repo, confirmer: confirmer, logger: logger}
}

// Run merges every confirmed duplicate group among the user's bank records,
// optionally restricted to one upload batch. A second run over the result
// finds no groups.
func (d *Deduplicator) Run(ctx context.Context, userID uuid.UUID, batchID *uuid.UUID) (*Result, error) {
	ctx, span := otel.Tracer("Deduplicator").Start(ctx, "Run")
	defer span.End()

	l := d.logger.With(slog.String("method", "Run"), slog.String("userID", userID.String()))

	records, _, err := d.repo.ListByUser(ctx, userID, repository.ListFilter{BatchID: batchID})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load bank records: %w", err)
	}

	groups := FindGroups(records)
	span.SetAttributes(
		attribute.Int("records.count", len(records)),
		attribute.Int("groups.count", len(groups)),
	)

	result := &Result{
		Summary: Summary{
			TotalTransactions:    len(records),
			DuplicateGroupsFound: len(groups),
			GroupsProcessed:      []GroupOutcome{},
		},
		MergedTransactions: []*common.BankRecord{},
	}

	for _, g := range groups {
		verdict := d.confirm(ctx, g.Records)
		if !verdict.AreDuplicates {
			l.DebugContext(ctx, "group kept separate", slog.String("group", g.Key), slog.String("reasoning", verdict.Reasoning))
			continue
		}

		merged, err := Merge(g.Records)
		if err != nil {
			return nil, fmt.Errorf("failed to merge group %q: %w", g.Key, err)
		}

		ids := make([]uuid.UUID, len(g.Records))
		for i, rec := range g.Records {
			ids[i] = rec.ID
		}
		if err := d.repo.ReplaceDuplicates(ctx, merged, ids); err != nil {
			span.RecordError(err)
			l.ErrorContext(ctx, "failed to replace duplicates", slog.String("group", g.Key), slog.Any("error", err))
			return nil, fmt.Errorf("failed to replace duplicates: %w", err)
		}

		observability.DuplicateGroupsMerged.Inc()
		result.MergedTransactions = append(result.MergedTransactions, merged)
		result.Summary.TransactionsMerged += len(g.Records)
		result.Summary.TransactionsDeleted += len(g.Records) - 1
		result.Summary.GroupsProcessed = append(result.Summary.GroupsProcessed, GroupOutcome{
			GroupID:             g.Key,
			TransactionsCount:   len(g.Records),
			AIConfidence:        verdict.Confidence,
			AIReasoning:         verdict.Reasoning,
			MergedTransactionID: merged.ID,
		})
	}

	l.InfoContext(ctx, "duplicate detection finished",
		slog.Int("groups", len(groups)),
		slog.Int("merged", result.Summary.TransactionsMerged))
	return result, nil
}

func (d *Deduplicator) confirm(ctx context.Context, group []*common.BankRecord) common.DuplicateVerdict {
	if d.confirmer == nil {
		return FallbackVerdict(group)
	}
	verdict, err := d.confirmer.ConfirmDuplicates(ctx, group)
	if err != nil {
		d.logger.WarnContext(ctx, "duplicate confirmation failed, using fallback", slog.Any("error", err))
		return FallbackVerdict(group)
	}
	return verdict
}
