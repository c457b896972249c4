// Package matcher pairs ledger records with bank records by a multi-factor
// confidence score using ledger-first greedy assignment.
package matcher

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
	"github.com/FACorreiaa/ledger-reconciler/pkg/observability"
)

// Acceptance thresholds. A candidate must score strictly above them.
const (
	BaselineThreshold = 0.7
	EnhancedThreshold = 0.6
)

const (
	verifyFloor         = 0.5
	neutralVerification = 0.5
	scoreWeight         = 0.6
	verifyWeight        = 0.4
)

var (
	exactAmount = decimal.New(1, -2)
	closeAmount = decimal.New(1, -1)
)

// Verifier gives an independent confidence that two records are the same transaction.
type Verifier interface {
	VerifyMatch(ctx context.Context, ledger *common.LedgerRecord, bank *common.BankRecord) (float64, error)
}

// Summary holds the partition counts of one reconciliation run
type Summary struct {
	TotalLedger      int     `json:"total_ledger"`
	TotalBank        int     `json:"total_bank"`
	MatchedCount     int     `json:"matched_count"`
	LedgerOnlyCount  int     `json:"ledger_only_count"`
	BankOnlyCount    int     `json:"bank_only_count"`
	MatchPercentage  float64 `json:"match_percentage"`
	DuplicatesMerged *int    `json:"duplicates_merged,omitempty"`
}

// Result is the complete partition of a reconciliation run
type Result struct {
	Matched    []common.Match `json:"matched"`
	LedgerOnly []common.Match `json:"ledger_only"`
	BankOnly   []common.Match `json:"bank_only"`
	Summary    Summary        `json:"summary"`
}

// Matcher assigns bank records to ledger records
type Matcher struct {
	threshold float64
	enhanced  bool
	verifier  Verifier
}

// NewBaseline returns a matcher using the deterministic score only.
func NewBaseline() *Matcher {
	return &Matcher{threshold: BaselineThreshold}
}

// NewEnhanced returns a matcher that blends promising scores with verifier's
// opinion. verifier may be nil, in which case a neutral 0.5 is blended.
func NewEnhanced(verifier Verifier) *Matcher {
	return &Matcher{threshold: EnhancedThreshold, enhanced: true, verifier: verifier}
}

// Match walks ledger records in order and claims, for each, the unclaimed bank
// record with the highest score above the threshold. Ties keep the earlier
// bank record. A claimed bank record is never reconsidered.
func (m *Matcher) Match(ctx context.Context, ledger []*common.LedgerRecord, bank []*common.BankRecord) *Result {
	result := &Result{
		Matched:    []common.Match{},
		LedgerOnly: []common.Match{},
		BankOnly:   []common.Match{},
	}
	claimed := make([]bool, len(bank))

	for _, l := range ledger {
		best := -1
		bestScore := 0.0
		for i, b := range bank {
			if claimed[i] {
				continue
			}
			score := m.score(ctx, l, b)
			if score > bestScore && score > m.threshold {
				best, bestScore = i, score
			}
		}

		if best < 0 {
			result.LedgerOnly = append(result.LedgerOnly, common.Match{Ledger: l, Type: common.MatchTypeLedgerOnly})
			continue
		}
		claimed[best] = true
		result.Matched = append(result.Matched, common.Match{
			Ledger:     l,
			Bank:       bank[best],
			Type:       common.MatchTypeMatched,
			Confidence: bestScore,
		})
	}

	for i, b := range bank {
		if !claimed[i] {
			result.BankOnly = append(result.BankOnly, common.Match{Bank: b, Type: common.MatchTypeBankOnly})
		}
	}

	result.Summary = Summary{
		TotalLedger:     len(ledger),
		TotalBank:       len(bank),
		MatchedCount:    len(result.Matched),
		LedgerOnlyCount: len(result.LedgerOnly),
		BankOnlyCount:   len(result.BankOnly),
		MatchPercentage: MatchPercentage(len(result.Matched), len(ledger), len(bank)),
	}

	observability.MatchesTotal.WithLabelValues(string(common.MatchTypeMatched)).Add(float64(len(result.Matched)))
	observability.MatchesTotal.WithLabelValues(string(common.MatchTypeLedgerOnly)).Add(float64(len(result.LedgerOnly)))
	observability.MatchesTotal.WithLabelValues(string(common.MatchTypeBankOnly)).Add(float64(len(result.BankOnly)))

	return result
}

func (m *Matcher) score(ctx context.Context, l *common.LedgerRecord, b *common.BankRecord) float64 {
	base := Score(l, b)
	if !m.enhanced || base <= verifyFloor {
		return base
	}

	verification := neutralVerification
	if m.verifier != nil {
		if v, err := m.verifier.VerifyMatch(ctx, l, b); err == nil {
			verification = math.Max(0, math.Min(1, v))
		}
	}
	return scoreWeight*base + verifyWeight*verification
}

// Score is the deterministic match confidence in [0,1].
func Score(l *common.LedgerRecord, b *common.BankRecord) float64 {
	confidence := 0.0

	diff := l.Amount.Sub(b.Amount).Abs()
	switch {
	case diff.LessThan(exactAmount):
		confidence += 0.4
	case diff.LessThan(closeAmount):
		confidence += 0.2
	}

	if !l.TransactionDate.IsZero() && !b.Date.IsZero() {
		switch days := dayDiff(l.TransactionDate, b.Date); {
		case days == 0:
			confidence += 0.3
		case days <= 1:
			confidence += 0.2
		case days <= 3:
			confidence += 0.1
		}
	}

	ledgerText := l.Description
	if ledgerText == "" {
		ledgerText = l.MerchantName
	}
	if ledgerText != "" && b.Description != "" {
		confidence += Jaccard(strings.ToLower(ledgerText), strings.ToLower(b.Description)) * 0.2
	}

	if l.Category != "" && b.Category != "" && strings.EqualFold(l.Category, b.Category) {
		confidence += 0.1
	}

	return math.Min(confidence, 1.0)
}

// Jaccard is the word-set similarity of two whitespace-split strings.
// It is case-sensitive; callers lower-case when they need to.
func Jaccard(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	set := make(map[string]bool, len(wordsA)+len(wordsB))
	for _, w := range wordsA {
		set[w] = false
	}
	intersection := 0
	for _, w := range wordsB {
		seen, ok := set[w]
		switch {
		case ok && !seen:
			set[w] = true
			intersection++
		case !ok:
			set[w] = true
		}
	}
	return float64(intersection) / float64(len(set))
}

// MatchPercentage is matched*2 over all records, as a percentage.
func MatchPercentage(matched, ledger, bank int) float64 {
	total := ledger + bank
	if total == 0 {
		return 0
	}
	return float64(matched*2) / float64(total) * 100
}

// dayDiff is the absolute number of calendar days between two dates.
func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
