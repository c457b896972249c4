package dedupe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

var jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func rec(description, amount string, date time.Time) *common.BankRecord {
	return &common.BankRecord{
		ID:          uuid.New(),
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
	}
}

func TestGroupKey(t *testing.T) {
	tests := []struct {
		name     string
		record   *common.BankRecord
		expected string
	}{
		{"plain", rec("Safeway", "45.67", jan15), "45.67_2024-01-15_SAFEWAY"},
		{"prefix and reference", rec("pos SAFEWAY #123", "45.670", jan15), "45.67_2024-01-15_SAFEWAY"},
		{"state code", rec("SHELL OIL TX 1234", "-35.8", jan15), "-35.80_2024-01-15_SHELL OIL"},
		{"long digit run", rec("AMAZON 998877", "1", jan15), "1.00_2024-01-15_AMAZON"},
		{"unknown date", rec("X", "0", time.Time{}), "0.00_unknown_X"},
		{"truncated", rec(strings.Repeat("A", 80), "1", jan15), "1.00_2024-01-15_" + strings.Repeat("A", 50)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, GroupKey(tc.record))
		})
	}
}

func TestFindGroups(t *testing.T) {
	a1 := rec("SAFEWAY #123", "45.67", jan15)
	single := rec("NETFLIX", "15.99", jan15)
	b1 := rec("SHELL", "35.89", jan15)
	a2 := rec("SAFEWAY #456", "45.67", jan15)
	b2 := rec("SHELL", "35.89", jan15)
	a3 := rec("POS SAFEWAY", "45.67", jan15)

	groups := FindGroups([]*common.BankRecord{a1, single, b1, a2, b2, a3})

	require.Len(t, groups, 2)
	assert.Equal(t, []*common.BankRecord{a1, a2, a3}, groups[0].Records)
	assert.Equal(t, []*common.BankRecord{b1, b2}, groups[1].Records)
}

func TestFindGroups_NoDuplicates(t *testing.T) {
	groups := FindGroups([]*common.BankRecord{
		rec("SAFEWAY", "45.67", jan15),
		rec("SAFEWAY", "45.67", jan15.AddDate(0, 0, 1)),
		rec("SAFEWAY", "45.68", jan15),
	})
	assert.Empty(t, groups)
}

func TestFallbackVerdict(t *testing.T) {
	tests := []struct {
		name       string
		group      []*common.BankRecord
		duplicates bool
		confidence float64
	}{
		{"exact", []*common.BankRecord{rec("SAFEWAY", "45.67", jan15), rec("SAFEWAY", "45.67", jan15)}, true, 1.0},
		{"close", []*common.BankRecord{
			rec("SAFEWAY STORE 12 MAIN STREET CITY", "45.67", jan15),
			rec("SAFEWAY STORE 12 MAIN STREET CITY TOWN", "45.67", jan15),
		}, true, 0.9},
		{"case only", []*common.BankRecord{rec("Safeway Store Purchase", "45.67", jan15), rec("SAFEWAY STORE PURCHASE", "45.67", jan15)}, true, 0.9},
		{"differing references", []*common.BankRecord{rec("SAFEWAY #123", "45.67", jan15), rec("SAFEWAY #456", "45.67", jan15)}, false, 0},
		{"different dates", []*common.BankRecord{rec("SAFEWAY", "45.67", jan15), rec("SAFEWAY", "45.67", jan15.AddDate(0, 0, 1))}, false, 0},
		{"three members", []*common.BankRecord{rec("A", "1", jan15), rec("A", "1", jan15), rec("A", "1", jan15)}, false, 0},
		{"one member", []*common.BankRecord{rec("A", "1", jan15)}, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := FallbackVerdict(tc.group)
			assert.Equal(t, tc.duplicates, v.AreDuplicates)
			assert.Equal(t, tc.confidence, v.Confidence)
			assert.NotEmpty(t, v.Reasoning)
		})
	}
}

func TestMerge(t *testing.T) {
	batch := uuid.New()
	first := rec("SAFEWAY #123", "45.67", jan15)
	first.UploadBatchID = batch
	first.Category = "N/A"
	first.MerchantName = "Unknown"
	second := rec("SAFEWAY #456", "45.67", jan15)
	second.Category = "food"
	second.MerchantName = "SAFEWAY"
	third := rec("SAFEWAY #123", "45.67", jan15)
	third.Category = "shopping"

	merged, err := Merge([]*common.BankRecord{first, second, third})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, merged.ID)
	assert.Equal(t, batch, merged.UploadBatchID)
	assert.Equal(t, "SAFEWAY #123 | SAFEWAY #456", merged.Description)
	assert.Equal(t, "food", merged.Category)
	assert.Equal(t, "SAFEWAY", merged.MerchantName)
	assert.True(t, merged.Amount.Equal(first.Amount))
	assert.False(t, merged.IsMatched)
}

func TestMerge_EmptyGroup(t *testing.T) {
	_, err := Merge(nil)
	assert.ErrorIs(t, err, ErrEmptyGroup)
}

type mockConfirmer struct {
	mock.Mock
}

func (m *mockConfirmer) ConfirmDuplicates(ctx context.Context, group []*common.BankRecord) (common.DuplicateVerdict, error) {
	args := m.Called(ctx, group)
	return args.Get(0).(common.DuplicateVerdict), args.Error(1)
}

func newTestDeduplicator(repo *memoryRepo, confirmer Confirmer) *Deduplicator {
	return NewDeduplicator(repo, confirmer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRun_MergesConfirmedGroupsAndIsIdempotent(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo(
		rec("SAFEWAY", "45.67", jan15),
		rec("NETFLIX", "15.99", jan15),
		rec("SAFEWAY", "45.67", jan15),
	)
	d := newTestDeduplicator(repo, nil)

	result, err := d.Run(context.Background(), userID, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Summary.TotalTransactions)
	assert.Equal(t, 1, result.Summary.DuplicateGroupsFound)
	assert.Equal(t, 2, result.Summary.TransactionsMerged)
	assert.Equal(t, 1, result.Summary.TransactionsDeleted)
	require.Len(t, result.Summary.GroupsProcessed, 1)
	outcome := result.Summary.GroupsProcessed[0]
	assert.Equal(t, "45.67_2024-01-15_SAFEWAY", outcome.GroupID)
	assert.Equal(t, 2, outcome.TransactionsCount)
	assert.Equal(t, 1.0, outcome.AIConfidence)
	require.Len(t, result.MergedTransactions, 1)
	assert.Equal(t, result.MergedTransactions[0].ID, outcome.MergedTransactionID)
	assert.Len(t, repo.all(), 2)

	again, err := d.Run(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Summary.DuplicateGroupsFound)
	assert.Equal(t, 0, again.Summary.TransactionsDeleted)
	assert.Len(t, repo.all(), 2)
}

func TestRun_FallbackKeepsDifferingReferences(t *testing.T) {
	repo := newMemoryRepo(
		rec("SAFEWAY #123", "45.67", jan15),
		rec("SAFEWAY #456", "45.67", jan15),
	)
	d := newTestDeduplicator(repo, nil)

	result, err := d.Run(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.DuplicateGroupsFound)
	assert.Equal(t, 0, result.Summary.TransactionsMerged)
	assert.Empty(t, result.Summary.GroupsProcessed)
	assert.Len(t, repo.all(), 2)
}

func TestRun_ConfirmerDecides(t *testing.T) {
	a := rec("SAFEWAY #123", "45.67", jan15)
	b := rec("SAFEWAY #456", "45.67", jan15)
	repo := newMemoryRepo(a, b)

	confirmer := &mockConfirmer{}
	confirmer.On("ConfirmDuplicates", mock.Anything, []*common.BankRecord{a, b}).
		Return(common.DuplicateVerdict{AreDuplicates: true, Confidence: 0.3, Reasoning: "same card swipe"}, nil).Once()

	result, err := newTestDeduplicator(repo, confirmer).Run(context.Background(), uuid.New(), nil)
	require.NoError(t, err)

	confirmer.AssertExpectations(t)
	require.Len(t, result.Summary.GroupsProcessed, 1)
	assert.Equal(t, 0.3, result.Summary.GroupsProcessed[0].AIConfidence, "confidence is recorded, not gated")
	assert.Equal(t, "same card swipe", result.Summary.GroupsProcessed[0].AIReasoning)
	assert.Len(t, repo.all(), 1)
}

func TestRun_ConfirmerErrorFallsBack(t *testing.T) {
	a := rec("SAFEWAY", "45.67", jan15)
	b := rec("SAFEWAY", "45.67", jan15)
	repo := newMemoryRepo(a, b)

	confirmer := &mockConfirmer{}
	confirmer.On("ConfirmDuplicates", mock.Anything, mock.Anything).
		Return(common.DuplicateVerdict{}, errors.New("rate limited"))

	result, err := newTestDeduplicator(repo, confirmer).Run(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	require.Len(t, result.Summary.GroupsProcessed, 1)
	assert.Equal(t, 1.0, result.Summary.GroupsProcessed[0].AIConfidence)
}

func TestRun_BatchScoped(t *testing.T) {
	batch := uuid.New()
	inBatch := rec("SAFEWAY", "45.67", jan15)
	inBatch.UploadBatchID = batch
	outside := rec("SAFEWAY", "45.67", jan15)
	outside.UploadBatchID = uuid.New()
	repo := newMemoryRepo(inBatch, outside)

	result, err := newTestDeduplicator(repo, nil).Run(context.Background(), uuid.New(), &batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.TotalTransactions)
	assert.Equal(t, 0, result.Summary.DuplicateGroupsFound)
}

func TestRun_ReplaceFailure(t *testing.T) {
	repo := newMemoryRepo(rec("SAFEWAY", "45.67", jan15), rec("SAFEWAY", "45.67", jan15))
	repo.replaceErr = errors.New("serialization failure")

	_, err := newTestDeduplicator(repo, nil).Run(context.Background(), uuid.New(), nil)
	assert.ErrorContains(t, err, "serialization failure")
	assert.Len(t, repo.all(), 2)
}

type memoryRepo struct {
	mu         sync.Mutex
	records    []*common.BankRecord
	replaceErr error
}

func newMemoryRepo(records ...*common.BankRecord) *memoryRepo {
	return &memoryRepo{records: records}
}

func (m *memoryRepo) ListByUser(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) ([]*common.BankRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*common.BankRecord
	for _, r := range m.records {
		if filter.BatchID != nil && r.UploadBatchID != *filter.BatchID {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ReplaceDuplicates(ctx context.Context, merged *common.BankRecord, originalIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	remove := make(map[uuid.UUID]bool, len(originalIDs))
	for _, id := range originalIDs {
		remove[id] = true
	}
	kept := m.records[:0]
	for _, r := range m.records {
		if !remove[r.ID] {
			kept = append(kept, r)
		}
	}
	m.records = append(kept, merged)
	return nil
}

func (m *memoryRepo) all() []*common.BankRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*common.BankRecord(nil), m.records...)
}
