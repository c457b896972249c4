package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/dedupe"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
	"github.com/FACorreiaa/ledger-reconciler/pkg/interceptors"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Compare(ctx context.Context, userID uuid.UUID) (*matcher.Result, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*matcher.Result)
	return res, args.Error(1)
}

func (m *mockReconciler) CompareEnhanced(ctx context.Context, userID uuid.UUID) (*matcher.Result, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*matcher.Result)
	return res, args.Error(1)
}

func (m *mockReconciler) DetectDuplicates(ctx context.Context, userID uuid.UUID, batchID *uuid.UUID) (*dedupe.Result, error) {
	args := m.Called(ctx, userID, batchID)
	res, _ := args.Get(0).(*dedupe.Result)
	return res, args.Error(1)
}

func (m *mockReconciler) SeedSample(ctx context.Context, userID uuid.UUID) (*matcher.Result, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*matcher.Result)
	return res, args.Error(1)
}

func (m *mockReconciler) SeedSampleBank(ctx context.Context, userID uuid.UUID) (*importservice.UploadResult, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*importservice.UploadResult)
	return res, args.Error(1)
}

func serve(t *testing.T, svc Reconciler, method, target string, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewReconcileHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)

	req := httptest.NewRequest(method, target, nil)
	if userID != uuid.Nil {
		req = req.WithContext(interceptors.WithUserID(req.Context(), userID.String()))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func sampleResult() *matcher.Result {
	bank := &common.BankRecord{ID: uuid.New(), Description: "SALARY DEPOSIT"}
	merged := 2
	return &matcher.Result{
		Matched:    []common.Match{},
		LedgerOnly: []common.Match{},
		BankOnly:   []common.Match{{Bank: bank, Type: common.MatchTypeBankOnly}},
		Summary:    matcher.Summary{TotalBank: 1, BankOnlyCount: 1, DuplicatesMerged: &merged},
	}
}

func TestComparisonRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		call   string
	}{
		{"compare", http.MethodGet, "/v1/bank-transactions/compare", "Compare"},
		{"compare improved", http.MethodGet, "/v1/bank-transactions/compare-improved", "CompareEnhanced"},
		{"sample", http.MethodPost, "/v1/bank-transactions/sample-comparison", "SeedSample"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			userID := uuid.New()
			svc := &mockReconciler{}
			svc.On(tc.call, mock.Anything, userID).Return(sampleResult(), nil)

			rr := serve(t, svc, tc.method, tc.target, userID)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var body struct {
				Matched  []json.RawMessage `json:"matched"`
				BankOnly []struct {
					Ledger    *json.RawMessage `json:"ledger_transaction"`
					MatchType string           `json:"match_type"`
				} `json:"bank_only"`
				Summary map[string]any `json:"summary"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotNil(t, body.Matched, "empty partitions encode as []")
			require.Len(t, body.BankOnly, 1)
			assert.Equal(t, "bank_only", body.BankOnly[0].MatchType)
			assert.Equal(t, float64(2), body.Summary["duplicates_merged"])
			svc.AssertExpectations(t)
		})
	}
}

func TestComparison_ServiceFailure(t *testing.T) {
	svc := &mockReconciler{}
	svc.On("Compare", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	rr := serve(t, svc, http.MethodGet, "/v1/bank-transactions/compare", uuid.New())
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"detail":"Comparison failed"}`, rr.Body.String())
}

func TestComparison_NotFoundMapsTo404(t *testing.T) {
	svc := &mockReconciler{}
	svc.On("Compare", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("failed to load: %w", common.ErrNotFound))

	rr := serve(t, svc, http.MethodGet, "/v1/bank-transactions/compare", uuid.New())
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestComparison_RequiresUser(t *testing.T) {
	rr := serve(t, &mockReconciler{}, http.MethodGet, "/v1/bank-transactions/compare", uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDetectDuplicates(t *testing.T) {
	userID := uuid.New()
	batchID := uuid.New()
	result := &dedupe.Result{
		Summary:            dedupe.Summary{TotalTransactions: 4, DuplicateGroupsFound: 1, GroupsProcessed: []dedupe.GroupOutcome{}},
		MergedTransactions: []*common.BankRecord{},
	}

	t.Run("whole history", func(t *testing.T) {
		svc := &mockReconciler{}
		svc.On("DetectDuplicates", mock.Anything, userID, (*uuid.UUID)(nil)).Return(result, nil)

		rr := serve(t, svc, http.MethodPost, "/v1/bank-transactions/detect-duplicates", userID)
		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, float64(4), body["summary"]["total_transactions"])
		svc.AssertExpectations(t)
	})

	t.Run("one batch", func(t *testing.T) {
		svc := &mockReconciler{}
		svc.On("DetectDuplicates", mock.Anything, userID, &batchID).Return(result, nil)

		rr := serve(t, svc, http.MethodPost, "/v1/bank-transactions/detect-duplicates?batch_id="+batchID.String(), userID)
		require.Equal(t, http.StatusOK, rr.Code)
		svc.AssertExpectations(t)
	})

	t.Run("bad batch id", func(t *testing.T) {
		rr := serve(t, &mockReconciler{}, http.MethodPost, "/v1/bank-transactions/detect-duplicates?batch_id=x", userID)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSampleData(t *testing.T) {
	userID := uuid.New()
	batchID := uuid.New()
	svc := &mockReconciler{}
	svc.On("SeedSampleBank", mock.Anything, userID).Return(&importservice.UploadResult{
		BatchID: batchID, Total: 8, Succeeded: 8, Errors: []string{},
	}, nil)

	rr := serve(t, svc, http.MethodPost, "/v1/bank-transactions/sample-data", userID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, batchID.String(), body["batch_id"])
	assert.Equal(t, float64(8), body["total_transactions"])
	assert.Equal(t, float64(8), body["successful_imports"])
	assert.Equal(t, float64(0), body["failed_imports"])
	svc.AssertExpectations(t)
}

func TestSampleData_Failure(t *testing.T) {
	userID := uuid.New()
	svc := &mockReconciler{}
	svc.On("SeedSampleBank", mock.Anything, userID).Return(nil, errors.New("db down"))

	rr := serve(t, svc, http.MethodPost, "/v1/bank-transactions/sample-data", userID)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "Sample data generation failed")
}
