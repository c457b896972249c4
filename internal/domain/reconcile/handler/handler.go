// Package handler exposes reconciliation and duplicate detection over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/dedupe"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
	"github.com/FACorreiaa/ledger-reconciler/pkg/interceptors"
)

// Reconciler is the reconciliation surface used by ReconcileHandler.
type Reconciler interface {
	Compare(ctx context.Context, userID uuid.UUID) (*matcher.Result, error)
	CompareEnhanced(ctx context.Context, userID uuid.UUID) (*matcher.Result, error)
	DetectDuplicates(ctx context.Context, userID uuid.UUID, batchID *uuid.UUID) (*dedupe.Result, error)
	SeedSample(ctx context.Context, userID uuid.UUID) (*matcher.Result, error)
	SeedSampleBank(ctx context.Context, userID uuid.UUID) (*importservice.UploadResult, error)
}

// ReconcileHandler serves the comparison endpoints.
type ReconcileHandler struct {
	svc    Reconciler
	logger *slog.Logger
}

// NewReconcileHandler constructs a new handler.
func NewReconcileHandler(svc Reconciler, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{svc: svc, logger: logger}
}

// Register mounts the routes on mux.
func (h *ReconcileHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/bank-transactions/compare", h.Compare)
	mux.HandleFunc("GET /v1/bank-transactions/compare-improved", h.CompareImproved)
	mux.HandleFunc("POST /v1/bank-transactions/detect-duplicates", h.DetectDuplicates)
	mux.HandleFunc("POST /v1/bank-transactions/sample-comparison", h.SampleComparison)
	mux.HandleFunc("POST /v1/bank-transactions/sample-data", h.SampleData)
}

// Compare runs the baseline reconciliation.
func (h *ReconcileHandler) Compare(w http.ResponseWriter, r *http.Request) {
	h.runComparison(w, r, "Compare", h.svc.Compare)
}

// CompareImproved merges duplicates and runs the verifier-assisted reconciliation.
func (h *ReconcileHandler) CompareImproved(w http.ResponseWriter, r *http.Request) {
	h.runComparison(w, r, "CompareImproved", h.svc.CompareEnhanced)
}

// SampleComparison seeds the demonstration data set and compares it.
func (h *ReconcileHandler) SampleComparison(w http.ResponseWriter, r *http.Request) {
	h.runComparison(w, r, "SampleComparison", h.svc.SeedSample)
}

// SampleData replaces the user's bank records with the sample statement.
func (h *ReconcileHandler) SampleData(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.RequireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.SeedSampleBank(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sample data failed",
			slog.String("method", "SampleData"),
			slog.String("userID", userID.String()),
			slog.Any("error", err))
		interceptors.WriteError(w, interceptors.StatusFromError(err), "Sample data generation failed")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, result)
}

// DetectDuplicates merges duplicate bank records, optionally for one batch.
func (h *ReconcileHandler) DetectDuplicates(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.RequireUserID(w, r)
	if !ok {
		return
	}

	var batchID *uuid.UUID
	if raw := r.URL.Query().Get("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			interceptors.WriteError(w, http.StatusBadRequest, "invalid batch_id")
			return
		}
		batchID = &id
	}

	result, err := h.svc.DetectDuplicates(r.Context(), userID, batchID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "duplicate detection failed",
			slog.String("method", "DetectDuplicates"),
			slog.String("userID", userID.String()),
			slog.Any("error", err))
		interceptors.WriteError(w, interceptors.StatusFromError(err), "Duplicate detection failed")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, result)
}

func (h *ReconcileHandler) runComparison(
	w http.ResponseWriter,
	r *http.Request,
	method string,
	run func(context.Context, uuid.UUID) (*matcher.Result, error),
) {
	userID, ok := interceptors.RequireUserID(w, r)
	if !ok {
		return
	}

	result, err := run(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "comparison failed",
			slog.String("method", method),
			slog.String("userID", userID.String()),
			slog.Any("error", err))
		interceptors.WriteError(w, interceptors.StatusFromError(err), "Comparison failed")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, result)
}
