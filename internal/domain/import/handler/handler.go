// Package handler exposes statement upload and bank record listing over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-reconciler/pkg/interceptors"
)

// DefaultMaxUploadBytes caps an uploaded statement file.
const DefaultMaxUploadBytes int64 = 10 << 20

// multipart boundaries and headers on top of the file itself
const formOverheadBytes int64 = 64 << 10

// Importer is the ingestion surface used by ImportHandler.
type Importer interface {
	Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (*importservice.UploadResult, error)
	List(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) (*importservice.ListResult, error)
	Batches(ctx context.Context, userID uuid.UUID) ([]repository.BatchSummary, error)
}

// ImportHandler serves the bank statement endpoints.
type ImportHandler struct {
	svc      Importer
	maxBytes int64
	logger   *slog.Logger
}

// NewImportHandler constructs a new handler. A non-positive maxBytes uses DefaultMaxUploadBytes.
func NewImportHandler(svc Importer, maxBytes int64, logger *slog.Logger) *ImportHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &ImportHandler{svc: svc, maxBytes: maxBytes, logger: logger}
}

// Register mounts the routes on mux.
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/bank-transactions/upload", h.Upload)
	mux.HandleFunc("GET /v1/bank-transactions", h.List)
	mux.HandleFunc("GET /v1/bank-transactions/batches", h.Batches)
}

// Upload ingests a multipart "file" field holding a .csv statement.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.RequireUserID(w, r)
	if !ok {
		return
	}
	l := h.logger.With(slog.String("method", "Upload"), slog.String("userID", userID.String()))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverheadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			interceptors.WriteError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
			return
		}
		interceptors.WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		interceptors.WriteError(w, http.StatusBadRequest, "Only CSV files are supported")
		return
	}
	if header.Size > h.maxBytes {
		interceptors.WriteError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		l.ErrorContext(r.Context(), "failed to read upload", slog.Any("error", err))
		interceptors.WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		interceptors.WriteError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
		return
	}
	if len(data) == 0 {
		interceptors.WriteError(w, http.StatusBadRequest, "Empty file uploaded")
		return
	}

	result, err := h.svc.Upload(r.Context(), userID, header.Filename, data)
	if err != nil {
		l.ErrorContext(r.Context(), "upload failed", slog.Any("error", err))
		interceptors.WriteError(w, interceptors.StatusFromError(err), fmt.Sprintf("Upload failed: %v", err))
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, result)
}

// List returns one page of bank records, optionally for one batch.
func (h *ImportHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.RequireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := repository.ListFilter{}
	var err error
	if filter.Page, err = intParam(q.Get("page"), 1); err != nil || filter.Page < 1 {
		interceptors.WriteError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	if filter.Size, err = intParam(q.Get("size"), 100); err != nil || filter.Size < 1 || filter.Size > 1000 {
		interceptors.WriteError(w, http.StatusBadRequest, "size must be between 1 and 1000")
		return
	}
	if raw := q.Get("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			interceptors.WriteError(w, http.StatusBadRequest, "invalid batch_id")
			return
		}
		filter.BatchID = &id
	}

	result, err := h.svc.List(r.Context(), userID, filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failed", slog.String("userID", userID.String()), slog.Any("error", err))
		interceptors.WriteError(w, interceptors.StatusFromError(err), "failed to list bank transactions")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, result)
}

// Batches summarises the user's upload batches.
func (h *ImportHandler) Batches(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.RequireUserID(w, r)
	if !ok {
		return
	}

	batches, err := h.svc.Batches(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "batches failed", slog.String("userID", userID.String()), slog.Any("error", err))
		interceptors.WriteError(w, interceptors.StatusFromError(err), "failed to list upload batches")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *ImportHandler) tooLargeMessage() string {
	return fmt.Sprintf("File too large. Maximum size is %dMB", h.maxBytes>>20)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
