package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-reconciler/pkg/interceptors"
)

type mockImporter struct {
	mock.Mock
}

func (m *mockImporter) Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (*importservice.UploadResult, error) {
	args := m.Called(ctx, userID, fileName, data)
	res, _ := args.Get(0).(*importservice.UploadResult)
	return res, args.Error(1)
}

func (m *mockImporter) List(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) (*importservice.ListResult, error) {
	args := m.Called(ctx, userID, filter)
	res, _ := args.Get(0).(*importservice.ListResult)
	return res, args.Error(1)
}

func (m *mockImporter) Batches(ctx context.Context, userID uuid.UUID) ([]repository.BatchSummary, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).([]repository.BatchSummary)
	return res, args.Error(1)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(svc Importer, maxBytes int64) http.Handler {
	mux := http.NewServeMux()
	NewImportHandler(svc, maxBytes, discard).Register(mux)
	return mux
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(interceptors.WithUserID(req.Context(), userID.String()))
}

func decodeDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["detail"]
}

func TestUpload_Success(t *testing.T) {
	userID := uuid.New()
	content := []byte("Date,Description,Amount\n2024-01-15,SAFEWAY,-45.67\n")
	want := &importservice.UploadResult{BatchID: uuid.New(), Total: 1, Succeeded: 1, Errors: []string{}}

	svc := &mockImporter{}
	svc.On("Upload", mock.Anything, userID, "statement.CSV", content).Return(want, nil)

	body, contentType := multipartBody(t, "file", "statement.CSV", content)
	req := httptest.NewRequest(http.MethodPost, "/v1/bank-transactions/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	newServer(svc, 0).ServeHTTP(rr, authed(req, userID))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, want.BatchID.String(), got["batch_id"])
	assert.Equal(t, float64(1), got["total_transactions"])
	assert.Equal(t, float64(1), got["successful_imports"])
	assert.Equal(t, float64(0), got["failed_imports"])
	svc.AssertExpectations(t)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		fileName   string
		content    []byte
		maxBytes   int64
		wantStatus int
		wantDetail string
	}{
		{"not csv", "file", "statement.pdf", []byte("x"), 0, http.StatusBadRequest, "Only CSV files are supported"},
		{"empty file", "file", "statement.csv", nil, 0, http.StatusBadRequest, "Empty file uploaded"},
		{"missing field", "upload", "statement.csv", []byte("x"), 0, http.StatusBadRequest, "file field is required"},
		{"too large", "file", "statement.csv", bytes.Repeat([]byte("a"), 2<<20), 1 << 20, http.StatusRequestEntityTooLarge, "File too large. Maximum size is 1MB"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockImporter{}
			body, contentType := multipartBody(t, tc.field, tc.fileName, tc.content)
			req := httptest.NewRequest(http.MethodPost, "/v1/bank-transactions/upload", body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			newServer(svc, tc.maxBytes).ServeHTTP(rr, authed(req, uuid.New()))

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantDetail, decodeDetail(t, rr))
			svc.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpload_ServiceFailure(t *testing.T) {
	svc := &mockImporter{}
	svc.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("copy failed"))

	body, contentType := multipartBody(t, "file", "s.csv", []byte("a,b\n1,2\n"))
	req := httptest.NewRequest(http.MethodPost, "/v1/bank-transactions/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	newServer(svc, 0).ServeHTTP(rr, authed(req, uuid.New()))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Upload failed: copy failed", decodeDetail(t, rr))
}

func TestUpload_RequiresUser(t *testing.T) {
	body, contentType := multipartBody(t, "file", "s.csv", []byte("a"))
	req := httptest.NewRequest(http.MethodPost, "/v1/bank-transactions/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	newServer(&mockImporter{}, 0).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestList(t *testing.T) {
	userID := uuid.New()
	batchID := uuid.New()

	svc := &mockImporter{}
	svc.On("List", mock.Anything, userID, repository.ListFilter{BatchID: &batchID, Page: 2, Size: 20}).
		Return(&importservice.ListResult{Total: 45, Page: 2, Size: 20, Pages: 3}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/bank-transactions?page=2&size=20&batch_id="+batchID.String(), nil)
	rr := httptest.NewRecorder()
	newServer(svc, 0).ServeHTTP(rr, authed(req, userID))

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, float64(3), got["pages"])
	svc.AssertExpectations(t)
}

func TestList_BadParams(t *testing.T) {
	for _, query := range []string{"page=0", "page=x", "size=0", "size=5000", "batch_id=nope"} {
		t.Run(query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/bank-transactions?"+query, nil)
			rr := httptest.NewRecorder()
			newServer(&mockImporter{}, 0).ServeHTTP(rr, authed(req, uuid.New()))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestBatches(t *testing.T) {
	userID := uuid.New()
	svc := &mockImporter{}
	svc.On("Batches", mock.Anything, userID).Return([]repository.BatchSummary{{BatchID: uuid.New(), Count: 3}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/bank-transactions/batches", nil)
	rr := httptest.NewRecorder()
	newServer(svc, 0).ServeHTTP(rr, authed(req, userID))

	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Batches []map[string]any `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Batches, 1)
	assert.Equal(t, float64(3), got.Batches[0]["count"])
}
