package interceptors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, uid string, expires time.Time) string {
	t.Helper()
	claims := common.Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func echoUserID() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := GetUserIDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func TestAuthMiddleware(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, testSecret, "user-1", time.Now().Add(time.Hour))
	expired := signToken(t, jwt.SigningMethodHS256, testSecret, "user-1", time.Now().Add(-time.Hour))
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), "user-1", time.Now().Add(time.Hour))
	hs512 := signToken(t, jwt.SigningMethodHS512, testSecret, "user-1", time.Now().Add(time.Hour))
	noUID := signToken(t, jwt.SigningMethodHS256, testSecret, "", time.Now().Add(time.Hour))

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "/v1/bank-transactions", "Bearer " + valid, http.StatusOK, "user-1"},
		{"public path", "/health", "", http.StatusOK, ""},
		{"below public path", "/health/details", "", http.StatusOK, ""},
		{"public path lookalike", "/healthanything", "", http.StatusUnauthorized, ""},
		{"metrics lookalike", "/metrics-admin", "", http.StatusUnauthorized, ""},
		{"missing header", "/v1/bank-transactions", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/v1/bank-transactions", "Basic abc", http.StatusUnauthorized, ""},
		{"expired", "/v1/bank-transactions", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "/v1/bank-transactions", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
		{"unexpected algorithm", "/v1/bank-transactions", "Bearer " + hs512, http.StatusUnauthorized, ""},
		{"no uid claim", "/v1/bank-transactions", "Bearer " + noUID, http.StatusUnauthorized, ""},
	}

	handler := NewAuthMiddleware(testSecret, "/health", "/metrics")(echoUserID())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, tc.wantBody, rr.Body.String())
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := NewRequestIDMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"detail":"internal server error"}`, rr.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 2)
	handler := NewRateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for range 3 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	open := NewRateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		NewRequestIDMiddleware("X-Request-ID"),
		NewLoggingMiddleware(logger),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/bank-transactions/upload", nil)
	req.Header.Set("X-Request-ID", "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/v1/bank-transactions/upload", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "req-1", entry["requestID"])
}

func TestTracingMiddlewarePassesThrough(t *testing.T) {
	handler := NewTracingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/bank-transactions/compare", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestAPIGroup(t *testing.T) {
	assert.Equal(t, "/", apiGroup("/"))
	assert.Equal(t, "/health", apiGroup("/health"))
	assert.Equal(t, "/v1/bank-transactions", apiGroup("/v1/bank-transactions/compare"))
}
