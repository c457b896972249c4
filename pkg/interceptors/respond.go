package interceptors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFromError maps domain sentinel errors to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, common.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// RequireUserID reads the authenticated user id from the request context.
// On failure it writes the error response and returns false.
func RequireUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := GetUserIDFromContext(r.Context())
	if !ok || raw == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid user ID in token")
		return uuid.Nil, false
	}
	return userID, true
}
