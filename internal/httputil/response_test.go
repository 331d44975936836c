package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "pingme/internal/errors"
	"pingme/internal/tracing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, map[string]interface{}{"success": true}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestWriteError_RetryableSetsRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/messages/send/bob", nil)
	rec := httptest.NewRecorder()

	WriteError(rec, req, apperrors.WrapRetryable(errors.New("database is locked"), apperrors.ErrCodeDatabaseQuery, "insert failed"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `true`, mustField(t, rec.Body.Bytes(), "retryable"))

	rec = httptest.NewRecorder()
	WriteError(rec, req, apperrors.NewNotFoundError("User", "bob"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func mustField(t *testing.T, body []byte, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	require.Contains(t, m, key)
	return string(m[key])
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.NewNotFoundError("Message", "m1"), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", apperrors.NewForbiddenError("edit this message"), http.StatusForbidden, "FORBIDDEN"},
		{"invalid", apperrors.NewValidationError("content", "message content is required"), http.StatusBadRequest, "INVALID_INPUT"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/messages/m1", nil)
			req = req.WithContext(tracing.WithRequestID(req.Context(), "req-1"))
			rec := httptest.NewRecorder()

			WriteError(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body struct {
				Success bool `json:"success"`
				Error   struct {
					Code string `json:"code"`
				} `json:"error"`
				RequestID string `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}
