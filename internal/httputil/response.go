package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "pingme/internal/errors"
	"pingme/internal/tracing"
)

// WriteJSON encodes body as the JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// WriteError writes the standard failure envelope for err, with the status
// derived from its error code. Retryable failures carry a Retry-After hint.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	body := apperrors.ToHTTPResponse(err, requestID)
	if body.Retryable && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}
	_ = WriteJSON(w, apperrors.HTTPStatusCode(err), body)
}
