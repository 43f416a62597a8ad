package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/appvend/appvend/pkg/apperr"
)

// ErrorBody is the JSON envelope for all error responses.
type ErrorBody struct {
	Errors []apperr.Entry `json:"errors"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteAppError writes a structured error response. The status comes from
// the error itself; the body carries the primary entry plus any entries
// accumulated on it. Causes are never serialized.
func WriteAppError(w http.ResponseWriter, err *apperr.Error) {
	if err == nil {
		err = apperr.Internal(apperr.CodeUnexpectedFailure, "unexpected failure")
	}
	WriteJSON(w, err.Status, ErrorBody{Errors: err.Entries()})
}

// WriteError converts any error into the structured envelope. Structured
// errors keep their code and status; everything else becomes a 500
// unexpected_failure so raw internals never reach a client.
func WriteError(w http.ResponseWriter, err error) {
	WriteAppError(w, apperr.From(err))
}

// WriteSuccess writes a successful response (200 OK) with JSON data.
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created).
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no body (204).
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
