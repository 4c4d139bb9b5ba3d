package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/nimbus/internal/log"
)

// ErrorResponse is the body of every error reply. LoginURL is set when the
// client should restart the login flow.
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	LoginURL string `json:"login_url,omitempty"`
}

// WriteResponse encodes data with the given status. Responses carry user
// data or tokens, so they are never cached.
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogErrorWithFields("json", "Failed to encode response", map[string]any{
			"status": statusCode,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}

// Write replies 200 with data
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError replies with a machine-readable code and a human message
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteLoginError(w, statusCode, code, message, "")
}

// WriteLoginError is WriteError plus a link back to the login page
func WriteLoginError(w http.ResponseWriter, statusCode int, code, message, loginURL string) {
	_ = WriteResponse(w, statusCode, ErrorResponse{Error: code, Message: message, LoginURL: loginURL})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_server_error", message)
}
