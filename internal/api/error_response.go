// Package api provides the HTTP surface of the gateway: the
// Ollama-compatible data plane under /api and the routing control plane
// under /v1.
package api //nolint:revive // package name is intentional

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	igerrors "github.com/infergate/infergate/pkg/errors"
)

// WireError is the data-plane error envelope. It matches what the
// Ollama-compatible backends emit, so clients see one shape end to end.
type WireError struct {
	Error string `json:"error"`
}

// ErrorResponse is the control-plane error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeWireError writes a data-plane error in the backend wire shape.
func writeWireError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, WireError{Error: message})
}

// writeRouterError maps a routing failure onto the data-plane wire shape.
// Unknown errors respond 500 without leaking internals.
func writeRouterError(w http.ResponseWriter, err error) {
	var rerr *igerrors.RouterError
	if !errors.As(err, &rerr) {
		writeWireError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeWireError(w, rerr.HTTPStatusCode(), rerr.Message)
}
