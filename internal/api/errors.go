package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is the body of every failed request.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codes carried in Error.Code.
const (
	CodeNotFound         = "not_found"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
	CodeMethodNotAllowed = "method_not_allowed"
)

// respond encodes v as the JSON body of a response with the given status.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

// fail answers with an Error; the message is built from format and args.
func fail(w http.ResponseWriter, status int, code, format string, args ...any) {
	respond(w, status, Error{
		Status:  status,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}
