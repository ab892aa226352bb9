// Package rest provides the REST API surface for the audit chain service
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/trustledger/go-core/pkg/types"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// AppendRecordRequest represents a chain append request
type AppendRecordRequest struct {
	TenantID      string                 `json:"tenant_id"`
	InputPayload  json.RawMessage        `json:"input_payload"`
	OutputPayload json.RawMessage        `json:"output_payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// AppendRecordResponse wraps the persisted record
type AppendRecordResponse struct {
	Record *types.AuditRecord `json:"record"`
}

// VerifyResponse wraps an on-demand integrity report
type VerifyResponse struct {
	Report *types.IntegrityReport `json:"report"`
}

// ReportsResponse wraps historical integrity reports
type ReportsResponse struct {
	Reports []*types.IntegrityReport `json:"reports"`
}

// StatusResponse is the /v1/status payload
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string, code string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
	})
}
