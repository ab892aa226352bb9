package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/chain"
	"github.com/trustledger/go-core/pkg/types"
)

// appendRecordHandler handles POST /v1/records
func (s *Server) appendRecordHandler(w http.ResponseWriter, r *http.Request) {
	var req AppendRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "BAD_REQUEST")
		return
	}

	record, err := s.writer.Append(r.Context(), &chain.AppendRequest{
		TenantID:      req.TenantID,
		InputPayload:  req.InputPayload,
		OutputPayload: req.OutputPayload,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if chain.IsValidation(err) {
			WriteError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		// A storage failure here is a compliance incident for the caller's
		// action; surface it loudly rather than masking it.
		WriteError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}

	WriteJSON(w, http.StatusCreated, AppendRecordResponse{Record: record})
}

// queryRecordsHandler handles GET /v1/records
func (s *Server) queryRecordsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		WriteError(w, http.StatusBadRequest, "tenant_id query parameter is required", "VALIDATION_ERROR")
		return
	}

	query := &types.RecordQuery{
		TenantID: tenantID,
		Actor:    q.Get("actor"),
		Action:   q.Get("action"),
	}
	if v := q.Get("start_time"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "start_time must be RFC3339", "VALIDATION_ERROR")
			return
		}
		query.StartTime = ts
	}
	if v := q.Get("end_time"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "end_time must be RFC3339", "VALIDATION_ERROR")
			return
		}
		query.EndTime = ts
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Offset = n
		}
	}

	result, err := s.store.Query(r.Context(), query)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// verifyHandler handles POST /v1/integrity/{tenant}/verify
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]

	report, err := s.verifier.Verify(r.Context(), tenantID)
	if err != nil {
		if chain.IsValidation(err) {
			WriteError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		// Store unreachable is a verifier failure, not a chain finding;
		// the caller retries.
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "STORAGE_ERROR")
		return
	}

	if err := s.store.SaveReport(r.Context(), report); err != nil {
		s.logger.Warn("Failed to persist on-demand integrity report",
			zap.Error(err),
		)
	}

	WriteJSON(w, http.StatusOK, VerifyResponse{Report: report})
}

// listReportsHandler handles GET /v1/integrity/{tenant}/reports
func (s *Server) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	reports, err := s.store.ListReports(r.Context(), tenantID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}

	WriteJSON(w, http.StatusOK, ReportsResponse{Reports: reports})
}

// healthCheckHandler handles GET /health
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusHandler handles GET /v1/status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}
