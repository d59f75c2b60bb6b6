package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/auditchain/internal/ir"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError maps err onto a status code and a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("request failed", "status", status, "error", err)
	}
	if status == http.StatusServiceUnavailable || status == http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var le *ir.LedgerError
	if errors.As(err, &le) {
		body := errorBody{Error: errorDetail{Code: string(le.Code), Message: le.Message, Details: le.Details}}
		switch le.Code {
		case ir.ErrCodeValidation:
			return http.StatusBadRequest, body
		case ir.ErrCodeContention:
			return http.StatusConflict, body
		case ir.ErrCodeStorageUnavailable:
			return http.StatusServiceUnavailable, body
		case ir.ErrCodeIntegrityViolation, ir.ErrCodeSequenceGap:
			return http.StatusUnprocessableEntity, body
		}
	}

	switch {
	case errors.Is(err, ir.ErrChainNotFound):
		return http.StatusNotFound, errorBody{Error: errorDetail{Code: "NOT_FOUND", Message: "chain not found"}}
	case errors.Is(err, ir.ErrEntryNotFound):
		return http.StatusNotFound, errorBody{Error: errorDetail{Code: "NOT_FOUND", Message: "entry not found"}}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: errorDetail{Code: "TIMEOUT", Message: "request timed out"}}
	}
	return http.StatusInternalServerError, errorBody{Error: errorDetail{Code: "INTERNAL", Message: "internal error"}}
}
