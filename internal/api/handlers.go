package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/auditchain/internal/export"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/verify"
)

type appendRequest struct {
	EventType      string         `json:"eventType"`
	ResourceType   string         `json:"resourceType"`
	ResourceID     string         `json:"resourceId"`
	ActorID        string         `json:"actorId"`
	Metadata       map[string]any `json:"metadata"`
	Criticality    string         `json:"criticality"`
	IdempotencyKey string         `json:"idempotencyKey"`
	OccurredAt     *time.Time     `json:"occurredAt"`
	SourceEventID  string         `json:"sourceEventId"`
	Corrects       string         `json:"corrects"`
}

type appendResponse struct {
	EntryID     string `json:"entryId,omitempty"`
	Sequence    int64  `json:"sequence"`
	EntryHash   string `json:"entryHash,omitempty"`
	Criticality string `json:"criticality"`
	Degraded    bool   `json:"degraded,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.writeError(w, r, ir.NewStorageUnavailableError("", "ping", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.deps.Store.ListChains(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.deps.Store.GetChain(r.Context(), chi.URLParam(r, "chainID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "entryHash")
	if !ir.IsHash(hash) {
		s.writeError(w, r, ir.NewValidationError("entry_hash", "must be 64 lowercase hex characters"))
		return
	}
	entry, err := s.deps.Store.GetEntryByHash(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, ir.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err)))
		return
	}

	ev := ir.DomainEvent{
		ChainID:        chi.URLParam(r, "chainID"),
		EventType:      req.EventType,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		ActorID:        req.ActorID,
		Metadata:       req.Metadata,
		Criticality:    ir.Criticality(req.Criticality),
		IdempotencyKey: req.IdempotencyKey,
		SourceEventID:  req.SourceEventID,
		Corrects:       req.Corrects,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	}

	receipt, err := s.deps.Recorder.Record(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Degraded {
		status = http.StatusAccepted
		s.requestLogger(r).Warn("append degraded", "reason", receipt.Reason)
	}
	writeJSON(w, status, appendResponse{
		EntryID:     receipt.EntryID,
		Sequence:    receipt.Sequence,
		EntryHash:   receipt.EntryHash,
		Criticality: string(receipt.Criticality),
		Degraded:    receipt.Degraded,
		Reason:      receipt.Reason,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	q := r.URL.Query()

	deep, err := parseBool(q.Get("deep"))
	if err != nil {
		s.writeError(w, r, ir.NewValidationError("deep", err.Error()))
		return
	}
	if !deep {
		rep, err := s.deps.Verifier.Shallow(r.Context(), chainID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}

	var rng verify.Range
	if rng.From, err = parseSeq(q.Get("from")); err != nil {
		s.writeError(w, r, ir.NewValidationError("from", err.Error()))
		return
	}
	if rng.To, err = parseSeq(q.Get("to")); err != nil {
		s.writeError(w, r, ir.NewValidationError("to", err.Error()))
		return
	}

	rep, err := s.deps.Verifier.Verify(r.Context(), chainID, rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := export.Request{
		ChainID:  chi.URLParam(r, "chainID"),
		Exporter: r.Header.Get("X-Exported-By"),
	}

	var err error
	if req.FromDate, err = parseDate(q.Get("from"), false); err != nil {
		s.writeError(w, r, ir.NewValidationError("from", err.Error()))
		return
	}
	if req.ToDate, err = parseDate(q.Get("to"), true); err != nil {
		s.writeError(w, r, ir.NewValidationError("to", err.Error()))
		return
	}
	if req.FromSeq, err = parseSeq(q.Get("fromSeq")); err != nil {
		s.writeError(w, r, ir.NewValidationError("fromSeq", err.Error()))
		return
	}
	if req.ToSeq, err = parseSeq(q.Get("toSeq")); err != nil {
		s.writeError(w, r, ir.NewValidationError("toSeq", err.Error()))
		return
	}

	bundle, err := s.deps.Bundler.Export(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Build the whole archive before sending a byte, so a failure never
	// leaves the client with a truncated download.
	var buf bytes.Buffer
	if err := export.WriteArchive(&buf, bundle); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("%s-%d-%d.zip", bundle.ChainID, bundle.From, bundle.To)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if bundle.Signature != nil {
		w.Header().Set("X-Bundle-Digest", bundle.Signature.Digest)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return b, nil
}

func parseSeq(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sequence %q", s)
	}
	return &n, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain date used
// as an upper bound covers the whole day.
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return &t, nil
}
