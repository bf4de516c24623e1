package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/protocol"
	"github.com/mattjoyce/warmbridge/internal/supervisor"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Supervisor:    s.invoker.Status(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleInvoke handles POST /invoke. Requests wait for the single invocation
// slot until their own context ends.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	inv, err := s.decodeInvocation(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case s.slot <- struct{}{}:
	case <-r.Context().Done():
		s.writeError(w, http.StatusServiceUnavailable, "gave up waiting for the worker")
		return
	}
	defer func() { <-s.slot }()

	out := s.invoker.Invoke(r.Context(), inv)
	w.Header().Set(InvocationIDHeader, out.InvocationID)

	if out.OK() {
		respondJSON(w, http.StatusOK, out.Result)
		return
	}

	status := http.StatusBadGateway
	if out.Kind == supervisor.KindSpawnFailure || out.Kind == supervisor.KindHandoffFailure {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, InvokeError{
		Error:        "invocation " + string(out.Kind),
		Kind:         out.Kind,
		Diagnostic:   out.Diagnostic,
		InvocationID: out.InvocationID,
	})
}

func (s *Server) decodeInvocation(w http.ResponseWriter, r *http.Request) (supervisor.Invocation, error) {
	var req InvokeRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		return supervisor.Invocation{}, errors.New("request body too large or unreadable")
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return supervisor.Invocation{}, errors.New("invalid JSON body")
		}
	}

	var cc protocol.CallerContext
	if req.Context != nil {
		cc = *req.Context
	}
	if cc.FunctionName == "" {
		cc.FunctionName = s.config.FunctionName
	}
	if cc.RequestID == "" {
		cc.RequestID = uuid.NewString()
	}

	switch {
	case req.RemainingTimeMillis != nil:
		if *req.RemainingTimeMillis < 0 {
			return supervisor.Invocation{}, errors.New("remaining_time_ms must be a non-negative integer")
		}
		cc.RemainingTimeMillis = *req.RemainingTimeMillis
	case r.Header.Get(RemainingTimeHeader) != "":
		ms, err := strconv.ParseInt(r.Header.Get(RemainingTimeHeader), 10, 64)
		if err != nil || ms < 0 {
			return supervisor.Invocation{}, errors.New(RemainingTimeHeader + " must be a non-negative integer")
		}
		cc.RemainingTimeMillis = ms
	case cc.RemainingTimeMillis < 0:
		return supervisor.Invocation{}, errors.New("context.remaining_time_ms must be a non-negative integer")
	case cc.RemainingTimeMillis == 0:
		cc.RemainingTimeMillis = s.config.DefaultRemaining.Milliseconds()
	}

	return supervisor.Invocation{
		ID:      uuid.NewString(),
		Event:   req.Event,
		Context: cc,
	}, nil
}

// handleListInvocations handles GET /invocations?outcome=&limit=.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	f := journal.Filter{
		Outcome: r.URL.Query().Get("outcome"),
		Limit:   defaultListLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	entries, err := s.journal.Recent(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, InvocationListResponse{Invocations: entries})
}

// handleGetInvocation handles GET /invocations/{id}.
func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	id := chi.URLParam(r, "id")

	entry, err := s.journal.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get invocation", "invocation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	notes, err := s.journal.Notifications(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get notifications", "invocation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}
	if notes == nil {
		notes = []journal.NotificationRecord{}
	}
	respondJSON(w, http.StatusOK, InvocationDetailResponse{Entry: *entry, Notifications: notes})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
