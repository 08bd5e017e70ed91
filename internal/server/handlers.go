package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/session"
	"github.com/raaihank/pii-sentinel/internal/store"
)

type textRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type textResponse struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type mappingsResponse struct {
	SessionID string          `json:"session_id"`
	Mappings  []store.Mapping `json:"mappings"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	masked, err := s.sessions.Sanitize(r.Context(), req.Text, req.SessionID)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, textResponse{Text: masked, SessionID: req.SessionID})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	restored, err := s.sessions.Restore(r.Context(), req.Text, req.SessionID)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, textResponse{Text: restored, SessionID: req.SessionID})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	result, err := s.sessions.Process(r.Context(), req.Text, req.SessionID)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	mappings, err := s.sessions.Mappings(r.Context(), id)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	if mappings == nil {
		mappings = []store.Mapping{}
	}
	s.writeJSON(w, http.StatusOK, mappingsResponse{SessionID: id, Mappings: mappings})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Clear(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Purge(r.Context()); err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports healthy only while the mapping store answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.sessions.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"name":            "pii-sentinel",
		"version":         Version,
		"uptime":          time.Since(s.startedAt).Round(time.Second).String(),
		"privacy_enabled": s.config.Privacy.Enabled,
		"detectors":       s.config.Privacy.Detectors,
		"categories":      privacy.Categories(),
		"store_backend":   s.config.Store.Backend,
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	s.writeJSON(w, http.StatusOK, info)
}

// decodeTextRequest reads a JSON text request, answering 400 on malformed
// input.
func (s *Server) decodeTextRequest(w http.ResponseWriter, r *http.Request) (*textRequest, bool) {
	var req textRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return nil, false
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return nil, false
	}
	return &req, true
}

// writeOperationError maps session errors to status codes
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrStorage):
		s.writeError(w, r, http.StatusServiceUnavailable, "storage failure", err)
	case errors.Is(err, session.ErrProcessor):
		s.writeError(w, r, http.StatusBadGateway, "processor failure", err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, msg string, err error) {
	requestID := getRequestID(r.Context())
	resp := errorResponse{Error: msg, RequestID: requestID}
	if err != nil {
		resp.Message = err.Error()
		log := s.logger.WithRequestID(requestID)
		if code >= http.StatusInternalServerError {
			log.Error("Request failed", zap.Int("status_code", code), zap.Error(err))
		} else {
			log.Debug("Request rejected", zap.Int("status_code", code), zap.Error(err))
		}
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}
