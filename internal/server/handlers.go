package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/raaihank/lead-sentinel/internal/privacy"
	"github.com/raaihank/lead-sentinel/internal/tokens"
	"github.com/raaihank/lead-sentinel/internal/upstream"
	"github.com/raaihank/lead-sentinel/internal/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20

	// bounds the backend pings of /health and the stats queries of /info
	backendTimeout = 2 * time.Second
)

// TextRequest is the body of the sanitize and restore endpoints
type TextRequest struct {
	Text     string            `json:"text"`
	Mappings []privacy.Mapping `json:"mappings"`
}

// RestoreResponse is returned by the restore endpoint
type RestoreResponse struct {
	Text string `json:"text"`
}

// handleHealth handles health check requests. With a token service the
// store and cache are pinged; a down store answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	status := http.StatusOK

	if s.tokens != nil {
		ctx, cancel := context.WithTimeout(r.Context(), backendTimeout)
		defer cancel()

		health := s.tokens.Health(ctx)
		response["token_service"] = health
		switch {
		case !health.Healthy():
			response["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		case health.Degraded():
			response["status"] = "degraded"
		}
	}

	writeJSON(w, status, response)
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":            "lead-sentinel",
		"version":         Version,
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"privacy_enabled": s.config.Privacy.Enabled,
		"detectors":       s.detector.EnabledCategories(),
		"token_service":   s.tokens != nil,
		"websocket":       s.wsHub.GetStats(),
	}

	if s.tokens != nil {
		ctx, cancel := context.WithTimeout(r.Context(), backendTimeout)
		defer cancel()

		stats, err := s.tokens.Stats(ctx)
		if err != nil {
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("Failed to read token stats", zap.Error(err))
			info["token_stats_error"] = "unavailable"
		} else {
			info["token_stats"] = stats
		}
	}

	writeJSON(w, http.StatusOK, info)
}

// handleSanitize redacts PII from the posted text
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	result := s.detector.ProcessText(req.Text, req.Mappings)

	total := lo.SumBy(result.Findings, func(f privacy.Finding) int { return f.Count })
	for _, finding := range result.Findings {
		s.metrics.ObserveRedaction(string(finding.Category), finding.Count)
	}

	if total > 0 {
		requestID := getRequestID(r.Context())
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeRedaction,
			RequestID: requestID,
			Data: websocket.RedactionEvent{
				Source:        "api",
				Findings:      result.Findings,
				TotalFindings: total,
				ProcessingMS:  float64(time.Since(start).Microseconds()) / 1000,
			},
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRestore substitutes placeholders back with their originals
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, RestoreResponse{Text: privacy.Restore(req.Text, req.Mappings)})
}

// handleAnonymousToken returns the lead's token, issuing one on first use
func (s *Server) handleAnonymousToken(w http.ResponseWriter, r *http.Request) {
	var req upstream.TokenRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, created, err := s.tokens.GetOrCreate(r.Context(), req.LeadID)
	if err != nil {
		if errors.Is(err, tokens.ErrInvalidLeadID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to resolve anonymous token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve token")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeTokenIssued,
			RequestID: getRequestID(r.Context()),
			Data:      websocket.TokenIssuedEvent{Token: token},
		})
	}

	writeJSON(w, status, upstream.TokenResponse{TokenAnonimo: token})
}

// handleSanitizedMessage files an already sanitized message under a token
func (s *Server) handleSanitizedMessage(w http.ResponseWriter, r *http.Request) {
	var req upstream.SanitizedMessage
	if !s.decode(w, r, &req) {
		return
	}

	err := s.tokens.StoreMessage(r.Context(), tokens.Message{
		MessageID: req.MessageID,
		Token:     req.TokenAnonimo,
		Content:   req.ContentSanitized,
		Metadata:  req.MetadataSanitized,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{
			"mensaje_id": req.MessageID,
			"status":     "stored",
		})
	case errors.Is(err, tokens.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tokens.ErrUnknownToken):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to store sanitized message",
			zap.String("mensaje_id", req.MessageID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to store message")
	}
}

// decode reads a JSON body, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
