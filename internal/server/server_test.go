package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/logger"
	"github.com/raaihank/lead-sentinel/internal/metrics"
	"github.com/raaihank/lead-sentinel/internal/privacy"
	"github.com/raaihank/lead-sentinel/internal/store"
	"github.com/raaihank/lead-sentinel/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	issued   map[string]string
	messages []tokens.Message
	err      error
	health   tokens.Health
}

func (f *fakeTokens) GetOrCreate(_ context.Context, leadID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if leadID == "" {
		return "", false, tokens.ErrInvalidLeadID
	}
	if token, ok := f.issued[leadID]; ok {
		return token, false, nil
	}
	token := "anon_" + leadID
	f.issued[leadID] = token
	return token, true, nil
}

func (f *fakeTokens) StoreMessage(_ context.Context, msg tokens.Message) error {
	if f.err != nil {
		return f.err
	}
	if msg.MessageID == "" || msg.Token == "" {
		return tokens.ErrInvalidMessage
	}
	if _, ok := lookupToken(f.issued, msg.Token); !ok {
		return tokens.ErrUnknownToken
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTokens) Health(_ context.Context) tokens.Health {
	return f.health
}

func (f *fakeTokens) Stats(_ context.Context) (*tokens.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tokens.Stats{Store: &store.Stats{Tokens: int64(len(f.issued)), Messages: int64(len(f.messages))}}, nil
}

func lookupToken(issued map[string]string, token string) (string, bool) {
	for lead, t := range issued {
		if t == token {
			return lead, true
		}
	}
	return "", false
}

func newTestServer(t *testing.T, mutate func(*config.Config), svc TokenService) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.WebSocket.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, logger.NewNop(), metrics.New("test"), svc)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHealth_TokenService(t *testing.T) {
	svc := &fakeTokens{issued: map[string]string{}, health: tokens.Health{Store: "ok", Cache: "ok"}}
	s := newTestServer(t, nil, svc)

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"token_service":{"store":"ok","cache":"ok"}`)

	svc.health.Cache = "connection refused"
	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	svc.health.Store = "db down"
	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestInfo_TokenStats(t *testing.T) {
	svc := &fakeTokens{issued: map[string]string{"lead-1": "anon_lead-1"}, health: tokens.Health{Store: "ok"}}
	s := newTestServer(t, nil, svc)

	rec := do(t, s, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		TokenService bool           `json:"token_service"`
		TokenStats   tokens.Stats   `json:"token_stats"`
		WebSocket    map[string]any `json:"websocket"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.TokenService)
	require.NotNil(t, info.TokenStats.Store)
	assert.Equal(t, int64(1), info.TokenStats.Store.Tokens)
	assert.Contains(t, info.WebSocket, "active_connections")

	svc.err = errors.New("db down")
	rec = do(t, s, http.MethodGet, "/info", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token_stats_error":"unavailable"`)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "lead-sentinel", info["name"])
	assert.Equal(t, false, info["token_service"])
	assert.Equal(t, []any{"EMAIL", "PHONE", "NAME"}, info["detectors"])
}

func TestSanitize(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/sanitize",
		`{"text":"Contacta a Juan Pérez en juan.perez@example.com o al +34 612 345 678"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result privacy.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Contacta a Juan Pérez en [EMAIL] o al [TELÉFONO]", result.SanitizedText)
	assert.Equal(t, []privacy.Mapping{
		{Original: "juan.perez@example.com", Replacement: "[EMAIL]", Type: privacy.CategoryEmail},
		{Original: "+34 612 345 678", Replacement: "[TELÉFONO]", Type: privacy.CategoryPhone},
	}, result.Mappings)
	assert.Len(t, result.Findings, 2)

	metricsRec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Contains(t, metricsRec.Body.String(), `test_redactions_total{category="EMAIL"} 1`)
	assert.Contains(t, metricsRec.Body.String(), `route="/api/v1/sanitize"`)
}

func TestSanitize_ExtendsMappings(t *testing.T) {
	s := newTestServer(t, nil, nil)
	body := `{"text":"escribe a a@b.com","mappings":[{"original":"a@b.com","replacement":"[EMAIL]","type":"EMAIL"}]}`
	rec := do(t, s, http.MethodPost, "/api/v1/sanitize", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result privacy.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "escribe a [EMAIL]", result.SanitizedText)
	assert.Len(t, result.Mappings, 1)
}

func TestSanitize_InvalidBody(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/sanitize", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRestore(t *testing.T) {
	s := newTestServer(t, nil, nil)
	body := `{"text":"Hola [NOMBRE]","mappings":[{"original":"Ana Ruiz","replacement":"[NOMBRE]","type":"NAME"}]}`
	rec := do(t, s, http.MethodPost, "/api/v1/restore", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.JSONEq(t, `{"text":"Hola Ana Ruiz"}`, rec.Body.String())
}

func TestTokenRoutesRequireService(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/tokens/anonymous", `{"lead_id":"lead-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnonymousToken(t *testing.T) {
	svc := &fakeTokens{issued: map[string]string{}}
	s := newTestServer(t, nil, svc)

	rec := do(t, s, http.MethodPost, "/api/v1/tokens/anonymous", `{"lead_id":"lead-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"token_anonimo":"anon_lead-1"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/tokens/anonymous", `{"lead_id":"lead-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"token_anonimo":"anon_lead-1"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/tokens/anonymous", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnonymousToken_ServiceError(t *testing.T) {
	svc := &fakeTokens{issued: map[string]string{}, err: errors.New("db down")}
	s := newTestServer(t, nil, svc)

	rec := do(t, s, http.MethodPost, "/api/v1/tokens/anonymous", `{"lead_id":"lead-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestSanitizedMessage(t *testing.T) {
	svc := &fakeTokens{issued: map[string]string{"lead-1": "anon_lead-1"}}
	s := newTestServer(t, nil, svc)

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(map[string]any{
		"mensaje_id":           "msg-1",
		"token_anonimo":        "anon_lead-1",
		"contenido_sanitizado": "Hola [NOMBRE]",
		"metadata_sanitizada":  map[string]any{"canal": "web"},
	}))

	rec := do(t, s, http.MethodPost, "/api/v1/messages/sanitized", body.String())
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.messages, 1)
	assert.Equal(t, "Hola [NOMBRE]", svc.messages[0].Content)
	assert.Equal(t, "web", svc.messages[0].Metadata["canal"])

	rec = do(t, s, http.MethodPost, "/api/v1/messages/sanitized",
		`{"mensaje_id":"msg-2","token_anonimo":"nope","contenido_sanitizado":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/messages/sanitized", `{"token_anonimo":"anon_lead-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 2}
	}, nil)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/restore", `{"text":"x"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/v1/restore", `{"text":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// health is not rate limited
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
}

func TestRateLimitMiddleware_IgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	}, nil)

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/restore", strings.NewReader(`{"text":"x"}`))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}

func TestRateLimitMiddleware_TrustedProxyHeaders(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1, TrustProxyHeaders: true}
	}, nil)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/restore", strings.NewReader(`{"text":"x"}`))
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}
