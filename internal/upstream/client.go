package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/logger"
	"github.com/raaihank/lead-sentinel/internal/metrics"
	"go.uber.org/zap"
)

// Client talks to the token service. Each call is a single round trip with
// no retry and no request coalescing.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a token service client. m may be nil.
func NewClient(cfg config.UpstreamConfig, log *logger.Logger, m *metrics.Metrics) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultUpstreamBaseURL
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.WithComponent("upstream"),
		metrics:    m,
	}
}

// GetOrCreateAnonymousToken returns the anonymous token of a lead.
// ok is false on any network error, non-2xx status or malformed body.
func (c *Client) GetOrCreateAnonymousToken(ctx context.Context, leadID string) (token string, ok bool) {
	token, err := c.requestToken(ctx, leadID)
	c.observe("token", err == nil)
	if err != nil {
		c.logger.Error("Failed to get anonymous token",
			zap.String("lead_id", leadID),
			zap.Error(err),
		)
		return "", false
	}
	return token, true
}

// StoreSanitizedMessage persists a sanitized message. It reports false on
// any failure.
func (c *Client) StoreSanitizedMessage(ctx context.Context, msg SanitizedMessage) bool {
	if msg.MetadataSanitized == nil {
		msg.MetadataSanitized = map[string]any{}
	}

	err := c.post(ctx, MessagePath, msg, nil)
	c.observe("store_message", err == nil)
	if err != nil {
		c.logger.Error("Failed to store sanitized message",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (c *Client) requestToken(ctx context.Context, leadID string) (string, error) {
	var resp TokenResponse
	if err := c.post(ctx, TokenPath, TokenRequest{LeadID: leadID}, &resp); err != nil {
		return "", err
	}
	if resp.TokenAnonimo == "" {
		return "", fmt.Errorf("response has no token_anonimo")
	}
	return resp.TokenAnonimo, nil
}

// post sends body as JSON and decodes a 2xx response into out when out is non-nil
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) observe(operation string, ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveUpstream(operation, ok)
	}
}
