// Package tokens issues stable anonymous tokens for leads and records the
// sanitized messages filed under them.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/raaihank/lead-sentinel/internal/cache"
	"github.com/raaihank/lead-sentinel/internal/metrics"
	"github.com/raaihank/lead-sentinel/internal/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidLeadID  = errors.New("lead_id is required")
	ErrInvalidMessage = errors.New("mensaje_id and token_anonimo are required")
	ErrUnknownToken   = store.ErrUnknownToken
)

// Store is the persistence the service needs
type Store interface {
	GetOrCreateToken(ctx context.Context, leadID, candidate string) (*store.AnonymousToken, bool, error)
	SaveMessage(ctx context.Context, msg *store.SanitizedMessage) error
	GetStats(ctx context.Context) (*store.Stats, error)
	Ping(ctx context.Context) error
}

// Cache is an optional lead → token lookaside cache
type Cache interface {
	Get(ctx context.Context, leadID string) (string, bool, error)
	Set(ctx context.Context, leadID, token string) error
	GetStats(ctx context.Context) (*cache.Stats, error)
	Ping(ctx context.Context) error
}

// Health reports whether the backends answer. Cache is empty when no cache
// is configured.
type Health struct {
	Store string `json:"store"`
	Cache string `json:"cache,omitempty"`
}

// Healthy is false only when the store is down; the service runs without its cache
func (h Health) Healthy() bool {
	return h.Store == statusOK
}

// Degraded reports a healthy store with a failing cache
func (h Health) Degraded() bool {
	return h.Healthy() && h.Cache != "" && h.Cache != statusOK
}

// Stats are the row counts of the store and, when configured, cache counters
type Stats struct {
	Store *store.Stats `json:"store"`
	Cache *cache.Stats `json:"cache,omitempty"`
}

const statusOK = "ok"

// Message is a sanitized message to file under a token
type Message struct {
	MessageID string
	Token     string
	Content   string
	Metadata  map[string]any
}

// Service resolves tokens through the cache first and the store second
type Service struct {
	store   Store
	cache   Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
	newID   func() string
}

// NewService creates a token service. c and m may be nil.
func NewService(s Store, c Cache, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:   s,
		cache:   c,
		metrics: m,
		logger:  logger,
		newID:   newToken,
	}
}

// GetOrCreate returns the lead's token and whether it was just issued.
// Concurrent first requests for one lead converge on a single token.
func (s *Service) GetOrCreate(ctx context.Context, leadID string) (string, bool, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return "", false, ErrInvalidLeadID
	}

	if s.cache != nil {
		token, found, err := s.cache.Get(ctx, leadID)
		if err != nil {
			s.logger.Warn("Token cache unavailable, falling back to store", zap.Error(err))
		}
		s.observeCache(found)
		if found {
			return token, false, nil
		}
	}

	record, created, err := s.store.GetOrCreateToken(ctx, leadID, s.newID())
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve token: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, leadID, record.Token); err != nil {
			s.logger.Warn("Failed to cache token", zap.Error(err))
		}
	}

	if created {
		s.logger.Info("Anonymous token issued", zap.String("lead_id", leadID))
	}

	return record.Token, created, nil
}

// StoreMessage files a sanitized message under its token
func (s *Service) StoreMessage(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.MessageID) == "" || strings.TrimSpace(msg.Token) == "" {
		return ErrInvalidMessage
	}

	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	return s.store.SaveMessage(ctx, &store.SanitizedMessage{
		MessageID: msg.MessageID,
		Token:     msg.Token,
		Content:   msg.Content,
		Metadata:  raw,
	})
}

// Health pings the store and the cache
func (s *Service) Health(ctx context.Context) Health {
	health := Health{Store: statusOK}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Token store unreachable", zap.Error(err))
		health.Store = err.Error()
	}
	if s.cache != nil {
		health.Cache = statusOK
		if err := s.cache.Ping(ctx); err != nil {
			s.logger.Warn("Token cache unreachable", zap.Error(err))
			health.Cache = err.Error()
		}
	}
	return health
}

// Stats returns store counts and cache counters. A failing cache is logged
// and left out.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	storeStats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Store: storeStats}
	if s.cache != nil {
		cacheStats, err := s.cache.GetStats(ctx)
		if err != nil {
			s.logger.Warn("Failed to read token cache stats", zap.Error(err))
		} else {
			stats.Cache = cacheStats
		}
	}
	return stats, nil
}

func (s *Service) observeCache(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveCache(hit)
	}
}

func newToken() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
