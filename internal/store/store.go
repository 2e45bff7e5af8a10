package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/raaihank/lead-sentinel/internal/config"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS anonymous_tokens (
	id BIGSERIAL PRIMARY KEY,
	lead_id TEXT NOT NULL UNIQUE,
	token TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sanitized_messages (
	message_id TEXT PRIMARY KEY,
	token TEXT NOT NULL REFERENCES anonymous_tokens(token),
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sanitized_messages_token ON sanitized_messages(token);
`

// foreign_key_violation
const pqForeignKeyViolation = "23503"

// Store persists anonymous tokens and sanitized messages in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and configures the pool
func NewStore(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("Token store connected",
		zap.String("database_url", maskDatabaseURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return NewStoreFromDB(db, logger), nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	s.logger.Info("Token store schema ready")
	return nil
}

// GetOrCreateToken returns the token of a lead, inserting candidate when the
// lead has none yet. created reports whether candidate was stored.
func (s *Store) GetOrCreateToken(ctx context.Context, leadID, candidate string) (*AnonymousToken, bool, error) {
	query := `
		INSERT INTO anonymous_tokens (lead_id, token)
		VALUES ($1, $2)
		ON CONFLICT (lead_id) DO UPDATE SET last_used_at = NOW()
		RETURNING id, lead_id, token, created_at, last_used_at, (xmax = 0) AS created`

	var token AnonymousToken
	var created bool
	err := s.db.QueryRowxContext(ctx, query, leadID, candidate).Scan(
		&token.ID,
		&token.LeadID,
		&token.Token,
		&token.CreatedAt,
		&token.LastUsedAt,
		&created,
	)
	if err != nil {
		s.logger.Error("Failed to upsert anonymous token", zap.Error(err), zap.String("lead_id", leadID))
		return nil, false, fmt.Errorf("failed to upsert anonymous token: %w", err)
	}

	s.logger.Debug("Anonymous token resolved",
		zap.Int64("id", token.ID),
		zap.Bool("created", created))

	return &token, created, nil
}

// SaveMessage inserts or replaces a sanitized message
func (s *Store) SaveMessage(ctx context.Context, msg *SanitizedMessage) error {
	if len(msg.Metadata) == 0 {
		msg.Metadata = []byte("{}")
	}

	query := `
		INSERT INTO sanitized_messages (message_id, token, content, metadata)
		VALUES (:message_id, :token, :content, :metadata)
		ON CONFLICT (message_id) DO UPDATE SET
			token = EXCLUDED.token,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`

	_, err := s.db.NamedExecContext(ctx, query, msg)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation {
			return ErrUnknownToken
		}
		s.logger.Error("Failed to save sanitized message", zap.Error(err), zap.String("message_id", msg.MessageID))
		return fmt.Errorf("failed to save sanitized message: %w", err)
	}

	s.logger.Debug("Sanitized message saved", zap.String("message_id", msg.MessageID))
	return nil
}

// GetStats returns row counts
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM anonymous_tokens) AS tokens,
			(SELECT COUNT(*) FROM sanitized_messages) AS messages`)
	if err != nil {
		return nil, fmt.Errorf("failed to get store stats: %w", err)
	}
	return &stats, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || strings.HasPrefix(userPart[colon:], "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
