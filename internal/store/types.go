package store

import (
	"errors"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ErrUnknownToken is returned when a message references a token that was never issued
var ErrUnknownToken = errors.New("unknown anonymous token")

// AnonymousToken links a lead to its opaque token
type AnonymousToken struct {
	ID         int64     `db:"id" json:"id"`
	LeadID     string    `db:"lead_id" json:"lead_id"`
	Token      string    `db:"token" json:"token"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	LastUsedAt time.Time `db:"last_used_at" json:"last_used_at"`
}

// SanitizedMessage is a stored message whose content has been redacted
type SanitizedMessage struct {
	MessageID string         `db:"message_id" json:"message_id"`
	Token     string         `db:"token" json:"token"`
	Content   string         `db:"content" json:"content"`
	Metadata  types.JSONText `db:"metadata" json:"metadata"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// Stats represents database statistics
type Stats struct {
	Tokens   int64 `db:"tokens" json:"tokens"`
	Messages int64 `db:"messages" json:"messages"`
}
