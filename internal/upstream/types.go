package upstream

import "context"

const (
	TokenPath   = "/api/v1/tokens/anonymous"
	MessagePath = "/api/v1/messages/sanitized"
)

// TokenRequest is the body of a token request
type TokenRequest struct {
	LeadID string `json:"lead_id"`
}

// TokenResponse is the body returned by the token endpoint.
// Extra fields are ignored.
type TokenResponse struct {
	TokenAnonimo string `json:"token_anonimo"`
}

// SanitizedMessage is the body of a sanitized message store request
type SanitizedMessage struct {
	MessageID         string         `json:"mensaje_id"`
	TokenAnonimo      string         `json:"token_anonimo"`
	ContentSanitized  string         `json:"contenido_sanitizado"`
	MetadataSanitized map[string]any `json:"metadata_sanitizada"`
}

// Accessor is what callers of the token service depend on. Failures are
// logged by the implementation and reported only through the return values.
type Accessor interface {
	GetOrCreateAnonymousToken(ctx context.Context, leadID string) (string, bool)
	StoreSanitizedMessage(ctx context.Context, msg SanitizedMessage) bool
}
