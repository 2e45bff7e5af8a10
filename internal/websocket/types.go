package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/lead-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction is sent whenever a text was sanitized
	EventTypeRedaction EventType = "redaction"
	// EventTypeTokenIssued is sent when a lead receives a new anonymous token
	EventTypeTokenIssued EventType = "token_issued"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// RedactionEvent describes one sanitize call. It carries categories and
// counts, never the original values.
type RedactionEvent struct {
	Source        string            `json:"source"`
	Findings      []privacy.Finding `json:"findings"`
	TotalFindings int               `json:"total_findings"`
	ProcessingMS  float64           `json:"processing_ms"`
}

// TokenIssuedEvent announces a new anonymous token
type TokenIssuedEvent struct {
	Token string `json:"token_anonimo"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"` // subscribe, ping
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	conn        *websocket.Conn
	send        chan Event
	events      map[EventType]bool // nil means every event
	ConnectedAt time.Time
	IP          string
	UserAgent   string
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}
