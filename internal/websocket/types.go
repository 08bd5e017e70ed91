package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeMasking is sent after a sanitize call masked at least one value
	EventTypeMasking EventType = "masking"
	// EventTypeRestoration is sent after every restore call
	EventTypeRestoration EventType = "restoration"
	// EventTypeSessionCleared is sent when a session or the whole store is cleared
	EventTypeSessionCleared EventType = "session_cleared"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data"`
}

// MaskingEvent lists what a sanitize call replaced. Original values are never
// part of an event.
type MaskingEvent struct {
	Findings    []privacy.Finding `json:"findings"`
	TotalMasked int               `json:"total_masked"`
}

// RestorationEvent reports the outcome of a restore call
type RestorationEvent struct {
	Restored   int `json:"restored"`
	Unresolved int `json:"unresolved"`
}

// SessionClearedEvent reports a clear; All is set for a full purge
type SessionClearedEvent struct {
	All bool `json:"all"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type         string               `json:"type"`
	Subscription *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest narrows the events a client receives. Empty lists mean
// no restriction.
type SubscriptionRequest struct {
	Events   []EventType `json:"events"`
	Sessions []string    `json:"sessions,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	subscription *SubscriptionRequest
}
