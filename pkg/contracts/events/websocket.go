// Package events contains the WebSocket event contracts pushed to clients
// of the license daemon.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeLicenseStatus is pushed whenever the lease state changes
	MessageTypeLicenseStatus MessageType = "license:status"

	// Connection messages
	MessageTypeConnect MessageType = "connect"
	MessageTypeError   MessageType = "error"
)

// BaseMessage represents the base structure for all WebSocket messages
type BaseMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// WebSocketMessage represents a complete WebSocket message
type WebSocketMessage struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// LicenseStatusData is the payload of a license:status message
type LicenseStatusData struct {
	State      string     `json:"state"`
	Valid      bool       `json:"valid"`
	DaysLeft   int64      `json:"days_left"`
	Warning    bool       `json:"warning"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	EntityName string     `json:"entity_name,omitempty"`
	Degraded   bool       `json:"degraded"`
}

// ErrorData is the payload of an error message
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage builds a message of type t stamped with the current time
func NewMessage(t MessageType, data interface{}) WebSocketMessage {
	return WebSocketMessage{
		BaseMessage: BaseMessage{Type: t, Timestamp: time.Now()},
		Data:        data,
	}
}
