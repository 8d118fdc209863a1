package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrMissingEndpoint    = errors.New("channel and token are required")
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no pong)")
	ErrInvalidMessageType = errors.New("invalid message type")
)

// Close codes consumed by the manager.
const (
	CloseNormal   = 1000 // Suppresses reconnect
	CloseAbnormal = 1006 // Reported when the transport drops without a close frame
)

// State is the connection state exposed to consumers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MessageType is the kind of content carried by a chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageLink  MessageType = "link"
)

// Valid reports whether t is one of the types the backend accepts.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageLink:
		return true
	}
	return false
}

// Participant is the sender of a message.
type Participant struct {
	ID             int64  `json:"id"`
	Username       string `json:"username,omitempty"`
	FullName       string `json:"full_name,omitempty"`
	UserType       string `json:"user_type,omitempty"` // "customer", "plumber", "admin"
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// UnmarshalJSON accepts either a participant object or a bare user id.
func (p *Participant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("participant id: %w", err)
		}
		*p = Participant{ID: id}
		return nil
	}

	type plain Participant
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Participant(v)
	return nil
}

// Message is a chat message as delivered by the backend.
type Message struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chat,omitempty"`
	Sender      *Participant `json:"sender,omitempty"`
	Content     string       `json:"content"`
	MessageType MessageType  `json:"message_type,omitempty"`
	IsRead      bool         `json:"is_read,omitempty"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
}

// InboundEnvelope is the frame received from the chat socket.
// Envelopes without a message are ignored.
type InboundEnvelope struct {
	Message *Message `json:"message"`
}

// OutboundFrame is the frame written to the chat socket.
type OutboundFrame struct {
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	BaseURL              string        // e.g. wss://api.plumbline.com.kw
	MaxReconnectAttempts int           // Attempts before giving up until the next Connect
	ReconnectBaseDelay   time.Duration // Delay for attempt 0
	ReconnectMaxDelay    time.Duration // Upper bound on any delay
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
	}
}

// Backoff returns min(base * 2^attempt, max).
func (c ManagerConfig) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := c.ReconnectBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.ReconnectMaxDelay {
			return c.ReconnectMaxDelay
		}
	}
	if d > c.ReconnectMaxDelay {
		return c.ReconnectMaxDelay
	}
	return d
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	PingInterval     time.Duration // Client keepalive ping period
	PongTimeout      time.Duration // Max time without pong/ping before the socket is considered stale
	WriteTimeout     time.Duration // Write deadline for sends
	UserAgent        string        // Sent on the handshake request
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}
