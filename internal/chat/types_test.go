package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestManagerConfig_Backoff(t *testing.T) {
	cfg := DefaultManagerConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{64, 30 * time.Second},
		{-1, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestMessageType_Valid(t *testing.T) {
	for _, mt := range []MessageType{MessageText, MessageImage, MessageFile, MessageLink} {
		if !mt.Valid() {
			t.Errorf("%q should be valid", mt)
		}
	}
	for _, mt := range []MessageType{"", "video", "TEXT"} {
		if mt.Valid() {
			t.Errorf("%q should be invalid", mt)
		}
	}
}

func TestInboundEnvelope_Message(t *testing.T) {
	data := `{"message":{"id":12,"chat":3,"sender":{"id":7,"username":"abu_fahad","user_type":"plumber"},"content":"On my way","message_type":"text","is_read":false,"created_at":"2025-03-01T09:30:00.123456Z"}}`

	var env InboundEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	msg := env.Message
	if msg == nil {
		t.Fatal("Message is nil")
	}
	if msg.ID != 12 {
		t.Errorf("ID = %d, want 12", msg.ID)
	}
	if msg.ChatID != 3 {
		t.Errorf("ChatID = %d, want 3", msg.ChatID)
	}
	if msg.Sender == nil || msg.Sender.Username != "abu_fahad" || msg.Sender.UserType != "plumber" {
		t.Errorf("Sender = %+v, want abu_fahad/plumber", msg.Sender)
	}
	if msg.MessageType != MessageText {
		t.Errorf("MessageType = %q, want text", msg.MessageType)
	}
	if msg.CreatedAt == nil || msg.CreatedAt.Year() != 2025 {
		t.Errorf("CreatedAt = %v, want 2025-03-01", msg.CreatedAt)
	}
	if msg.UpdatedAt != nil {
		t.Errorf("UpdatedAt = %v, want nil", msg.UpdatedAt)
	}
}

func TestParticipant_UnmarshalBareID(t *testing.T) {
	var p Participant
	if err := json.Unmarshal([]byte(` 15 `), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if p.ID != 15 {
		t.Errorf("ID = %d, want 15", p.ID)
	}

	if err := json.Unmarshal([]byte(`"fifteen"`), &p); err == nil {
		t.Error("expected error for non-numeric sender")
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		channel string
		token   string
		want    string
		wantErr bool
	}{
		{
			name: "wss", base: "wss://api.example.com", channel: "42", token: "abc",
			want: "wss://api.example.com/ws/chat/42/?token=abc",
		},
		{
			name: "https maps to wss", base: "https://api.example.com/", channel: "42", token: "abc",
			want: "wss://api.example.com/ws/chat/42/?token=abc",
		},
		{
			name: "http maps to ws", base: "http://localhost:8000", channel: "7", token: "abc",
			want: "ws://localhost:8000/ws/chat/7/?token=abc",
		},
		{
			name: "keeps base path", base: "wss://example.com/backend", channel: "7", token: "abc",
			want: "wss://example.com/backend/ws/chat/7/?token=abc",
		},
		{
			name: "token is query escaped", base: "wss://api.example.com", channel: "42", token: "eyJ+/=",
			want: "wss://api.example.com/ws/chat/42/?token=eyJ%2B%2F%3D",
		},
		{
			name: "channel is path escaped", base: "wss://api.example.com", channel: "a/b", token: "t",
			want: "wss://api.example.com/ws/chat/a%2Fb/?token=t",
		},
		{name: "bad scheme", base: "ftp://example.com", channel: "1", token: "t", wantErr: true},
		{name: "no host", base: "wss://", channel: "1", token: "t", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndpointURL(tt.base, tt.channel, tt.token)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("EndpointURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("EndpointURL = %q, want %q", got, tt.want)
			}
		})
	}
}
