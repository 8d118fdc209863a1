package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// recordingHandler collects socket events on channels.
type recordingHandler struct {
	opened   chan struct{}
	messages chan []byte
	errors   chan error
	closed   chan int

	mu         sync.Mutex
	closeCount int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 100),
		errors:   make(chan error, 10),
		closed:   make(chan int, 10),
	}
}

func (h *recordingHandler) OnOpen()               { h.opened <- struct{}{} }
func (h *recordingHandler) OnMessage(data []byte) { h.messages <- data }
func (h *recordingHandler) OnError(err error)     { h.errors <- err }

func (h *recordingHandler) OnClose(code int, reason string) {
	h.mu.Lock()
	h.closeCount++
	h.mu.Unlock()
	h.closed <- code
}

func waitOpen(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}
}

func waitClose(t *testing.T, h *recordingHandler) int {
	t.Helper()
	select {
	case code := <-h.closed:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
		return 0
	}
}

func testWSConfig() WSConfig {
	cfg := DefaultWSConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestWSDialer_OpenAndClose(t *testing.T) {
	requests := make(chan *http.Request, 1)
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		requests <- r
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	url, err := EndpointURL(wsURL(server), "42", "s3cret token")
	if err != nil {
		t.Fatalf("EndpointURL failed: %v", err)
	}

	cfg := testWSConfig()
	cfg.UserAgent = "plumbline-test/1.0"
	h := newRecordingHandler()
	sock := NewWSDialer(cfg, nil).Open(url, h)

	waitOpen(t, h)

	if !sock.IsOpen() {
		t.Error("expected IsOpen to return true")
	}

	var r *http.Request
	select {
	case r = <-requests:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handshake request")
	}
	gotPath := r.URL.Path
	gotToken := r.URL.Query().Get("token")
	gotUA := r.Header.Get("User-Agent")

	if gotPath != "/ws/chat/42/" {
		t.Errorf("path = %q, want /ws/chat/42/", gotPath)
	}
	if gotToken != "s3cret token" {
		t.Errorf("token = %q, want %q", gotToken, "s3cret token")
	}
	if gotUA != "plumbline-test/1.0" {
		t.Errorf("User-Agent = %q, want plumbline-test/1.0", gotUA)
	}

	if err := sock.Close(CloseNormal, ""); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if code := waitClose(t, h); code != CloseNormal {
		t.Errorf("close code = %d, want %d", code, CloseNormal)
	}
	if sock.IsOpen() {
		t.Error("expected IsOpen to return false after Close")
	}

	// Second close is a no-op and reports nothing new.
	if err := sock.Close(CloseNormal, ""); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closeCount != 1 {
		t.Errorf("OnClose called %d times, want 1", h.closeCount)
	}
}

func TestWSDialer_Send(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	h := newRecordingHandler()
	sock := NewWSDialer(testWSConfig(), nil).Open(wsURL(server), h)
	defer sock.Close(CloseNormal, "")

	waitOpen(t, h)

	testMsg := []byte(`{"content":"leak under the sink","message_type":"text"}`)
	if err := sock.Send(testMsg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(testMsg) {
			t.Errorf("received %q, want %q", got, testMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to receive")
	}
}

func TestWSDialer_MessagesInOrder(t *testing.T) {
	testMessages := []string{
		`{"message":{"id":1}}`,
		`{"message":{"id":2}}`,
		`{"message":{"id":3}}`,
	}

	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	h := newRecordingHandler()
	sock := NewWSDialer(testWSConfig(), nil).Open(wsURL(server), h)
	defer sock.Close(CloseNormal, "")

	timeout := time.After(time.Second)
	for i, want := range testMessages {
		select {
		case got := <-h.messages:
			if string(got) != want {
				t.Errorf("message %d: got %q, want %q", i, got, want)
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", i, len(testMessages))
		}
	}
}

func TestWSDialer_SendBeforeOpen(t *testing.T) {
	h := newRecordingHandler()
	// Nothing listens on port 1.
	sock := NewWSDialer(testWSConfig(), nil).Open("ws://127.0.0.1:1/ws/chat/1/", h)

	if err := sock.Send([]byte("test")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	waitClose(t, h)
}

func TestWSDialer_DialFailure(t *testing.T) {
	h := newRecordingHandler()
	NewWSDialer(testWSConfig(), nil).Open("ws://127.0.0.1:1/ws/chat/1/", h)

	select {
	case err := <-h.errors:
		if !strings.Contains(err.Error(), "dial") {
			t.Errorf("error = %v, want dial error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}

	if code := waitClose(t, h); code != CloseAbnormal {
		t.Errorf("close code = %d, want %d", code, CloseAbnormal)
	}

	select {
	case <-h.opened:
		t.Error("OnOpen should not be called for a failed dial")
	default:
	}
}

func TestWSDialer_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusForbidden)
	}))
	defer server.Close()

	h := newRecordingHandler()
	NewWSDialer(testWSConfig(), nil).Open(wsURL(server), h)

	select {
	case err := <-h.errors:
		if !strings.Contains(err.Error(), "403") {
			t.Errorf("error = %v, want mention of 403", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}
	if code := waitClose(t, h); code != CloseAbnormal {
		t.Errorf("close code = %d, want %d", code, CloseAbnormal)
	}
}

func TestWSDialer_ServerCloseCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"normal", websocket.CloseNormalClosure},
		{"going away", websocket.CloseGoingAway},
		{"policy violation", websocket.ClosePolicyViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(tt.code, "bye"),
					time.Now().Add(time.Second),
				)
				// Wait for the client's echo before tearing down.
				conn.SetReadDeadline(time.Now().Add(time.Second))
				conn.ReadMessage()
			})
			defer server.Close()

			h := newRecordingHandler()
			NewWSDialer(testWSConfig(), nil).Open(wsURL(server), h)
			waitOpen(t, h)

			if code := waitClose(t, h); code != tt.code {
				t.Errorf("close code = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestWSDialer_DroppedConnection(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		// Drop the TCP connection without a close frame.
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	h := newRecordingHandler()
	NewWSDialer(testWSConfig(), nil).Open(wsURL(server), h)
	waitOpen(t, h)

	if code := waitClose(t, h); code != CloseAbnormal {
		t.Errorf("close code = %d, want %d", code, CloseAbnormal)
	}
	select {
	case <-h.errors:
	default:
		t.Error("expected an error before the abnormal close")
	}
}

func TestWSDialer_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		// Pongs are written by the client's ping handler while it reads.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	h := newRecordingHandler()
	sock := NewWSDialer(testWSConfig(), nil).Open(wsURL(server), h)
	defer sock.Close(CloseNormal, "")

	waitOpen(t, h)
	time.Sleep(200 * time.Millisecond)

	if !sock.IsOpen() {
		t.Error("expected socket to be open after ping")
	}
}

func TestWSDialer_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		// Never read, so client pings are never answered.
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	cfg := testWSConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond

	h := newRecordingHandler()
	NewWSDialer(cfg, nil).Open(wsURL(server), h)
	waitOpen(t, h)

	select {
	case err := <-h.errors:
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stale error")
	}
	if code := waitClose(t, h); code != CloseAbnormal {
		t.Errorf("close code = %d, want %d", code, CloseAbnormal)
	}
}

func TestManager_WithWSDialer(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Echo the frame back as a stored message.
			reply := `{"message":{"id":100,"content":` + jsonField(data, "content") + `}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	})
	defer server.Close()

	messages := make(chan Message, 1)
	states := make(chan State, 16)

	cfg := DefaultManagerConfig()
	cfg.BaseURL = server.URL
	m := NewManager(cfg, NewWSDialer(testWSConfig(), discardLogger()),
		WithLogger(discardLogger()),
		WithMessageHandler(func(msg Message) { messages <- msg }),
		WithStateHandler(func(s State) { states <- s }),
	)

	if err := m.Connect("42", "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for m.State() != StateConnected {
		select {
		case <-states:
		case <-deadline:
			t.Fatalf("timeout waiting for connected, state %v", m.State())
		}
	}

	if !m.SendText("hello") {
		t.Fatal("SendText failed while connected")
	}

	select {
	case msg := <-messages:
		if msg.ID != 100 || msg.Content != "hello" {
			t.Errorf("message = %+v, want id 100 content hello", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echoed message")
	}

	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if m.SendText("gone") {
		t.Error("SendText should fail after Disconnect")
	}
}

// jsonField extracts a top-level string field as raw JSON.
func jsonField(data []byte, key string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return `""`
	}
	if v, ok := m[key]; ok {
		return string(v)
	}
	return `""`
}
