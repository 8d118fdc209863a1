package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens chat sockets over gorilla/websocket.
type WSDialer struct {
	cfg    WSConfig
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewWSDialer creates a WebSocket dialer.
func NewWSDialer(cfg WSConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}

	return &WSDialer{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Open starts dialing url in the background and returns immediately.
func (d *WSDialer) Open(url string, h SocketHandler) Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		cfg:    d.cfg,
		logger: d.logger,
		dialer: d.dialer,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(url)
	return s
}

// wsSocket is a single WebSocket connection.
type wsSocket struct {
	cfg    WSConfig
	logger *slog.Logger
	dialer *websocket.Dialer
	h      SocketHandler

	ctx    context.Context // Cancels an in-flight dial
	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.RWMutex
	conn        *websocket.Conn
	open        bool
	closed      bool
	closeCode   int
	closeReason string
	lastPongAt  time.Time

	closeOnce sync.Once
}

// run dials, reports the open, then reads until the connection ends.
func (s *wsSocket) run(url string) {
	header := http.Header{}
	if s.cfg.UserAgent != "" {
		header.Set("User-Agent", s.cfg.UserAgent)
	}

	conn, resp, err := s.dialer.DialContext(s.ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if code, reason, ok := s.localClose(); ok {
			s.emitClose(code, reason)
			return
		}
		if resp != nil {
			err = fmt.Errorf("handshake rejected (%s): %w", resp.Status, err)
		}
		s.h.OnError(fmt.Errorf("dial: %w", err))
		s.emitClose(CloseAbnormal, err.Error())
		return
	}

	s.mu.Lock()
	if s.closed {
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		writeClose(conn, code, reason)
		conn.Close()
		s.emitClose(code, reason)
		return
	}
	s.conn = conn
	s.open = true
	s.lastPongAt = time.Now()
	s.mu.Unlock()

	// Server pings count as liveness too.
	conn.SetPingHandler(func(data string) error {
		s.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	s.h.OnOpen()

	if s.cfg.PingInterval > 0 {
		go s.heartbeatLoop(conn)
	}
	s.readLoop(conn)
}

// readLoop forwards frames in arrival order until the connection ends.
func (s *wsSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.open = false
			s.mu.Unlock()

			if code, reason, ok := s.localClose(); ok {
				s.emitClose(code, reason)
				return
			}

			// gorilla reports a dropped connection as a 1006 CloseError;
			// only a real close frame ends the socket without an error.
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				s.emitClose(ce.Code, ce.Text)
				return
			}

			s.h.OnError(err)
			s.emitClose(CloseAbnormal, err.Error())
			return
		}

		s.h.OnMessage(data)
	}
}

// heartbeatLoop pings the server and drops the connection when pongs stop.
func (s *wsSocket) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.RLock()
			lastPong := s.lastPongAt
			s.mu.RUnlock()

			if s.cfg.PongTimeout > 0 && time.Since(lastPong) > s.cfg.PongTimeout {
				s.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", s.cfg.PongTimeout,
				)
				s.h.OnError(ErrStaleConnection)
				// Unblocks readLoop, which reports the abnormal close.
				conn.Close()
				return
			}
		}
	}
}

// Send writes one text frame.
func (s *wsSocket) Send(data []byte) error {
	s.mu.RLock()
	if !s.open {
		s.mu.RUnlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and tears the connection down.
func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.open = false
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	s.mu.Unlock()

	// Abort a dial that has not finished yet.
	s.cancel()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	writeClose(conn, code, reason)
	s.writeMu.Unlock()
	return conn.Close()
}

// IsOpen reports whether the socket can send.
func (s *wsSocket) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

func (s *wsSocket) touch() {
	s.mu.Lock()
	s.lastPongAt = time.Now()
	s.mu.Unlock()
}

// localClose reports the code passed to Close, if Close has been called.
func (s *wsSocket) localClose() (int, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeCode, s.closeReason, s.closed
}

// emitClose delivers OnClose exactly once and stops the heartbeat.
func (s *wsSocket) emitClose(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.h.OnClose(code, reason)
	})
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
}
