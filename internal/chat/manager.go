package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder observes manager activity. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	StateChanged(s State)
	ReconnectScheduled(attempt int, delay time.Duration)
	ReconnectsExhausted()
	MessageReceived()
	FrameDropped(reason string)
	SendResult(ok bool)
	ConnectionError()
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(State)                    {}
func (nopRecorder) ReconnectScheduled(int, time.Duration) {}
func (nopRecorder) ReconnectsExhausted()                  {}
func (nopRecorder) MessageReceived()                      {}
func (nopRecorder) FrameDropped(string)                   {}
func (nopRecorder) SendResult(bool)                       {}
func (nopRecorder) ConnectionError()                      {}

// Frame drop reasons reported to the Recorder.
const (
	DropMalformed = "malformed"
	DropNoMessage = "no_message"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used to schedule reconnects.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithMessageHandler registers the callback for inbound messages.
func WithMessageHandler(fn func(Message)) ManagerOption {
	return func(m *Manager) { m.onMessage = fn }
}

// WithStateHandler registers the callback for state transitions.
func WithStateHandler(fn func(State)) ManagerOption {
	return func(m *Manager) { m.onState = fn }
}

// WithErrorHandler registers the callback for display-only connection errors.
func WithErrorHandler(fn func(string)) ManagerOption {
	return func(m *Manager) { m.onError = fn }
}

// Manager maintains one chat socket and recovers it after abnormal closures.
type Manager struct {
	cfg      ManagerConfig
	dialer   Dialer
	clock    Clock
	logger   *slog.Logger
	recorder Recorder

	onMessage func(Message)
	onState   func(State)
	onError   func(string)

	mu       sync.Mutex
	state    State
	channel  string
	token    string
	sock     Socket
	gen      uint64 // Generation of sock; events from older sockets are ignored
	attempts int
	timer    Timer
	timerID  uint64 // Token of the pending timer; 0 when none
	lastErr  string
	stateSeq uint64 // Incremented on every transition

	// State notifications are delivered in stateSeq order, one at a time.
	notifyMu   sync.Mutex
	queuedSeq  uint64
	pending    []State
	delivering bool
}

// NewManager creates a connection manager in the Disconnected state.
func NewManager(cfg ManagerConfig, dialer Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		clock:    realClock{},
		logger:   slog.Default(),
		recorder: nopRecorder{},
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a socket for the channel, replacing any existing one.
// It is a no-op returning ErrMissingEndpoint if channel or token is empty.
func (m *Manager) Connect(channel, token string) error {
	if channel == "" || token == "" {
		m.logger.Debug("connect skipped, endpoint incomplete",
			"has_channel", channel != "",
			"has_token", token != "",
		)
		return ErrMissingEndpoint
	}

	url, err := EndpointURL(m.cfg.BaseURL, channel, token)
	if err != nil {
		return fmt.Errorf("build endpoint: %w", err)
	}

	m.mu.Lock()
	old := m.teardownLocked()
	m.channel = channel
	m.token = token
	m.attempts = 0
	m.lastErr = ""
	seq := m.openLocked(url)
	m.mu.Unlock()

	closeQuietly(old, m.logger)
	m.notifyState(StateConnecting, seq)
	return nil
}

// Update applies a new endpoint identity. An empty channel or token
// disconnects; a changed pair (or an idle manager) reconnects.
func (m *Manager) Update(channel, token string) error {
	if channel == "" || token == "" {
		m.Disconnect()
		return nil
	}

	m.mu.Lock()
	same := channel == m.channel && token == m.token && m.state != StateDisconnected
	m.mu.Unlock()
	if same {
		return nil
	}
	return m.Connect(channel, token)
}

// Disconnect cancels any pending reconnect and closes the socket with the
// normal closure code. It is safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	old := m.teardownLocked()
	m.attempts = 0
	var seq uint64
	if prev != StateDisconnected {
		seq = m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	closeQuietly(old, m.logger)
	if prev != StateDisconnected {
		m.logger.Info("chat disconnected")
		m.notifyState(StateDisconnected, seq)
	}
}

// Send transmits one {content, message_type} frame. It reports false if the
// manager is not connected, the type is unknown or the write fails; nothing
// is queued for later.
func (m *Manager) Send(content string, messageType MessageType) bool {
	if !messageType.Valid() {
		m.logger.Warn("send rejected", "error", ErrInvalidMessageType, "message_type", messageType)
		m.recorder.SendResult(false)
		return false
	}

	m.mu.Lock()
	sock := m.sock
	connected := m.state == StateConnected && sock != nil
	m.mu.Unlock()

	if !connected || !sock.IsOpen() {
		m.recorder.SendResult(false)
		return false
	}

	data, err := json.Marshal(OutboundFrame{Content: content, MessageType: messageType})
	if err != nil {
		m.recorder.SendResult(false)
		return false
	}

	if err := sock.Send(data); err != nil {
		m.logger.Warn("send failed", "error", err)
		m.recorder.SendResult(false)
		return false
	}

	m.recorder.SendResult(true)
	return true
}

// SendText sends a text message.
func (m *Manager) SendText(content string) bool {
	return m.Send(content, MessageText)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connection error, or "" after a
// successful open.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Attempts returns the number of reconnects scheduled since the last open
// or explicit Connect.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Endpoint returns the current channel and token.
func (m *Manager) Endpoint() (channel, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel, m.token
}

// openLocked dials a new socket and makes it current. It returns the
// sequence number of the Connecting transition. m.mu must be held.
func (m *Manager) openLocked(url string) uint64 {
	m.gen++
	seq := m.setStateLocked(StateConnecting)

	connID := uuid.NewString()
	ev := &socketEvents{
		m:      m,
		gen:    m.gen,
		logger: m.logger.With("channel", m.channel, "conn_id", connID),
	}
	ev.logger.Debug("opening chat socket", "attempt", m.attempts)
	m.sock = m.dialer.Open(url, ev)
	return seq
}

// setStateLocked records a transition and returns its sequence number.
// m.mu must be held.
func (m *Manager) setStateLocked(s State) uint64 {
	m.state = s
	m.stateSeq++
	m.recorder.StateChanged(s)
	return m.stateSeq
}

// teardownLocked cancels the pending timer and detaches the current socket,
// returning it so the caller can close it without holding m.mu.
func (m *Manager) teardownLocked() Socket {
	m.cancelTimerLocked()
	m.gen++
	old := m.sock
	m.sock = nil
	return old
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerID = 0
}

func (m *Manager) handleOpen(ev *socketEvents) {
	m.mu.Lock()
	if ev.gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.lastErr = ""
	seq := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	ev.logger.Info("chat connected")
	m.notifyState(StateConnected, seq)
}

func (m *Manager) handleMessage(ev *socketEvents, data []byte) {
	m.mu.Lock()
	current := ev.gen == m.gen
	m.mu.Unlock()
	if !current {
		return
	}

	var env InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		ev.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		m.recorder.FrameDropped(DropMalformed)
		return
	}
	if env.Message == nil {
		ev.logger.Debug("ignoring frame without message")
		m.recorder.FrameDropped(DropNoMessage)
		return
	}

	m.recorder.MessageReceived()
	if m.onMessage != nil {
		m.onMessage(*env.Message)
	}
}

func (m *Manager) handleClose(ev *socketEvents, code int, reason string) {
	m.mu.Lock()
	if ev.gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.sock = nil
	closedSeq := m.setStateLocked(StateDisconnected)

	if code == CloseNormal {
		m.mu.Unlock()
		ev.logger.Info("chat socket closed", "code", code, "reason", reason)
		m.notifyState(StateDisconnected, closedSeq)
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		ev.logger.Warn("reconnect attempts exhausted",
			"code", code,
			"reason", reason,
			"max_attempts", m.cfg.MaxReconnectAttempts,
		)
		m.recorder.ReconnectsExhausted()
		m.notifyState(StateDisconnected, closedSeq)
		return
	}

	attempt := m.attempts
	delay := m.cfg.Backoff(attempt)
	m.attempts++
	m.scheduleLocked(delay)
	reconnectSeq := m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	ev.logger.Info("chat socket closed abnormally, reconnecting",
		"code", code,
		"reason", reason,
		"attempt", attempt+1,
		"delay", delay,
	)
	m.recorder.ReconnectScheduled(attempt, delay)
	m.notifyState(StateDisconnected, closedSeq)
	m.notifyState(StateReconnecting, reconnectSeq)
}

func (m *Manager) handleError(ev *socketEvents, err error) {
	m.mu.Lock()
	if ev.gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err.Error()
	m.mu.Unlock()

	ev.logger.Warn("chat connection error", "error", err)
	m.recorder.ConnectionError()
	if m.onError != nil {
		m.onError(err.Error())
	}
}

// scheduleLocked arms the single reconnect timer. m.mu must be held.
func (m *Manager) scheduleLocked(delay time.Duration) {
	m.cancelTimerLocked()
	m.gen++ // Whatever the closed socket still reports is stale from here on.
	id := m.gen
	m.timerID = id
	m.timer = m.clock.AfterFunc(delay, func() { m.fireReconnect(id) })
}

func (m *Manager) fireReconnect(id uint64) {
	m.mu.Lock()
	if id != m.timerID || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.timerID = 0

	url, err := EndpointURL(m.cfg.BaseURL, m.channel, m.token)
	if err != nil {
		seq := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.logger.Error("reconnect aborted", "error", err)
		m.notifyState(StateDisconnected, seq)
		return
	}
	seq := m.openLocked(url)
	m.mu.Unlock()

	m.notifyState(StateConnecting, seq)
}

// notifyState hands s to the state handler unless a later transition has
// already been queued. Handlers run one at a time in transition order; a
// handler that calls back into the Manager queues its own transitions
// behind the one being delivered.
func (m *Manager) notifyState(s State, seq uint64) {
	if m.onState == nil {
		return
	}

	m.notifyMu.Lock()
	if seq <= m.queuedSeq {
		m.notifyMu.Unlock()
		return
	}
	m.queuedSeq = seq
	m.pending = append(m.pending, s)
	if m.delivering {
		m.notifyMu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.notifyMu.Unlock()
		m.onState(next)
		m.notifyMu.Lock()
	}
	m.delivering = false
	m.notifyMu.Unlock()
}

func closeQuietly(s Socket, logger *slog.Logger) {
	if s == nil {
		return
	}
	if err := s.Close(CloseNormal, ""); err != nil {
		logger.Debug("close previous socket", "error", err)
	}
}

// socketEvents binds one socket's events to the generation it was opened in.
type socketEvents struct {
	m      *Manager
	gen    uint64
	logger *slog.Logger
}

func (e *socketEvents) OnOpen()                         { e.m.handleOpen(e) }
func (e *socketEvents) OnMessage(data []byte)           { e.m.handleMessage(e, data) }
func (e *socketEvents) OnClose(code int, reason string) { e.m.handleClose(e, code, reason) }
func (e *socketEvents) OnError(err error)               { e.m.handleError(e, err) }
