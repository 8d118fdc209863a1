package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plumbline/chat-client/internal/chat"
)

// Chat records connection manager activity. It implements chat.Recorder.
type Chat struct {
	state          prometheus.Gauge
	reconnects     prometheus.Counter
	attempt        prometheus.Gauge
	reconnectDelay prometheus.Histogram
	exhausted      prometheus.Counter
	received       prometheus.Counter
	dropped        *prometheus.CounterVec
	sends          *prometheus.CounterVec
	connErrors     prometheus.Counter
}

var _ chat.Recorder = (*Chat)(nil)

// NewChat creates the chat collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewChat(reg prometheus.Registerer) *Chat {
	c := &Chat{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plumbline_chat_connection_state",
			Help: "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumbline_chat_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after abnormal closures",
		}),
		attempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plumbline_chat_reconnect_attempt",
			Help: "Number of the pending reconnect attempt (0 while connected)",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plumbline_chat_reconnect_delay_seconds",
			Help:    "Backoff delay of scheduled reconnects",
			Buckets: []float64{1, 2, 4, 8, 16, 30},
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumbline_chat_reconnects_exhausted_total",
			Help: "Times the manager gave up after the maximum reconnect attempts",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumbline_chat_messages_received_total",
			Help: "Inbound messages dispatched to the handler",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plumbline_chat_frames_dropped_total",
			Help: "Inbound frames dropped by reason",
		}, []string{"reason"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plumbline_chat_sends_total",
			Help: "Outbound send attempts by result",
		}, []string{"result"}),
		connErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumbline_chat_connection_errors_total",
			Help: "Transport errors reported by the socket",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.state,
			c.reconnects,
			c.attempt,
			c.reconnectDelay,
			c.exhausted,
			c.received,
			c.dropped,
			c.sends,
			c.connErrors,
		)
	}

	return c
}

// StateChanged sets the state gauge. Reaching Connected clears the
// reconnect attempt gauge.
func (c *Chat) StateChanged(s chat.State) {
	c.state.Set(float64(s))
	if s == chat.StateConnected {
		c.attempt.Set(0)
	}
}

// ReconnectScheduled counts a scheduled reconnect and records its delay.
// attempt is zero-based.
func (c *Chat) ReconnectScheduled(attempt int, delay time.Duration) {
	c.reconnects.Inc()
	c.attempt.Set(float64(attempt + 1))
	c.reconnectDelay.Observe(delay.Seconds())
}

// ReconnectsExhausted counts give-ups after the last allowed attempt.
func (c *Chat) ReconnectsExhausted() {
	c.exhausted.Inc()
}

// MessageReceived counts a message dispatched to the handler.
func (c *Chat) MessageReceived() {
	c.received.Inc()
}

// FrameDropped counts a discarded inbound frame by reason.
func (c *Chat) FrameDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

// SendResult counts a send attempt as ok or failed.
func (c *Chat) SendResult(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	c.sends.WithLabelValues(result).Inc()
}

// ConnectionError counts a transport error.
func (c *Chat) ConnectionError() {
	c.connErrors.Inc()
}
