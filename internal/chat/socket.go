package chat

// SocketHandler receives the lifecycle events of a single socket.
//
// Implementations must expect events from a transport goroutine. A socket
// reports at most one OnOpen and exactly one OnClose; OnError may precede
// OnClose.
type SocketHandler interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string)
	OnError(err error)
}

// Socket is an open (or opening) message-oriented connection.
type Socket interface {
	// Send writes one text frame. It fails with ErrNotConnected before the
	// socket has opened or after it has closed.
	Send(data []byte) error

	// Close closes the socket with the given close code. Closing a socket
	// that is already closed is a no-op.
	Close(code int, reason string) error

	// IsOpen reports whether frames can currently be sent.
	IsOpen() bool
}

// Dialer opens sockets. Open must not block on the network and must not call
// h before returning: the outcome is reported later, from another goroutine.
type Dialer interface {
	Open(url string, h SocketHandler) Socket
}
