// Package chat implements the real-time chat connection manager.
//
// The Manager:
//   - Owns at most one socket per (channel, token) pair
//   - Reconnects after abnormal closures with capped exponential backoff
//   - Gives up after a fixed number of attempts until Connect is called again
//   - Dispatches inbound {"message": ...} envelopes to the registered handler
//   - Sends {"content", "message_type"} frames only while connected
//
// The socket itself is a capability (Dialer, Socket, SocketHandler) so the
// manager can be driven by the gorilla/websocket transport in WSDialer or by
// a fake in tests.
package chat
