// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Chat connection state and reconnect activity
//   - Inbound message rate and dropped frames
//   - Outbound send results
package metrics
