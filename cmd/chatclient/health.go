package main

import (
	"encoding/json"
	"net/http"

	"github.com/plumbline/chat-client/internal/chat"
)

// connectionStatus is the part of the manager the health endpoint reads.
type connectionStatus interface {
	State() chat.State
	LastError() string
	Attempts() int
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(status connectionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := status.State()

		health := struct {
			Status    string `json:"status"`
			State     string `json:"state"`
			Attempts  int    `json:"reconnect_attempts"`
			LastError string `json:"last_error,omitempty"`
		}{
			Status:    "healthy",
			State:     state.String(),
			Attempts:  status.Attempts(),
			LastError: status.LastError(),
		}

		switch state {
		case chat.StateConnected:
		case chat.StateConnecting, chat.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}
