package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/itechmarine/helm-core/internal/command"
)

type pollRequest struct {
	Serial string `json:"serial"`
	Max    int    `json:"max,omitempty"`
}

type pollResponse struct {
	Commands []json.RawMessage `json:"commands"`
}

// handleDevicePoll serves pending commands to a device over the HTTP
// fallback. The response carries an array (empty, never null) of wire
// envelopes, oldest first; devices treat empty and non-empty responses
// uniformly.
func (s *Server) handleDevicePoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	envelopes, err := s.gateway.Poll(r.Context(), req.Serial, req.Max)
	if err != nil {
		if errors.Is(err, command.ErrEmptySerial) {
			writeBadRequest(w, "serial is required")
			return
		}
		s.logger.Error("device poll", "serial", req.Serial, "error", err)
		writeInternalError(w, "poll failed")
		return
	}

	writeJSON(w, http.StatusOK, pollResponse{Commands: envelopes})
}

type ackRequest struct {
	Serial string `json:"serial"`
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// handleDeviceAck records a device's outcome for one command. Unknown
// (id, serial) pairs are 404s: late acks after expiry and forged ids
// both land there, and neither mutates anything.
func (s *Server) handleDeviceAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Serial == "" || req.ID == "" {
		writeBadRequest(w, "serial and id are required")
		return
	}

	if _, err := s.gateway.Ack(r.Context(), req.Serial, req.ID, req.OK, req.Reason); err != nil {
		if errors.Is(err, command.ErrNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("device ack", "serial", req.Serial, "command_id", req.ID, "error", err)
		writeInternalError(w, "ack failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
