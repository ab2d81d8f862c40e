package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/itechmarine/helm-core/internal/command"
)

type submitCommandRequest struct {
	Serial  string          `json:"serial"`
	Payload json.RawMessage `json:"payload"`
}

// handleSubmitCommand enqueues a command for a device. A 202 means
// accepted-for-delivery: the broker push may or may not have gone out,
// and the poll fallback picks up whatever the push missed.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := s.dispatcher.Submit(r.Context(), req.Serial, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, command.ErrEmptySerial):
			writeBadRequest(w, "serial is required")
		case errors.Is(err, command.ErrInvalidPayload):
			writeBadRequest(w, "payload must be a JSON object")
		default:
			s.logger.Error("submitting command", "serial", req.Serial, "error", err)
			writeInternalError(w, "failed to submit command")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, cmd)
}

// handleListDeviceCommands returns a device's recent commands, newest
// first, with read-time expiry applied to the presented status.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}

	commands, err := s.commands.ListForSerial(r.Context(), dev.Serial, limit)
	if err != nil {
		s.logger.Error("listing commands", "serial", dev.Serial, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	now := time.Now()
	type listedCommand struct {
		command.Command
		EffectiveStatus command.Status `json:"effective_status"`
	}
	listed := make([]listedCommand, 0, len(commands))
	for i := range commands {
		listed = append(listed, listedCommand{
			Command:         commands[i],
			EffectiveStatus: commands[i].EffectiveStatus(now),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"commands": listed})
}
