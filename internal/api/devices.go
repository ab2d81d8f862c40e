package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/itechmarine/helm-core/internal/device"
)

type registerDeviceRequest struct {
	Serial string  `json:"serial"`
	BoatID *string `json:"boat_id,omitempty"`
}

// handleRegisterDevice provisions a device, optionally straight onto one
// of the caller's boats.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.BoatID != nil && !s.callerOwnsBoat(w, r, *req.BoatID) {
		return
	}

	dev := &device.Device{Serial: req.Serial, BoatID: req.BoatID}
	if err := s.devices.Create(r.Context(), dev); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidSerial):
			writeBadRequest(w, "invalid device serial")
		case errors.Is(err, device.ErrSerialExists):
			writeConflict(w, "serial already registered")
		default:
			s.logger.Error("creating device", "error", err)
			writeInternalError(w, "failed to register device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns one device from the caller's fleet.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device and its channels.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	if err := s.devices.Delete(r.Context(), dev.ID); err != nil {
		s.logger.Error("deleting device", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": dev.ID})
}

type assignDeviceRequest struct {
	BoatID *string `json:"boat_id"`
}

// handleAssignDevice moves a device onto a boat, or off all boats with a
// null boat_id.
func (s *Server) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	var req assignDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.BoatID != nil && !s.callerOwnsBoat(w, r, *req.BoatID) {
		return
	}

	if err := s.devices.AssignToBoat(r.Context(), dev.ID, req.BoatID); err != nil {
		s.logger.Error("assigning device", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to assign device")
		return
	}

	dev.BoatID = req.BoatID
	writeJSON(w, http.StatusOK, dev)
}

// handleListChannels returns the last-reported relay states for a device.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	channels, err := s.devices.ListChannels(r.Context(), dev.ID)
	if err != nil {
		s.logger.Error("listing channels", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to list channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

type renameChannelRequest struct {
	Name string `json:"name"`
}

// handleRenameChannel sets a channel's display label.
func (s *Server) handleRenameChannel(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	chNo, err := strconv.Atoi(chi.URLParam(r, "ch"))
	if err != nil {
		writeBadRequest(w, "invalid channel number")
		return
	}

	var req renameChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.RenameChannel(r.Context(), dev.ID, chNo, req.Name); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		s.logger.Error("renaming channel", "device_id", dev.ID, "ch", chNo, "error", err)
		writeInternalError(w, "failed to rename channel")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"renamed": chNo})
}

// ownedDevice loads the device from the URL and enforces that it sits on
// one of the caller's boats. Unassigned devices are visible to any
// authenticated user so provisioning can finish.
func (s *Server) ownedDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		s.logger.Error("loading device", "device_id", id, "error", err)
		writeInternalError(w, "failed to load device")
		return nil, false
	}

	if dev.BoatID != nil {
		owned, err := s.boats.IsOwnedBy(r.Context(), *dev.BoatID, userID(r))
		if err != nil {
			s.logger.Error("checking boat ownership", "error", err)
			writeInternalError(w, "failed to load device")
			return nil, false
		}
		if !owned {
			writeNotFound(w, "device not found")
			return nil, false
		}
	}

	return dev, true
}

// callerOwnsBoat verifies boat ownership, writing the response on failure.
func (s *Server) callerOwnsBoat(w http.ResponseWriter, r *http.Request, boatID string) bool {
	owned, err := s.boats.IsOwnedBy(r.Context(), boatID, userID(r))
	if err != nil {
		s.logger.Error("checking boat ownership", "error", err)
		writeInternalError(w, "failed to check boat")
		return false
	}
	if !owned {
		writeNotFound(w, "boat not found")
		return false
	}
	return true
}
