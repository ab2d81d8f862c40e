package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/itechmarine/helm-core/internal/fleet"
)

type boatRequest struct {
	Name string `json:"name"`
}

// handleListBoats returns the caller's boats.
func (s *Server) handleListBoats(w http.ResponseWriter, r *http.Request) {
	boats, err := s.boats.ListByOwner(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("listing boats", "error", err)
		writeInternalError(w, "failed to list boats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boats": boats})
}

// handleCreateBoat registers a new boat for the caller.
func (s *Server) handleCreateBoat(w http.ResponseWriter, r *http.Request) {
	var req boatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	boat := &fleet.Boat{OwnerID: userID(r), Name: req.Name}
	if err := s.boats.Create(r.Context(), boat); err != nil {
		if errors.Is(err, fleet.ErrInvalidName) {
			writeBadRequest(w, "boat name is required")
			return
		}
		s.logger.Error("creating boat", "error", err)
		writeInternalError(w, "failed to create boat")
		return
	}

	writeJSON(w, http.StatusCreated, boat)
}

// handleGetBoat returns one of the caller's boats.
func (s *Server) handleGetBoat(w http.ResponseWriter, r *http.Request) {
	boat, ok := s.ownedBoat(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, boat)
}

// handleRenameBoat changes a boat's name.
func (s *Server) handleRenameBoat(w http.ResponseWriter, r *http.Request) {
	boat, ok := s.ownedBoat(w, r)
	if !ok {
		return
	}

	var req boatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.boats.Rename(r.Context(), boat.ID, req.Name); err != nil {
		if errors.Is(err, fleet.ErrInvalidName) {
			writeBadRequest(w, "boat name is required")
			return
		}
		s.logger.Error("renaming boat", "error", err)
		writeInternalError(w, "failed to rename boat")
		return
	}

	boat.Name = req.Name
	writeJSON(w, http.StatusOK, boat)
}

// handleDeleteBoat removes a boat, unassigning its devices first.
func (s *Server) handleDeleteBoat(w http.ResponseWriter, r *http.Request) {
	boat, ok := s.ownedBoat(w, r)
	if !ok {
		return
	}

	devices, err := s.devices.ListByBoat(r.Context(), boat.ID)
	if err != nil {
		s.logger.Error("listing boat devices", "error", err)
		writeInternalError(w, "failed to delete boat")
		return
	}
	for i := range devices {
		if err := s.devices.AssignToBoat(r.Context(), devices[i].ID, nil); err != nil {
			s.logger.Error("unassigning device", "device_id", devices[i].ID, "error", err)
			writeInternalError(w, "failed to delete boat")
			return
		}
	}

	if err := s.boats.Delete(r.Context(), boat.ID); err != nil {
		s.logger.Error("deleting boat", "error", err)
		writeInternalError(w, "failed to delete boat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": boat.ID})
}

// handleListBoatDevices returns the devices installed on a boat.
func (s *Server) handleListBoatDevices(w http.ResponseWriter, r *http.Request) {
	boat, ok := s.ownedBoat(w, r)
	if !ok {
		return
	}

	devices, err := s.devices.ListByBoat(r.Context(), boat.ID)
	if err != nil {
		s.logger.Error("listing boat devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// ownedBoat loads the boat from the URL and enforces ownership. On
// failure it writes the response and returns ok=false.
func (s *Server) ownedBoat(w http.ResponseWriter, r *http.Request) (*fleet.Boat, bool) {
	id := chi.URLParam(r, "id")

	boat, err := s.boats.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrBoatNotFound) {
			writeNotFound(w, "boat not found")
			return nil, false
		}
		s.logger.Error("loading boat", "boat_id", id, "error", err)
		writeInternalError(w, "failed to load boat")
		return nil, false
	}

	if boat.OwnerID != userID(r) {
		// Present as not-found; resources of other owners do not exist
		// from the caller's perspective.
		writeNotFound(w, "boat not found")
		return nil, false
	}

	return boat, true
}
