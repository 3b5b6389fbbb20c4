package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/ander/internal/event"
	"github.com/MrWong99/ander/internal/home"
)

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.d.Rooms.Filter(r.Context(), s.owner(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []home.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) ownedRoom(r *http.Request) (home.Room, error) {
	id := r.PathValue("id")
	room, err := s.d.Rooms.Get(r.Context(), id)
	if err != nil {
		return home.Room{}, err
	}
	if room.Owner != s.owner(r) {
		return home.Room{}, fmt.Errorf("api: room %s: %w", id, home.ErrNotFound)
	}
	return room, nil
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.ownedRoom(r)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// patchAppliance toggles boolean appliance fields and emits state-changed.
func (s *Server) patchAppliance(w http.ResponseWriter, r *http.Request) {
	var p home.AppliancePatch
	if !decodeJSON(w, r, &p) {
		return
	}
	owner := s.owner(r)
	a, err := home.SetAppliance(r.Context(), s.d.Rooms, owner, r.PathValue("id"), r.PathValue("appliance"), p)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if s.d.Events != nil {
		s.d.Events.Publish(r.Context(), event.Event{Kind: event.StateChanged, Owner: owner, At: time.Now()})
	}
	writeJSON(w, http.StatusOK, a)
}

// importLayout accepts a YAML home layout and imports it for the request
// owner. The owner field of the document is ignored.
func (s *Server) importLayout(w http.ResponseWriter, r *http.Request) {
	layout, err := home.LoadLayoutFromReader(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateLayout(layout); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := home.ImportLayout(r.Context(), s.d.Rooms, s.d.Systems, s.owner(r), layout)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validateLayout(l *home.LayoutFile) error {
	var errs []error
	for i, r := range l.Rooms {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rooms[%d]: %w", i, err))
		}
	}
	for i, s := range l.SafetySystems {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("safety_systems[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) listSafetySystems(w http.ResponseWriter, r *http.Request) {
	t := home.SystemType(r.URL.Query().Get("type"))
	if t != "" && !t.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown system type %q", t))
		return
	}
	systems, err := s.d.Systems.Filter(r.Context(), s.owner(r), t)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if systems == nil {
		systems = []home.SafetySystem{}
	}
	writeJSON(w, http.StatusOK, systems)
}

func (s *Server) security(w http.ResponseWriter, r *http.Request) {
	if s.d.Security == nil {
		writeError(w, http.StatusNotImplemented, "security status is not available")
		return
	}
	st, err := s.d.Security.SecurityStatus(r.Context(), s.owner(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
