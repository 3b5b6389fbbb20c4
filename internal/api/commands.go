package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/ander/internal/command"
)

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.d.Commands.List(r.Context(), s.owner(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if cat := r.URL.Query().Get("category"); cat != "" {
		filtered := cmds[:0]
		for _, c := range cmds {
			if c.Category == cat {
				filtered = append(filtered, c)
			}
		}
		cmds = filtered
	}
	if cmds == nil {
		cmds = []command.Command{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

// ownedCommand loads id and checks it belongs to owner.
func (s *Server) ownedCommand(ctx context.Context, owner, id string) (command.Command, error) {
	c, err := s.d.Commands.Get(ctx, id)
	if err != nil {
		return command.Command{}, err
	}
	if c.Owner != owner {
		return command.Command{}, fmt.Errorf("api: command %s: %w", id, command.ErrNotFound)
	}
	return c, nil
}

func (s *Server) getCommand(w http.ResponseWriter, r *http.Request) {
	c, err := s.ownedCommand(r.Context(), s.owner(r), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) createCommand(w http.ResponseWriter, r *http.Request) {
	var f command.Form
	if !decodeJSON(w, r, &f) {
		return
	}
	f.ID = ""
	c, err := s.editor.Save(r.Context(), s.owner(r), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) updateCommand(w http.ResponseWriter, r *http.Request) {
	owner, id := s.owner(r), r.PathValue("id")
	if _, err := s.ownedCommand(r.Context(), owner, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	var f command.Form
	if !decodeJSON(w, r, &f) {
		return
	}
	f.ID = id
	c, err := s.editor.Save(r.Context(), owner, f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.ownedCommand(r.Context(), s.owner(r), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := s.d.Commands.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetCommands(w http.ResponseWriter, r *http.Request) {
	n, err := command.Reset(r.Context(), s.d.Commands, s.owner(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"seeded": n})
}

// audioRequest is the body of PUT /v1/commands/{id}/audio.
type audioRequest struct {
	StoragePath     string  `json:"storage_path"`
	Provider        string  `json:"provider,omitempty"`
	VoiceID         string  `json:"voice_id,omitempty"`
	Format          string  `json:"format,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

func (s *Server) putAudio(w http.ResponseWriter, r *http.Request) {
	if s.d.Audio == nil {
		writeError(w, http.StatusNotImplemented, "response audio is not supported by this store")
		return
	}
	owner, id := s.owner(r), r.PathValue("id")
	if _, err := s.ownedCommand(r.Context(), owner, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	var req audioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.StoragePath) == "" {
		writeError(w, http.StatusBadRequest, "storage_path is required")
		return
	}
	a, err := s.d.Audio.PutAudio(r.Context(), command.ResponseAudio{
		Owner:           owner,
		CommandID:       id,
		StoragePath:     strings.TrimSpace(req.StoragePath),
		Provider:        req.Provider,
		VoiceID:         req.VoiceID,
		Format:          req.Format,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deleteAudio(w http.ResponseWriter, r *http.Request) {
	if s.d.Audio == nil {
		writeError(w, http.StatusNotImplemented, "response audio is not supported by this store")
		return
	}
	id := r.PathValue("id")
	if _, err := s.ownedCommand(r.Context(), s.owner(r), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := s.d.Audio.DeleteAudio(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
