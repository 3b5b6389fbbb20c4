// Package api serves the ander HTTP API.
//
// Every request acts on behalf of one owner, taken from the X-Ander-Owner
// header or the configured default. Records belonging to other owners are
// reported as not found.
//
// Responses are JSON. Errors use the body {"error": "..."} with a status
// derived from the sentinel errors of the store packages.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/event"
	"github.com/MrWong99/ander/internal/home"
	"github.com/MrWong99/ander/internal/session"
	"github.com/MrWong99/ander/pkg/provider/tts"
)

// OwnerHeader selects the owner a request acts for.
const OwnerHeader = "X-Ander-Owner"

// maxBodyBytes caps JSON and YAML request bodies.
const maxBodyBytes = 1 << 20

// maxAudioBytes caps uploaded voice audio.
const maxAudioBytes = 16 << 20

// Deps holds everything the API serves.
type Deps struct {
	Commands command.Store
	Audio    command.AudioStore
	Rooms    home.Rooms
	Systems  home.SafetySystems
	Sessions *session.Manager
	Events   event.Publisher

	// Security reports the last known security mode. Optional.
	Security event.StatusReader

	// Voices lists TTS voices. Optional.
	Voices tts.Provider

	// EventStream serves GET /v1/events. Optional.
	EventStream http.Handler

	// DefaultOwner is used when the owner header is absent.
	DefaultOwner string
}

// Server implements the routes. Create it with [New].
type Server struct {
	d      Deps
	editor *command.Editor
}

// New returns a Server for d.
func New(d Deps) *Server {
	return &Server{d: d, editor: command.NewEditor(d.Commands)}
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/commands", s.listCommands)
	mux.HandleFunc("POST /v1/commands", s.createCommand)
	mux.HandleFunc("POST /v1/commands/reset", s.resetCommands)
	mux.HandleFunc("GET /v1/commands/{id}", s.getCommand)
	mux.HandleFunc("PUT /v1/commands/{id}", s.updateCommand)
	mux.HandleFunc("DELETE /v1/commands/{id}", s.deleteCommand)
	mux.HandleFunc("PUT /v1/commands/{id}/audio", s.putAudio)
	mux.HandleFunc("DELETE /v1/commands/{id}/audio", s.deleteAudio)

	mux.HandleFunc("GET /v1/rooms", s.listRooms)
	mux.HandleFunc("GET /v1/rooms/{id}", s.getRoom)
	mux.HandleFunc("PATCH /v1/rooms/{id}/appliances/{appliance}", s.patchAppliance)
	mux.HandleFunc("POST /v1/home/import", s.importLayout)
	mux.HandleFunc("GET /v1/safety-systems", s.listSafetySystems)
	mux.HandleFunc("GET /v1/security", s.security)

	mux.HandleFunc("POST /v1/voice/sessions", s.runSession)
	mux.HandleFunc("GET /v1/voice/sessions", s.listSessions)
	mux.HandleFunc("POST /v1/voice/stop", s.stopSession)
	mux.HandleFunc("GET /v1/voices", s.listVoices)

	if s.d.EventStream != nil {
		mux.Handle("GET /v1/events", s.d.EventStream)
	}
}

// Owner returns the owner named by r's [OwnerHeader], or def.
func Owner(r *http.Request, def string) string {
	if o := strings.TrimSpace(r.Header.Get(OwnerHeader)); o != "" {
		return o
	}
	return def
}

func (s *Server) owner(r *http.Request) string { return Owner(r, s.d.DefaultOwner) }

// ── helpers ──

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeStoreError maps store sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrNotFound), errors.Is(err, home.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, command.ErrDuplicateName):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, command.ErrInvalid), errors.Is(err, home.ErrUnknownField), errors.Is(err, home.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}
