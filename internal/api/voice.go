package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/ander/internal/session"
	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/types"
)

// sessionRequest is the JSON body of POST /v1/voice/sessions.
type sessionRequest struct {
	Transcript string `json:"transcript"`
}

// runSession starts a voice session and waits for its outcome. The body is
// either JSON carrying a typed transcript, a WAV or MP3 file, or raw 16-bit
// PCM described by the rate and channels query parameters.
func (s *Server) runSession(w http.ResponseWriter, r *http.Request) {
	if s.d.Sessions == nil {
		writeError(w, http.StatusNotImplemented, "voice sessions are not available")
		return
	}
	trig, ok := s.trigger(w, r)
	if !ok {
		return
	}
	out, err := s.d.Sessions.Run(r.Context(), s.owner(r), trig)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) (session.Trigger, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "", "application/json":
		var req sessionRequest
		if !decodeJSON(w, r, &req) {
			return session.Trigger{}, false
		}
		if strings.TrimSpace(req.Transcript) == "" {
			writeError(w, http.StatusBadRequest, "transcript is required")
			return session.Trigger{}, false
		}
		return session.Trigger{Transcript: req.Transcript}, true

	case "audio/wav", "audio/x-wav", "audio/wave", "audio/mpeg", "audio/mp3":
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read audio: "+err.Error())
			return session.Trigger{}, false
		}
		clip, err := audio.Decode(data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return session.Trigger{}, false
		}
		return session.Trigger{Audio: bytes.NewReader(clip.PCM), Format: clip.Format}, true

	case "audio/pcm", "audio/l16", "application/octet-stream":
		f, err := pcmFormat(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return session.Trigger{}, false
		}
		return session.Trigger{Audio: http.MaxBytesReader(w, r.Body, maxAudioBytes), Format: f}, true

	default:
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported content type %q", mediaType))
		return session.Trigger{}, false
	}
}

// pcmFormat reads the rate and channels query parameters, defaulting to
// the speech-to-text format.
func pcmFormat(r *http.Request) (audio.Format, error) {
	f := audio.STT
	q := r.URL.Query()
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return audio.Format{}, fmt.Errorf("invalid rate %q", v)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 8 {
			return audio.Format{}, fmt.Errorf("invalid channels %q", v)
		}
		f.Channels = n
	}
	return f, nil
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.d.Sessions == nil {
		writeJSON(w, http.StatusOK, []session.Info{})
		return
	}
	infos := s.d.Sessions.List()
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if s.d.Sessions != nil {
		s.d.Sessions.Stop(s.owner(r))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listVoices(w http.ResponseWriter, r *http.Request) {
	if s.d.Voices == nil {
		writeError(w, http.StatusNotImplemented, "no TTS provider configured")
		return
	}
	voices, err := s.d.Voices.ListVoices(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if voices == nil {
		voices = []types.VoiceProfile{}
	}
	writeJSON(w, http.StatusOK, voices)
}
