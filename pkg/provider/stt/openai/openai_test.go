package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/types"
)

type recorded struct {
	mu     sync.Mutex
	fields []map[string]string
}

func fakeTranscriptions(t *testing.T, text string, rec *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
			f["filename"] = fh[0].Filename
		}
		rec.mu.Lock()
		rec.fields = append(rec.fields, f)
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tone(samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		if i%2 == 0 {
			s[i] = 4000
		} else {
			s[i] = -4000
		}
	}
	return audio.PCM(s)
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestStartStream_UploadsUtterance(t *testing.T) {
	t.Parallel()

	rec := &recorded{}
	srv := fakeTranscriptions(t, " Switch off the kitchen lights. ", rec)
	p, err := New("sk-test", WithBaseURL(srv.URL+"/"), WithModel("gpt-4o-mini-transcribe"))
	if err != nil {
		t.Fatal(err)
	}

	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en-GB",
		Keywords:   []types.KeywordBoost{{Keyword: "kitchen"}, {Keyword: "dispenser"}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(tone(1600))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var finals []string
	for tr := range h.Finals() {
		finals = append(finals, tr.Text)
	}
	if len(finals) != 1 || finals[0] != "Switch off the kitchen lights." {
		t.Fatalf("finals = %q", finals)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fields) != 1 {
		t.Fatalf("requests = %d", len(rec.fields))
	}
	got := rec.fields[0]
	want := map[string]string{
		"model":    "gpt-4o-mini-transcribe",
		"language": "en",
		"prompt":   "kitchen, dispenser",
		"filename": "utterance.wav",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestStartStream_SilenceMakesNoRequest(t *testing.T) {
	t.Parallel()

	rec := &recorded{}
	srv := fakeTranscriptions(t, "nothing", rec)
	p, _ := New("sk-test", WithBaseURL(srv.URL+"/"), WithSilence(50*time.Millisecond))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(make([]byte, 32000))
	_ = h.Close()
	for range h.Finals() {
		t.Error("final for silence")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fields) != 0 {
		t.Errorf("requests = %d, want 0", len(rec.fields))
	}
}

func TestLanguageCode(t *testing.T) {
	t.Parallel()
	tests := []struct{ tag, fallback, want string }{
		{"en-US", "", "en"},
		{"", "DE", "de"},
		{"", "", ""},
		{"fr", "en", "fr"},
	}
	for _, tt := range tests {
		if got := languageCode(tt.tag, tt.fallback); got != tt.want {
			t.Errorf("languageCode(%q, %q) = %q, want %q", tt.tag, tt.fallback, got, tt.want)
		}
	}
}
