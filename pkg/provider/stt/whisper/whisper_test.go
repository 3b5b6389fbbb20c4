package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/provider/stt/whisper"
	"github.com/MrWong99/ander/pkg/types"
)

// ---- helpers ----------------------------------------------------------------

type inferenceRecord struct {
	mu       sync.Mutex
	language []string
	prompt   []string
	wavSizes []int
	calls    atomic.Int32
}

// newMockServer answers POST /inference with responseText and records the
// form fields it received.
func newMockServer(t *testing.T, responseText string, rec *inferenceRecord) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		wav, _ := io.ReadAll(f)
		if rec != nil {
			rec.calls.Add(1)
			rec.mu.Lock()
			rec.language = append(rec.language, r.FormValue("language"))
			rec.prompt = append(rec.prompt, r.FormValue("prompt"))
			rec.wavSizes = append(rec.wavSizes, len(wav))
			rec.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " " + responseText + "\n"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// speech is a 440 Hz tone far above the silence threshold.
func speech(samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.PCM(s)
}

func silence(samples int) []byte { return make([]byte, samples*2) }

func mustStart(t *testing.T, p stt.Provider) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSetKeywords_NotSupported(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	h := mustStart(t, p)
	if err := h.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

// ---- segmentation -----------------------------------------------------------

func TestSilenceAlone_NoInference(t *testing.T) {
	t.Parallel()
	rec := &inferenceRecord{}
	srv := newMockServer(t, "unexpected", rec)
	p, _ := whisper.New(srv.URL, whisper.WithSilence(50*time.Millisecond))
	h := mustStart(t, p)

	_ = h.SendAudio(silence(16000))
	_ = h.Close()
	for range h.Finals() {
		t.Error("final emitted for silence")
	}
	if n := rec.calls.Load(); n != 0 {
		t.Errorf("inference called %d times, want 0", n)
	}
}

func TestSpeechThenSilence_EmitsPartialAndFinal(t *testing.T) {
	t.Parallel()
	rec := &inferenceRecord{}
	srv := newMockServer(t, "turn on the lights", rec)
	p, _ := whisper.New(srv.URL, whisper.WithSilence(100*time.Millisecond), whisper.WithLanguage("de"))
	h := mustStart(t, p)

	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))

	select {
	case tr := <-h.Finals():
		if tr.Text != "turn on the lights" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
		if tr.Duration != 200*time.Millisecond {
			t.Errorf("duration = %v, want 200ms", tr.Duration)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}
	select {
	case tr := <-h.Partials():
		if tr.IsFinal || tr.Text != "turn on the lights" {
			t.Errorf("partial = %+v", tr)
		}
	case <-time.After(time.Second):
		t.Fatal("no partial emitted")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.language) != 1 || rec.language[0] != "de" {
		t.Errorf("language fields = %v", rec.language)
	}
	// 200ms of 16kHz mono PCM plus the 44 byte header.
	if rec.wavSizes[0] != 6400+44 {
		t.Errorf("wav size = %d", rec.wavSizes[0])
	}
}

func TestStreamConfig_FormFields(t *testing.T) {
	t.Parallel()
	rec := &inferenceRecord{}
	srv := newMockServer(t, "dim the den", rec)
	p, _ := whisper.New(srv.URL, whisper.WithSilence(time.Minute))

	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en-GB",
		Keywords:   []types.KeywordBoost{{Keyword: "den", Boost: 2}, {Keyword: " "}, {Keyword: "dimmer"}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(speech(1600))
	_ = h.Close()
	for range h.Finals() {
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.language) != 1 || rec.language[0] != "en" {
		t.Errorf("language = %v, want [en]", rec.language)
	}
	if len(rec.prompt) != 1 || rec.prompt[0] != "den, dimmer" {
		t.Errorf("prompt = %q", rec.prompt)
	}
}

func TestMaxUtterance_ForcesFlush(t *testing.T) {
	t.Parallel()
	rec := &inferenceRecord{}
	srv := newMockServer(t, "long", rec)
	p, _ := whisper.New(srv.URL, whisper.WithMaxUtterance(200*time.Millisecond), whisper.WithSilence(time.Minute))
	h := mustStart(t, p)

	for range 3 {
		_ = h.SendAudio(speech(1600))
	}
	select {
	case <-h.Finals():
	case <-time.After(5 * time.Second):
		t.Fatal("max utterance did not force a flush")
	}
}

func TestClose_FlushesTrailingUtterance(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "lock the door", nil)
	p, _ := whisper.New(srv.URL, whisper.WithSilence(time.Minute))
	h := mustStart(t, p)

	_ = h.SendAudio(speech(1600))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []string
	for tr := range h.Finals() {
		got = append(got, tr.Text)
	}
	if len(got) != 1 || got[0] != "lock the door" {
		t.Fatalf("finals = %v", got)
	}
	n := 0
	for range h.Partials() {
		n++
	}
	if n != 1 {
		t.Fatalf("partials = %d, want 1", n)
	}
}

func TestClose_IdempotentAndRejectsAudio(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	h := mustStart(t, p)
	_ = h.Close()
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.SendAudio(speech(10)); err == nil {
		t.Fatal("SendAudio after Close succeeded")
	}
}

func TestServerError_NoTranscript(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := mustStart(t, p)
	_ = h.SendAudio(speech(1600))
	_ = h.Close()
	for tr := range h.Finals() {
		t.Errorf("unexpected final %q", tr.Text)
	}
}

func TestEmptyResponse_NoTranscript(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil)
	p, _ := whisper.New(srv.URL)
	h := mustStart(t, p)
	_ = h.SendAudio(speech(1600))
	_ = h.Close()
	for tr := range h.Finals() {
		t.Errorf("unexpected final %q", tr.Text)
	}
}

func TestConcurrentSendAudio(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "hello", nil)
	p, _ := whisper.New(srv.URL)
	h := mustStart(t, p)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = h.SendAudio(speech(160))
			}
		}()
	}
	wg.Wait()
}
