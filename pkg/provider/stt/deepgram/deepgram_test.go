package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/types"
)

// ── URL ──

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
		cfg  stt.StreamConfig
		want map[string]string
	}{
		{
			name: "defaults",
			cfg:  stt.StreamConfig{},
			want: map[string]string{
				"model": "nova-3", "language": "en", "encoding": "linear16",
				"sample_rate": "16000", "channels": "1", "interim_results": "true",
				"vad_events": "true", "endpointing": "300", "utterance_end_ms": "1000",
			},
		},
		{
			name: "provider options",
			opts: []Option{WithModel("base"), WithLanguage("de-DE"), WithEndpointing(500 * time.Millisecond)},
			cfg:  stt.StreamConfig{SampleRate: 48000, Channels: 2},
			want: map[string]string{"model": "base", "language": "de-DE", "sample_rate": "48000", "channels": "2", "endpointing": "500"},
		},
		{
			name: "stream language wins",
			opts: []Option{WithLanguage("en"), WithEndpointing(-time.Second)},
			cfg:  stt.StreamConfig{Language: "fr-FR"},
			want: map[string]string{"language": "fr-FR", "endpointing": "300"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			raw, err := p.buildURL(tt.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, _ := url.Parse(raw)
			for k, v := range tt.want {
				if got := u.Query().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	raw, err := p.buildURL(stt.StreamConfig{Keywords: []types.KeywordBoost{
		{Keyword: "living room", Boost: 2},
		{Keyword: "dispenser", Boost: 1.5},
	}})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	if kws := u.Query()["keywords"]; len(kws) != 2 || kws[0] != "living room:2" || kws[1] != "dispenser:1.5" {
		t.Fatalf("keywords = %v", kws)
	}
	if _, err := New(""); err == nil {
		t.Error("New accepted an empty api key")
	}
}

// ── decoding ──

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		ok      bool
		kind    eventKind
		ends    bool
		text    string
		isFinal bool
	}{
		{
			name: "interim",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"turn on"}]}}`,
			ok:   true, kind: eventInterim, text: "turn on",
		},
		{
			name: "segment",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" turn on the "}]}}`,
			ok:   true, kind: eventSegment, text: "turn on the", isFinal: true,
		},
		{
			name: "speech final segment",
			raw:  `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"kitchen lights"}]}}`,
			ok:   true, kind: eventSegment, ends: true, text: "kitchen lights", isFinal: true,
		},
		{
			name: "empty speech final",
			raw:  `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
			ok:   true, kind: eventUtteranceEnd,
		},
		{name: "utterance end", raw: `{"type":"UtteranceEnd","last_word_end":2.1}`, ok: true, kind: eventUtteranceEnd},
		{name: "metadata", raw: `{"type":"Metadata"}`},
		{name: "speech started", raw: `{"type":"SpeechStarted"}`},
		{name: "no alternatives", raw: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "empty interim", raw: `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "garbage", raw: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := decode([]byte(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.kind != tt.kind || ev.endsUtterance != tt.ends || ev.transcript.Text != tt.text || ev.transcript.IsFinal != tt.isFinal {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestDecode_Timing(t *testing.T) {
	t.Parallel()

	ev, ok := decode([]byte(`{"type":"Results","is_final":true,"start":1.5,"duration":0.75,
		"channel":{"alternatives":[{"transcript":"turn on the fan","confidence":0.93,
		"words":[{"word":"turn","start":1.5,"end":1.7,"confidence":0.9}]}]}}`))
	if !ok {
		t.Fatal("not decoded")
	}
	tr := ev.transcript
	if tr.Confidence != 0.93 || tr.Timestamp != 1500*time.Millisecond || tr.Duration != 750*time.Millisecond {
		t.Errorf("transcript = %+v", tr)
	}
	if len(tr.Words) != 1 || tr.Words[0].End != 1700*time.Millisecond {
		t.Errorf("words = %+v", tr.Words)
	}
}

func TestUtterance(t *testing.T) {
	t.Parallel()

	var u utterance
	interim := types.Transcript{Text: "turn", Timestamp: 0, Duration: time.Second}
	if got := u.preview(interim); got.Text != "turn" {
		t.Errorf("preview of empty utterance = %+v", got)
	}

	u.add(types.Transcript{Text: "turn on the", Confidence: 0.9, Timestamp: 0, Duration: time.Second, IsFinal: true})
	preview := u.preview(types.Transcript{Text: "kitchen", Timestamp: time.Second, Duration: 500 * time.Millisecond})
	if preview.Text != "turn on the kitchen" || preview.IsFinal || preview.Duration != 1500*time.Millisecond {
		t.Errorf("preview = %+v", preview)
	}

	u.add(types.Transcript{Text: "kitchen lights", Confidence: 0.6, Timestamp: time.Second, Duration: time.Second, IsFinal: true})
	final := u.commit()
	if final.Text != "turn on the kitchen lights" || !final.IsFinal || final.Duration != 2*time.Second {
		t.Errorf("final = %+v", final)
	}
	if final.Confidence < 0.749 || final.Confidence > 0.751 {
		t.Errorf("confidence = %v, want duration-weighted 0.75", final.Confidence)
	}
	if !u.empty() {
		t.Error("commit did not reset the utterance")
	}
}

// ── live session against a fake server ──

func results(text string, final, speechFinal bool) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":         "Results",
		"is_final":     final,
		"speech_final": speechFinal,
		"channel":      map[string]any{"alternatives": []map[string]any{{"transcript": text}}},
	})
	return b
}

// fakeDeepgram counts audio bytes, answers CloseStream with a final and
// closes the socket.
func fakeDeepgram(t *testing.T, gotAuth *atomic.Value, audioBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				audioBytes.Add(int64(len(msg)))
				_ = c.Write(ctx, websocket.MessageText, results("turn", false, false))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				_ = c.Write(ctx, websocket.MessageText, results("turn on the fan", true, false))
				_ = c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_CloseDeliversFinal(t *testing.T) {
	t.Parallel()

	var auth atomic.Value
	var n atomic.Int64
	srv := fakeDeepgram(t, &auth, &n)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.SendAudio(make([]byte, 3200)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Partials():
		if tr.Text != "turn" || tr.IsFinal {
			t.Errorf("partial = %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no partial")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var finals []string
	for tr := range h.Finals() {
		finals = append(finals, tr.Text)
	}
	if len(finals) != 1 || finals[0] != "turn on the fan" {
		t.Fatalf("finals = %v", finals)
	}
	if auth.Load() != "Token secret" {
		t.Errorf("Authorization = %v", auth.Load())
	}
	if n.Load() != 3200 {
		t.Errorf("server received %d audio bytes", n.Load())
	}
	if err := h.SendAudio([]byte{0, 0}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := h.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
		t.Errorf("SetKeywords err = %v", err)
	}
}

func TestSession_AssemblesSegmentsIntoOneFinal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		for _, m := range [][]byte{
			results("turn on the", true, false),
			results("kitchen", false, false),
			results("kitchen lights", true, true),
			results("thanks", true, false),
			[]byte(`{"type":"UtteranceEnd"}`),
		} {
			_ = c.Write(ctx, websocket.MessageText, m)
		}
		// Hang up on CloseStream.
		for {
			if typ, _, err := c.Read(ctx); err != nil || typ == websocket.MessageText {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	if err := h.SendAudio(make([]byte, 320)); err != nil {
		t.Fatal(err)
	}

	var finals []string
	for len(finals) < 2 {
		select {
		case tr := <-h.Finals():
			finals = append(finals, tr.Text)
		case <-time.After(5 * time.Second):
			t.Fatalf("finals so far = %v", finals)
		}
	}
	if finals[0] != "turn on the kitchen lights" || finals[1] != "thanks" {
		t.Errorf("finals = %v", finals)
	}
	select {
	case tr := <-h.Partials():
		if tr.Text != "turn on the kitchen" {
			t.Errorf("partial = %+v", tr)
		}
	default:
		t.Error("no partial delivered")
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithEndpoint("ws://127.0.0.1:1/v1/listen"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}
