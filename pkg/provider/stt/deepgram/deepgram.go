// Package deepgram provides an STT provider on the Deepgram streaming
// WebSocket API.
//
// Deepgram commits speech in segments (is_final) and marks the end of an
// utterance separately (speech_final, or an UtteranceEnd event). A spoken
// command often spans several segments, so the session assembles them and
// emits one final per utterance. Partials carry the committed prefix plus
// the current interim guess.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/types"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en"
	defaultSampleRate  = 16000
	defaultEndpointing = 300 * time.Millisecond

	// utteranceEnd is the word gap after which Deepgram sends UtteranceEnd
	// even when background noise defeats endpointing.
	utteranceEnd = time.Second

	// closeGrace bounds how long Close waits for the results of flushed
	// audio.
	closeGrace = 5 * time.Second
)

// ErrClosed is returned by SendAudio after Close.
var ErrClosed = errors.New("deepgram: session closed")

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the streaming endpoint, e.g. for a self-hosted
// deployment.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithEndpointing sets the silence after which Deepgram considers an
// utterance finished. Non-positive values keep the default of 300ms.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.endpointing = d
		}
	}
}

// Provider implements stt.Provider against Deepgram.
type Provider struct {
	apiKey      string
	model       string
	language    string
	endpoint    string
	endpointing time.Duration
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		language:    defaultLanguage,
		endpoint:    defaultEndpoint,
		endpointing: defaultEndpointing,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session. The session
// outlives ctx; Close ends it.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	target, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:     conn,
		cancel:   cancel,
		audio:    make(chan []byte, 256),
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 8),
		closing:  make(chan struct{}),
		written:  make(chan struct{}),
		read:     make(chan struct{}),
	}
	go s.write(sctx)
	go s.receive(sctx)
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	channels := max(cfg.Channels, 1)

	q := url.Values{
		"model":            {p.model},
		"language":         {lang},
		"encoding":         {"linear16"},
		"sample_rate":      {strconv.Itoa(rate)},
		"channels":         {strconv.Itoa(channels)},
		"punctuate":        {"true"},
		"interim_results":  {"true"},
		"vad_events":       {"true"},
		"endpointing":      {strconv.FormatInt(p.endpointing.Milliseconds(), 10)},
		"utterance_end_ms": {strconv.FormatInt(utteranceEnd.Milliseconds(), 10)},
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── wire messages ──

type message struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type eventKind int

const (
	eventInterim      eventKind = iota // an unstable guess for the current segment
	eventSegment                       // a committed segment
	eventUtteranceEnd                  // the speaker finished
)

type event struct {
	kind eventKind
	// endsUtterance is set on a segment Deepgram also marked speech_final.
	endsUtterance bool
	transcript    types.Transcript
}

// decode maps one server message to an event. Metadata, speech-started
// events and empty results are ignored.
func decode(data []byte) (event, bool) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return event{}, false
	}
	switch m.Type {
	case "UtteranceEnd":
		return event{kind: eventUtteranceEnd}, true
	case "Results":
	default:
		return event{}, false
	}
	if len(m.Channel.Alternatives) == 0 {
		return event{}, false
	}
	alt := m.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		// An empty speech_final still closes the utterance.
		if m.SpeechFinal {
			return event{kind: eventUtteranceEnd}, true
		}
		return event{}, false
	}

	tr := types.Transcript{
		Text:       text,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  seconds(m.Start),
		Duration:   seconds(m.Duration),
	}
	for _, w := range alt.Words {
		tr.Words = append(tr.Words, types.WordDetail{
			Word: w.Word, Start: seconds(w.Start), End: seconds(w.End), Confidence: w.Confidence,
		})
	}
	ev := event{kind: eventInterim, transcript: tr}
	if m.IsFinal {
		ev.kind, ev.endsUtterance = eventSegment, m.SpeechFinal
	}
	return ev, true
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// ── utterance assembly ──

// utterance collects the committed segments of one spoken command.
type utterance struct {
	segments []types.Transcript
}

func (u *utterance) add(t types.Transcript) { u.segments = append(u.segments, t) }

func (u *utterance) empty() bool { return len(u.segments) == 0 }

// preview prefixes an interim guess with the committed text.
func (u *utterance) preview(interim types.Transcript) types.Transcript {
	if u.empty() {
		return interim
	}
	out := u.join()
	out.IsFinal = false
	out.Text += " " + interim.Text
	out.Words = append(out.Words, interim.Words...)
	out.Duration = interim.Timestamp + interim.Duration - out.Timestamp
	return out
}

// commit returns the assembled final and resets u.
func (u *utterance) commit() types.Transcript {
	out := u.join()
	u.segments = u.segments[:0]
	return out
}

// join concatenates the segments. Confidence is the duration-weighted mean.
func (u *utterance) join() types.Transcript {
	first, last := u.segments[0], u.segments[len(u.segments)-1]
	out := types.Transcript{
		IsFinal:   true,
		Timestamp: first.Timestamp,
		Duration:  last.Timestamp + last.Duration - first.Timestamp,
	}
	texts := make([]string, 0, len(u.segments))
	var weighted, total float64
	for _, s := range u.segments {
		texts = append(texts, s.Text)
		out.Words = append(out.Words, s.Words...)
		w := max(s.Duration.Seconds(), 1e-3)
		weighted += s.Confidence * w
		total += w
	}
	out.Text = strings.Join(texts, " ")
	out.Confidence = weighted / total
	return out
}

// ── session ──

type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	audio    chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	closeOnce sync.Once
	closing   chan struct{}
	written   chan struct{} // closed by write
	read      chan struct{} // closed by receive
}

// SendAudio queues a PCM chunk for delivery.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return ErrClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return ErrClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

// SetKeywords is not available; Deepgram fixes keywords at connect time.
func (s *session) SetKeywords([]types.KeywordBoost) error {
	return fmt.Errorf("deepgram: set keywords: %w", stt.ErrNotSupported)
}

// Close flushes queued audio, asks Deepgram to finalise with CloseStream
// and waits up to closeGrace for the remaining results.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		<-s.written

		wctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.conn.Write(wctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()

		grace := time.NewTimer(closeGrace)
		defer grace.Stop()
		select {
		case <-s.read:
		case <-grace.C:
			slog.Warn("deepgram: server did not finish the stream, dropping connection")
		}
		s.cancel()
		<-s.read
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// write sends queued audio until Close, then drains what is left.
func (s *session) write(ctx context.Context) {
	defer close(s.written)
	send := func(chunk []byte) bool {
		if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			slog.Debug("deepgram: write audio", "err", err)
			return false
		}
		return true
	}
	for {
		select {
		case chunk := <-s.audio:
			if !send(chunk) {
				return
			}
		case <-s.closing:
			for {
				select {
				case chunk := <-s.audio:
					if !send(chunk) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// receive assembles utterances until the server ends the stream. Segments
// still pending at that point are emitted as a last final.
func (s *session) receive(ctx context.Context) {
	defer close(s.read)
	defer close(s.partials)
	defer close(s.finals)

	var u utterance
	emit := func() bool {
		if u.empty() {
			return true
		}
		select {
		case s.finals <- u.commit():
			return true
		case <-ctx.Done():
			return false
		}
	}
	defer func() { emit() }()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		ev, ok := decode(data)
		if !ok {
			continue
		}
		switch ev.kind {
		case eventInterim:
			select {
			case s.partials <- u.preview(ev.transcript):
			default:
				slog.Debug("deepgram: partial dropped, reader is slow")
			}
		case eventSegment:
			u.add(ev.transcript)
			if ev.endsUtterance && !emit() {
				return
			}
		case eventUtteranceEnd:
			if !emit() {
				return
			}
		}
	}
}
