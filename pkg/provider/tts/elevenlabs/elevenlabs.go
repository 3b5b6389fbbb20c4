// Package elevenlabs provides a TTS provider on the ElevenLabs streaming
// WebSocket API (stream-input).
//
// A response sentence is sent as soon as it arrives with flush set, so
// playback of a short confirmation starts without waiting for the
// end-of-input message.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/tts"
	"github.com/MrWong99/ander/pkg/types"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"
	defaultFormat  = "pcm_16000"

	// defaultVoice is the premade "Rachel" voice.
	defaultVoice = "21m00Tcm4TlvDq8ikWAM"

	apiKeyHeader = "xi-api-key"
)

var _ tts.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model ID (e.g. "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets a pcm_<rate> output format (e.g. "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithDefaultVoice sets the voice used when a profile carries no ID.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) { p.voice = id }
}

// WithBaseURL overrides the API origin. The streaming endpoint is derived
// from it by switching the scheme to ws(s).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// Provider implements tts.Provider against ElevenLabs.
type Provider struct {
	apiKey  string
	model   string
	format  string
	voice   string
	baseURL string
	client  *http.Client
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		format:  defaultFormat,
		voice:   defaultVoice,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if !p.Format().Valid() {
		return nil, fmt.Errorf("elevenlabs: output format %q is not pcm_<rate>", p.format)
	}
	return p, nil
}

// Format parses the pcm_<rate> output format. ElevenLabs PCM is mono.
func (p *Provider) Format() audio.Format {
	rate, ok := strings.CutPrefix(p.format, "pcm_")
	if !ok {
		return audio.Format{}
	}
	n, err := strconv.Atoi(rate)
	if err != nil {
		return audio.Format{}
	}
	return audio.Format{SampleRate: n, Channels: 1}
}

// ── wire messages ──

// inputMessage is one client frame. The first frame carries the voice
// settings; an empty Text ends the input.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// settingsFor maps the profile's rate onto the ElevenLabs speed range.
func settingsFor(v types.VoiceProfile) *voiceSettings {
	v = v.WithDefaults()
	return &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: min(max(v.Rate, 0.7), 1.2)}
}

func (p *Provider) streamURL(voiceID string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else {
		u.Scheme = "wss"
	}
	u = u.JoinPath("v1", "text-to-speech", voiceID, "stream-input")
	u.RawQuery = url.Values{"model_id": {p.model}, "output_format": {p.format}}.Encode()
	return u.String(), nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		voice.ID = p.voice
	}
	if voice.ID == "" {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", tts.ErrVoiceNotFound)
	}
	target, err := p.streamURL(voice.ID)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: stream url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: p.client,
		HTTPHeader: http.Header{apiKeyHeader: {p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	s := &synthesis{conn: conn, voice: voice.ID, out: make(chan []byte, 64), done: make(chan struct{})}
	if err := s.send(ctx, inputMessage{Text: " ", VoiceSettings: settingsFor(voice)}); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("elevenlabs: init stream: %w", err)
	}
	go s.receive(ctx)
	go s.transmit(ctx, text)
	return s.out, nil
}

// synthesis is one open stream-input connection.
type synthesis struct {
	conn  *websocket.Conn
	voice string
	out   chan []byte
	// done closes when the server finished or the read side failed.
	done chan struct{}
}

func (s *synthesis) send(ctx context.Context, m inputMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, b)
}

// receive decodes audio frames into out until the final frame.
func (s *synthesis) receive(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		var m outputMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		if m.Error != "" {
			slog.Warn("elevenlabs: synthesis failed", "voice", s.voice, "error", m.Error, "message", m.Message)
			return
		}
		if pcm, err := base64.StdEncoding.DecodeString(m.Audio); err == nil && len(pcm) > 0 {
			select {
			case s.out <- pcm:
			case <-ctx.Done():
				return
			}
		}
		if m.IsFinal {
			return
		}
	}
}

// transmit forwards text fragments, then ends the input and waits for the
// read side before closing the connection.
func (s *synthesis) transmit(ctx context.Context, text <-chan string) {
	defer s.conn.Close(websocket.StatusNormalClosure, "")
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				if s.send(ctx, inputMessage{}) == nil {
					<-s.done
				}
				return
			}
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				continue
			}
			if s.send(ctx, inputMessage{Text: fragment + " ", Flush: true}) != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ── voice catalogue ──

type voiceList struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices available to the API key. Labels and the
// voice category end up in the profile metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set(apiKeyHeader, p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %s", resp.Status)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	out := make([]types.VoiceProfile, 0, len(list.Voices))
	for _, v := range list.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, types.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}
