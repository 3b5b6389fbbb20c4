// Package speech renders spoken responses.
//
// A [Speaker] plays the pre-recorded audio of a command when one is
// available and falls back to text-to-speech synthesis otherwise. Only one
// utterance plays at a time: a new Speak interrupts the previous one.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/ander/internal/observe"
	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/tts"
	"github.com/MrWong99/ander/pkg/types"
)

// ErrSynthesisUnsupported is returned when a response has to be synthesized
// but no TTS provider is configured or synthesis fails.
var ErrSynthesisUnsupported = errors.New("speech: synthesis unavailable")

// maxAudioBytes caps a fetched recording.
const maxAudioBytes = 32 << 20

// Speaker plays responses on an [audio.Player].
type Speaker struct {
	player audio.Player
	tts    tts.Provider
	client *http.Client

	voiceMu sync.RWMutex
	voice   types.VoiceProfile

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64

	// playMu serialises playback so an interrupted utterance has released
	// the player before the next one starts.
	playMu sync.Mutex
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithTTS sets the synthesis provider. Without one, only recordings play.
func WithTTS(p tts.Provider) Option {
	return func(s *Speaker) { s.tts = p }
}

// WithVoice sets the voice profile. Zero fields take the response defaults.
func WithVoice(v types.VoiceProfile) Option {
	return func(s *Speaker) { s.voice = v }
}

// WithHTTPClient sets the client used to fetch recordings.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Speaker) { s.client = c }
}

// New returns a Speaker on player.
func New(player audio.Player, opts ...Option) *Speaker {
	s := &Speaker{player: player, client: http.DefaultClient}
	for _, o := range opts {
		o(s)
	}
	s.voice = s.voice.WithDefaults()
	return s
}

// Voice returns the effective voice profile.
func (s *Speaker) Voice() types.VoiceProfile {
	s.voiceMu.RLock()
	defer s.voiceMu.RUnlock()
	return s.voice
}

// SetVoice replaces the voice profile for subsequent utterances.
func (s *Speaker) SetVoice(v types.VoiceProfile) {
	s.voiceMu.Lock()
	s.voice = v.WithDefaults()
	s.voiceMu.Unlock()
}

// Speak stops any utterance in progress and then says text. When audioURL
// is set the recording it names is played instead; if it cannot be fetched,
// decoded or played, text is synthesized. Speak blocks until playback ends
// and returns ctx.Err() when interrupted.
func (s *Speaker) Speak(ctx context.Context, text, audioURL string) error {
	ctx, done := s.begin(ctx)
	defer done()

	s.playMu.Lock()
	defer s.playMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	if audioURL != "" {
		err := s.playRecording(ctx, audioURL)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observe.Logger(ctx).Warn("speech: recorded response failed, synthesizing", "url", audioURL, "err", err)
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.synthesize(ctx, text)
}

// Stop interrupts the utterance in progress, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// begin cancels the previous utterance and registers a new one.
func (s *Speaker) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

func (s *Speaker) playRecording(ctx context.Context, rawURL string) error {
	data, err := s.fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	clip, err := audio.Decode(data)
	if err != nil {
		return fmt.Errorf("speech: decode %s: %w", rawURL, err)
	}
	audio.Gain(clip.PCM, s.Voice().Volume)
	return s.player.Play(ctx, clip)
}

// fetch loads a recording from an http(s) URL, a file:// URL or a plain
// filesystem path.
func (s *Speaker) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("speech: parse audio url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("speech: fetch: %w", err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("speech: fetch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("speech: fetch %s: unexpected status %d", rawURL, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(rawURL)
	default:
		return nil, fmt.Errorf("speech: unsupported audio url scheme %q", u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("speech: read recording: %w", err)
	}
	return data, nil
}

func (s *Speaker) synthesize(ctx context.Context, text string) error {
	if s.tts == nil {
		return fmt.Errorf("speech: speak: %w", ErrSynthesisUnsupported)
	}
	voice := s.Voice()
	ch, err := s.tts.SynthesizeStream(ctx, tts.Text(text), voice)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speech: synthesize: %w: %w", ErrSynthesisUnsupported, err)
	}
	pcm := audio.Collect(ch)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pcm) == 0 {
		return fmt.Errorf("speech: synthesize: %w: provider returned no audio", ErrSynthesisUnsupported)
	}
	audio.Gain(pcm, voice.Volume)
	return s.player.Play(ctx, audio.Clip{PCM: pcm, Format: s.tts.Format()})
}
