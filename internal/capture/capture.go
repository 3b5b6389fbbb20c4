// Package capture turns one spoken command into a transcript.
//
// A [Service] opens a speech-to-text session, pumps the request audio into
// it and returns the first committed, non-empty transcript. Capture is
// bounded by a timeout and can be cancelled through the context; neither
// case is an error.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/types"
)

// ErrUnsupported is returned when no speech-to-text provider is configured.
var ErrUnsupported = errors.New("capture: speech recognition unavailable")

const (
	// DefaultTimeout bounds one capture.
	DefaultTimeout = 8 * time.Second

	// chunkDuration is the amount of audio sent to the provider per call.
	chunkDuration = 100 * time.Millisecond
)

// Status says how a capture ended.
type Status int

const (
	// Heard means a final transcript was received.
	Heard Status = iota

	// Silent means the audio ended without any recognised speech.
	Silent

	// TimedOut means the timeout passed before a final transcript.
	TimedOut

	// Stopped means the caller cancelled the capture.
	Stopped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Heard:
		return "heard"
	case Silent:
		return "silent"
	case TimedOut:
		return "timeout"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Request is one capture.
type Request struct {
	// Audio is raw 16-bit little-endian PCM in Format. It is read until EOF
	// or until a transcript arrives.
	Audio io.Reader

	// Format describes Audio. Zero means audio.STT.
	Format audio.Format

	// Keywords are recognition hints for the provider.
	Keywords []types.KeywordBoost
}

// Result is the outcome of a capture.
type Result struct {
	Status     Status
	Transcript types.Transcript
}

// Service captures commands through an STT provider.
type Service struct {
	provider stt.Provider
	timeout  time.Duration
	language string
}

// Option configures a [Service].
type Option func(*Service)

// WithTimeout overrides [DefaultTimeout]. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLanguage sets the recognition language passed to the provider.
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// New creates a Service. A nil provider is allowed; every capture then
// fails with [ErrUnsupported].
func New(p stt.Provider, opts ...Option) *Service {
	s := &Service{provider: p, timeout: DefaultTimeout}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Timeout returns the configured capture timeout.
func (s *Service) Timeout() time.Duration { return s.timeout }

// Capture runs one capture. Cancelling ctx ends it with [Stopped]; the
// timeout ends it with [TimedOut]. Provider failures are returned as
// errors.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	if s.provider == nil {
		return Result{}, ErrUnsupported
	}
	if req.Audio == nil {
		return Result{}, errors.New("capture: request has no audio")
	}
	format := req.Format
	if !format.Valid() {
		format = audio.STT
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	h, err := s.provider.StartStream(cctx, stt.StreamConfig{
		SampleRate: audio.STT.SampleRate,
		Channels:   audio.STT.Channels,
		Language:   s.language,
		Keywords:   req.Keywords,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: Stopped}, nil
		}
		return Result{}, fmt.Errorf("capture: start stream: %w", err)
	}
	// Close may flush buffered audio through the provider, so it runs off
	// the caller's path once a result is known.
	defer func() { go closeQuietly(h) }()

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- pump(cctx, h, req.Audio, format) }()

	finals := h.Finals()
	for {
		select {
		case tr, ok := <-finals:
			if !ok {
				return Result{Status: Silent}, nil
			}
			if strings.TrimSpace(tr.Text) == "" {
				continue
			}
			tr.Text = strings.TrimSpace(tr.Text)
			return Result{Status: Heard, Transcript: tr}, nil
		case err := <-pumpErr:
			if err != nil && cctx.Err() == nil {
				return Result{}, fmt.Errorf("capture: send audio: %w", err)
			}
			pumpErr = nil
		case <-cctx.Done():
			if ctx.Err() != nil {
				return Result{Status: Stopped}, nil
			}
			return Result{Status: TimedOut}, nil
		}
	}
}

// pump converts r into STT-format chunks and feeds them to h. At EOF it
// closes h so the provider commits whatever it heard.
func pump(ctx context.Context, h stt.SessionHandle, r io.Reader, format audio.Format) error {
	buf := make([]byte, chunkBytes(format))
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			// Keep whole frames; a trailing partial frame is dropped.
			frame := 2 * format.Channels
			n -= n % frame
			chunk := audio.Clip{Format: format, PCM: append([]byte(nil), buf[:n]...)}.Convert(audio.STT)
			if len(chunk.PCM) > 0 {
				if serr := h.SendAudio(chunk.PCM); serr != nil {
					return serr
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return h.Close()
		}
		if err != nil {
			return err
		}
	}
}

func chunkBytes(f audio.Format) int {
	n := int(float64(f.BytesPerSecond()) * chunkDuration.Seconds())
	frame := 2 * f.Channels
	return max(n-n%frame, frame)
}

func closeQuietly(h stt.SessionHandle) {
	if err := h.Close(); err != nil {
		slog.Debug("capture: close stt session", "err", err)
	}
}
