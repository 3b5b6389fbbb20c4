package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/types"
)

// flushTimeout bounds the transcription of the trailing utterance on Close.
const flushTimeout = 30 * time.Second

// TranscribeFunc turns one complete utterance into text.
type TranscribeFunc func(ctx context.Context, c audio.Clip) (string, error)

// FormatOf returns the PCM format described by cfg, defaulting to 16 kHz
// mono.
func FormatOf(cfg StreamConfig) audio.Format {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = audio.STT.SampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// NewBatchSession adapts a batch engine to the streaming SessionHandle.
// Audio is cut into utterances by seg; every utterance is passed to fn and
// a non-empty result is emitted as a partial and a final with the same
// text. Close transcribes whatever is still buffered.
func NewBatchSession(ctx context.Context, seg *audio.Segmenter, fn TranscribeFunc) SessionHandle {
	s := &batchSession{
		seg:        seg,
		transcribe: fn,
		audioCh:    make(chan []byte, 256),
		partials:   make(chan types.Transcript, 64),
		finals:     make(chan types.Transcript, 64),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return s
}

// batchSession confines all segmenter state to the loop goroutine.
type batchSession struct {
	seg        *audio.Segmenter
	transcribe TranscribeFunc

	audioCh  chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var errSessionClosed = errors.New("stt: session is closed")

func (s *batchSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

func (s *batchSession) Partials() <-chan types.Transcript { return s.partials }
func (s *batchSession) Finals() <-chan types.Transcript   { return s.finals }

// SetKeywords is not available for batch engines.
func (s *batchSession) SetKeywords(_ []types.KeywordBoost) error {
	return fmt.Errorf("stt: set keywords: %w", ErrNotSupported)
}

func (s *batchSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *batchSession) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		select {
		case chunk := <-s.audioCh:
			s.push(ctx, chunk)
		case <-ctx.Done():
			s.flush()
			return
		case <-s.done:
			s.drain(ctx)
			s.flush()
			return
		}
	}
}

func (s *batchSession) push(ctx context.Context, chunk []byte) {
	if utt, ok := s.seg.Push(chunk); ok {
		s.emit(ctx, utt)
	}
}

// drain consumes audio queued before Close.
func (s *batchSession) drain(ctx context.Context) {
	for {
		select {
		case chunk := <-s.audioCh:
			s.push(ctx, chunk)
		default:
			return
		}
	}
}

// flush transcribes the trailing utterance on a fresh context; the caller
// context may already be cancelled.
func (s *batchSession) flush() {
	utt := s.seg.Flush()
	if len(utt) == 0 {
		return
	}
	fc, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	s.emit(fc, utt)
}

func (s *batchSession) emit(ctx context.Context, pcm []byte) {
	c := audio.Clip{PCM: pcm, Format: s.seg.Format}
	text, err := s.transcribe(ctx, c)
	if err != nil {
		slog.Warn("stt: transcription failed", "err", err, "audio", c.Duration())
		return
	}
	if text == "" {
		return
	}
	t := types.Transcript{Text: text, Duration: c.Duration()}

	select {
	case s.partials <- t:
	default:
	}
	t.IsFinal = true
	select {
	case s.finals <- t:
	default:
		slog.Warn("stt: finals buffer full, dropping transcript")
	}
}
