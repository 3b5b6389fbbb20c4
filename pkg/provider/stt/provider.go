// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider opens a SessionHandle that accepts raw 16-bit PCM and emits
// two streams of Transcript values: low-latency partials and committed
// finals. The voice capture stage reads the first non-empty final and then
// closes the session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/ander/pkg/types"
)

// ErrNotSupported is returned by optional session features a backend does
// not implement, such as mid-session keyword updates.
var ErrNotSupported = errors.New("stt: not supported")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Capture always delivers
	// 16000.
	SampleRate int

	// Channels is the number of interleaved channels. Capture always
	// delivers mono.
	Channels int

	// Language is the BCP-47 tag for recognition (e.g. "en-US"). Empty lets
	// the provider auto-detect if it can.
	Language string

	// Keywords are vocabulary hints, typically the command keywords and the
	// room and appliance names of the owner's home.
	Keywords []types.KeywordBoost
}

// SessionHandle is an open transcription session.
//
// Callers must call Close when done. Close flushes pending audio, delivers
// any remaining finals and then closes both channels; it is safe to call
// more than once.
type SessionHandle interface {
	// SendAudio queues a PCM chunk in the agreed format. It returns an error
	// after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords replaces the keyword hints mid-session. Backends without
	// support return an error wrapping ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a session ready to accept audio immediately. The
	// caller owns the handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
