// Package mock provides test doubles for the stt package interfaces.
//
// Session.Finals is fed by the test; FinalOnClose lets a test model a batch
// engine that only commits its transcript when the audio ends.
//
//	sess := mock.NewSession()
//	sess.FinalsCh <- types.Transcript{Text: "lights on", IsFinal: true}
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/types"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a fresh NewSession is
	// returned on every call.
	Session *Session

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

// Session is a mock implementation of stt.SessionHandle whose channels are
// owned by the test until Close is called.
type Session struct {
	mu sync.Mutex

	PartialsCh chan types.Transcript
	FinalsCh   chan types.Transcript

	// FinalOnClose, when non-empty, is delivered on FinalsCh by Close before
	// the channels are closed.
	FinalOnClose string

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	audio      [][]byte
	keywords   [][]types.KeywordBoost
	closeCount int
	closed     bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan types.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan types.Transcript { return s.FinalsCh }

// SetKeywords records the call.
func (s *Session) SetKeywords(keywords []types.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, append([]types.KeywordBoost(nil), keywords...))
	return nil
}

// Close delivers FinalOnClose and closes both channels once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if s.closed {
		return nil
	}
	s.closed = true
	if s.FinalOnClose != "" {
		s.FinalsCh <- types.Transcript{Text: s.FinalOnClose, IsFinal: true}
	}
	close(s.PartialsCh)
	close(s.FinalsCh)
	return s.CloseErr
}

// Audio returns the chunks received so far, concatenated.
func (s *Session) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.audio {
		out = append(out, c...)
	}
	return out
}

// CloseCount returns how often Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
