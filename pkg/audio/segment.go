package audio

import "time"

const (
	// DefaultSilenceRMS is the level below which a chunk counts as silence.
	DefaultSilenceRMS = 300.0

	DefaultSilence      = 500 * time.Millisecond
	DefaultMaxUtterance = 10 * time.Second
)

// Segmenter cuts a PCM stream into utterances on trailing silence. Leading
// silence is discarded. It is used by batch STT engines that need whole
// utterances rather than a stream. Not safe for concurrent use.
type Segmenter struct {
	Format Format

	// SilenceRMS is the speech/silence boundary. Zero means DefaultSilenceRMS.
	SilenceRMS float64

	// Silence is the trailing silence that ends an utterance. Zero means
	// DefaultSilence.
	Silence time.Duration

	// MaxUtterance forces a cut on continuous speech. Zero means
	// DefaultMaxUtterance.
	MaxUtterance time.Duration

	buf       []byte
	speech    bool
	silentFor time.Duration
}

// Push adds a chunk. When the chunk completes an utterance, Push returns
// the utterance's PCM and true.
func (s *Segmenter) Push(chunk []byte) ([]byte, bool) {
	d := s.Format.Duration(len(chunk))

	if RMS(chunk) < s.threshold() {
		if !s.speech {
			return nil, false
		}
		s.buf = append(s.buf, chunk...)
		s.silentFor += d
		if s.silentFor >= s.silence() {
			return s.Flush(), true
		}
		return nil, false
	}

	s.speech = true
	s.silentFor = 0
	s.buf = append(s.buf, chunk...)
	if s.Format.Duration(len(s.buf)) >= s.maxUtterance() {
		return s.Flush(), true
	}
	return nil, false
}

// Flush returns whatever speech is buffered (nil if none) and resets.
func (s *Segmenter) Flush() []byte {
	var out []byte
	if s.speech {
		out = s.buf
	}
	s.buf, s.speech, s.silentFor = nil, false, 0
	return out
}

func (s *Segmenter) threshold() float64 {
	if s.SilenceRMS > 0 {
		return s.SilenceRMS
	}
	return DefaultSilenceRMS
}

func (s *Segmenter) silence() time.Duration {
	if s.Silence > 0 {
		return s.Silence
	}
	return DefaultSilence
}

func (s *Segmenter) maxUtterance() time.Duration {
	if s.MaxUtterance > 0 {
		return s.MaxUtterance
	}
	return DefaultMaxUtterance
}
