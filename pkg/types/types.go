// Package types holds the value types shared by the speech and language
// provider packages, so that stt, tts and llm implementations do not import
// each other.
package types

import "time"

// Transcript is a speech-to-text result. Partial and final results share
// the type.
type Transcript struct {
	// Text is the recognised utterance.
	Text string

	// IsFinal marks an authoritative result.
	IsFinal bool

	// Confidence is in [0, 1]. Zero when the provider does not report one.
	Confidence float64

	// Words holds per-word detail when the provider reports it.
	Words []WordDetail

	// Timestamp is the utterance start relative to stream start.
	Timestamp time.Duration

	// Duration is the utterance length.
	Duration time.Duration
}

// WordDetail is per-word recognition metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost biases recognition towards a phrase, e.g. a room name.
type KeywordBoost struct {
	Keyword string

	// Boost is provider specific. Zero lets the provider choose.
	Boost float64
}

// VoiceProfile selects and shapes a synthesis voice.
type VoiceProfile struct {
	// ID is the provider's voice identifier. Empty selects the provider
	// default.
	ID string

	// Name is the display name.
	Name string

	// Provider names the TTS backend the voice belongs to.
	Provider string

	// Language is a BCP-47 tag such as "en-US".
	Language string

	// Rate is the speaking-rate multiplier (1.0 = normal).
	Rate float64

	// Pitch is the pitch multiplier (1.0 = normal).
	Pitch float64

	// Volume is the output gain in [0, 1].
	Volume float64

	// Metadata holds provider-specific attributes.
	Metadata map[string]string
}

// Default voice shaping for spoken responses.
const (
	DefaultRate   = 0.9
	DefaultPitch  = 1.0
	DefaultVolume = 0.8
)

// WithDefaults returns v with zero Rate, Pitch and Volume replaced by the
// response defaults.
func (v VoiceProfile) WithDefaults() VoiceProfile {
	if v.Rate == 0 {
		v.Rate = DefaultRate
	}
	if v.Pitch == 0 {
		v.Pitch = DefaultPitch
	}
	if v.Volume == 0 {
		v.Volume = DefaultVolume
	}
	return v
}

// Message is one turn of a language-model conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	Content string
}
