// Package matcher resolves a transcript to the stored command whose keyword
// phrase overlaps it best.
//
// Scoring is token based. Both strings are split on single spaces and a
// transcript token counts as matched when it is a substring of some keyword
// token or contains one. The score is matches divided by the longer token
// count, so extra words on either side lower it. Only a score strictly above
// the threshold is accepted.
//
// When several commands reach the same best score the first one in the
// given order wins. That order is whatever the command store returns.
package matcher

import (
	"strings"

	"github.com/MrWong99/ander/internal/command"
)

// DefaultThreshold is the minimum score a match must exceed.
const DefaultThreshold = 0.7

// Match is the outcome of a successful [Matcher.Resolve].
type Match struct {
	Command command.Command
	Keyword string
	Score   float64
}

// Matcher scores transcripts against command keyword lists.
type Matcher struct {
	threshold float64
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithThreshold overrides [DefaultThreshold]. Values outside (0, 1) are ignored.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t < 1 {
			m.threshold = t
		}
	}
}

// New returns a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: DefaultThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Resolve returns the best-scoring command for transcript and true, or false
// when no keyword scores above the threshold. Disabled commands, fallback
// commands and blank keywords never contribute.
func (m *Matcher) Resolve(transcript string, commands []command.Command) (Match, bool) {
	t := strings.ToLower(transcript)
	if strings.TrimSpace(t) == "" {
		return Match{}, false
	}

	var (
		best  Match
		found bool
	)
	for _, c := range commands {
		if !c.Enabled || c.IsFallback() {
			continue
		}
		for _, kw := range c.Keywords {
			if strings.TrimSpace(kw) == "" {
				continue
			}
			score := Similarity(t, strings.ToLower(kw))
			if score > best.Score && score > m.threshold {
				best = Match{Command: c, Keyword: kw, Score: score}
				found = true
			}
		}
	}
	return best, found
}

// Resolve runs [Matcher.Resolve] with the default threshold.
func Resolve(transcript string, commands []command.Command) (command.Command, bool) {
	m, ok := New().Resolve(transcript, commands)
	return m.Command, ok
}

// Similarity scores transcript against keyword in [0, 1]. Braces of
// placeholder tokens are stripped from keyword before tokenising.
func Similarity(transcript, keyword string) float64 {
	words1 := strings.Split(transcript, " ")
	words2 := strings.Split(stripPlaceholders(keyword), " ")

	matches := 0
	for _, w1 := range words1 {
		for _, w2 := range words2 {
			if strings.Contains(w1, w2) || strings.Contains(w2, w1) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(max(len(words1), len(words2)))
}

func stripPlaceholders(s string) string {
	return strings.NewReplacer("{", "", "}", "").Replace(s)
}
