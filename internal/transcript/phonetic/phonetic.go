// Package phonetic aligns misheard words with the vocabulary of a home.
//
// A token is compared against every vocabulary word in two passes. Words
// whose Double Metaphone codes overlap with the token are phonetic
// candidates and are accepted at the phonetic threshold. Without a phonetic
// candidate, plain Jaro-Winkler similarity must reach the stricter fuzzy
// threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	DefaultPhoneticThreshold = 0.80
	DefaultFuzzyThreshold    = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the Jaro-Winkler score a phonetic candidate
// needs. Non-positive values are ignored.
func WithPhoneticThreshold(v float64) Option {
	return func(m *Matcher) {
		if v > 0 {
			m.phoneticThreshold = v
		}
	}
}

// WithFuzzyThreshold sets the Jaro-Winkler score a non-phonetic candidate
// needs. Non-positive values are ignored.
func WithFuzzyThreshold(v float64) Option {
	return func(m *Matcher) {
		if v > 0 {
			m.fuzzyThreshold = v
		}
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Index holds precomputed codes for a word list so that one transcript can
// be aligned without re-encoding the vocabulary for every token.
type Index struct {
	words []string
	codes [][2]string
}

// NewIndex lower-cases words and encodes them.
func NewIndex(words []string) *Index {
	idx := &Index{}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		p, s := matchr.DoubleMetaphone(w)
		idx.words = append(idx.words, w)
		idx.codes = append(idx.codes, [2]string{p, s})
	}
	return idx
}

// Len returns the number of indexed words.
func (idx *Index) Len() int { return len(idx.words) }

// Match finds the word in words that token most likely was meant to be.
// When matched is false, word is token unchanged and score is 0.
func (m *Matcher) Match(token string, words []string) (word string, score float64, matched bool) {
	return m.MatchIndex(token, NewIndex(words))
}

// MatchIndex is [Matcher.Match] against a prepared index.
func (m *Matcher) MatchIndex(token string, idx *Index) (word string, score float64, matched bool) {
	tok := strings.ToLower(strings.TrimSpace(token))
	if tok == "" || idx == nil || idx.Len() == 0 {
		return token, 0, false
	}
	tp, ts := matchr.DoubleMetaphone(tok)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for i, w := range idx.words {
		if w == tok {
			return w, 1, true
		}
		jw := matchr.JaroWinkler(tok, w, false)
		phon := overlaps(tp, ts, idx.codes[i])
		switch {
		case phon && jw >= m.phoneticThreshold:
			if !bestPhonetic || jw > bestScore {
				best, bestScore, bestPhonetic = w, jw, true
			}
		case !phon && !bestPhonetic && jw >= m.fuzzyThreshold && jw > bestScore:
			best, bestScore = w, jw
		}
	}
	if best == "" {
		return token, 0, false
	}
	return best, bestScore, true
}

// overlaps reports whether either code of the token equals either code of
// a word. Empty codes never match.
func overlaps(p, s string, codes [2]string) bool {
	for _, a := range [2]string{p, s} {
		if a == "" {
			continue
		}
		if a == codes[0] || a == codes[1] {
			return true
		}
	}
	return false
}
