package transcript

import (
	"slices"
	"strings"

	"github.com/MrWong99/ander/pkg/types"
)

// Vocabulary is the set of phrases a home understands: command keywords,
// room names and appliance names. The zero value is empty.
type Vocabulary struct {
	phrases []string
	tokens  map[string]struct{}
}

// NewVocabulary normalises phrases to lower case, removes the braces of
// keyword placeholders and drops duplicates while keeping the first-seen
// order.
func NewVocabulary(phrases ...string) Vocabulary {
	v := Vocabulary{tokens: make(map[string]struct{})}
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		p = normalisePhrase(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		v.phrases = append(v.phrases, p)
		for _, tok := range strings.Fields(p) {
			v.tokens[tok] = struct{}{}
		}
	}
	return v
}

func normalisePhrase(p string) string {
	p = strings.NewReplacer("{", "", "}", "").Replace(strings.ToLower(p))
	return strings.Join(strings.Fields(p), " ")
}

// Len returns the number of distinct phrases.
func (v Vocabulary) Len() int { return len(v.phrases) }

// Phrases returns the normalised phrases.
func (v Vocabulary) Phrases() []string { return slices.Clone(v.phrases) }

// Tokens returns every distinct word of every phrase, sorted.
func (v Vocabulary) Tokens() []string {
	out := make([]string, 0, len(v.tokens))
	for t := range v.tokens {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Known reports whether tok, compared in lower case, is a vocabulary word.
func (v Vocabulary) Known(tok string) bool {
	_, ok := v.tokens[strings.ToLower(tok)]
	return ok
}

// Keywords returns the phrases as recognition hints for a speech-to-text
// session.
func (v Vocabulary) Keywords() []types.KeywordBoost {
	out := make([]types.KeywordBoost, len(v.phrases))
	for i, p := range v.phrases {
		out[i] = types.KeywordBoost{Keyword: p}
	}
	return out
}
