package llmcorrect

import "strings"

// hunk is a stretch of the two token sequences. Unchanged hunks have equal
// sides.
type hunk struct {
	from, to []string
	changed  bool
}

// align splits a and b into alternating unchanged and changed hunks along
// their longest common token subsequence.
func align(a, b []string) []hunk {
	// lcs[i][j] is the LCS length of a[i:] and b[j:].
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var (
		out          []hunk
		i, j         int
		pendA, pendB int
	)
	flush := func() {
		if i > pendA || j > pendB {
			out = append(out, hunk{from: a[pendA:i], to: b[pendB:j], changed: true})
		}
	}
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			flush()
			out = append(out, hunk{from: a[i : i+1], to: b[j : j+1]})
			i++
			j++
			pendA, pendB = i, j
		case lcs[i+1][j] >= lcs[i][j+1]:
			i++
		default:
			j++
		}
	}
	i, j = len(a), len(b)
	flush()
	return out
}

// verify keeps the changes between original and corrected that the model
// declared and that consist only of vocabulary words. Other changes are
// reverted.
func verify(original, corrected string, declared []Correction, vocab map[string]struct{}) (string, []Correction) {
	type pair struct{ from, to string }
	claims := make(map[pair]Correction, len(declared))
	for _, c := range declared {
		claims[pair{normalise(c.Original), normalise(c.Corrected)}] = c
	}

	var (
		out      []string
		accepted []Correction
	)
	for _, h := range align(strings.Fields(original), strings.Fields(corrected)) {
		if !h.changed {
			out = append(out, h.from...)
			continue
		}
		c, ok := claims[pair{normalise(strings.Join(h.from, " ")), normalise(strings.Join(h.to, " "))}]
		if ok && inVocabulary(h.to, vocab) {
			out = append(out, h.to...)
			accepted = append(accepted, c)
			continue
		}
		out = append(out, h.from...)
	}
	return strings.Join(out, " "), accepted
}

func inVocabulary(tokens []string, vocab map[string]struct{}) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if _, ok := vocab[normalise(t)]; !ok {
			return false
		}
	}
	return true
}

// normalise lower-cases s and trims trailing punctuation.
func normalise(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}
