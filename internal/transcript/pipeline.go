package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/ander/internal/transcript/llmcorrect"
	"github.com/MrWong99/ander/internal/transcript/phonetic"
	"github.com/MrWong99/ander/pkg/types"
)

const (
	// minCorrectable is the shortest token the phonetic stage rewrites.
	// Shorter words ("on", "the", "off") are too ambiguous to align.
	minCorrectable = 4

	defaultLowConfidence = 0.6
)

// fillers are never rewritten, not even as half of a split word.
var fillers = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "on": {}, "off": {}, "in": {}, "of": {}, "to": {},
	"my": {}, "all": {}, "and": {}, "please": {}, "turn": {}, "switch": {},
}

func isFiller(tok string) bool {
	_, ok := fillers[strings.ToLower(tok)]
	return ok
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithPhonetic enables the phonetic stage.
func WithPhonetic(m *phonetic.Matcher) PipelineOption {
	return func(p *Pipeline) { p.phonetic = m }
}

// WithLLM enables the LLM stage.
func WithLLM(c *llmcorrect.Corrector) PipelineOption {
	return func(p *Pipeline) { p.llm = c }
}

// WithLLMOnLowConfidence restricts the LLM stage to transcripts the
// recogniser was unsure about: overall or any word confidence below
// threshold. Transcripts without confidence data always qualify.
func WithLLMOnLowConfidence(threshold float64) PipelineOption {
	return func(p *Pipeline) {
		p.onlyLowConfidence = true
		if threshold > 0 {
			p.lowConfidence = threshold
		}
	}
}

// Pipeline is the two-stage [Corrector]. Both stages are optional; with
// neither, Correct returns the text unchanged. Safe for concurrent use.
type Pipeline struct {
	phonetic          *phonetic.Matcher
	llm               *llmcorrect.Corrector
	onlyLowConfidence bool
	lowConfidence     float64
}

var _ Corrector = (*Pipeline)(nil)

// NewPipeline builds a Pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{lowConfidence: defaultLowConfidence}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enabled reports whether any stage is configured.
func (p *Pipeline) Enabled() bool { return p.phonetic != nil || p.llm != nil }

// Correct runs the configured stages. When the LLM stage fails, the result
// of the phonetic stage is returned together with the error.
func (p *Pipeline) Correct(ctx context.Context, t types.Transcript, vocab Vocabulary) (Result, error) {
	res := Result{Original: t, Text: strings.TrimSpace(t.Text)}
	if vocab.Len() == 0 || res.Text == "" {
		return res, nil
	}

	if p.phonetic != nil {
		res.Text, res.Corrections = p.alignPhonetic(res.Text, vocab)
	}

	if p.llm == nil || (p.onlyLowConfidence && !p.uncertain(t)) {
		return res, nil
	}
	text, fixes, err := p.llm.Correct(ctx, res.Text, vocab.Phrases(), p.suspects(t, vocab))
	if err != nil {
		return res, fmt.Errorf("transcript: llm stage: %w", err)
	}
	res.Text = text
	for _, f := range fixes {
		res.Corrections = append(res.Corrections, Correction{
			Original:   f.Original,
			Corrected:  f.Corrected,
			Confidence: f.Confidence,
			Method:     "llm",
		})
	}
	return res, nil
}

// alignPhonetic rewrites unknown tokens to vocabulary words. Two adjacent
// unknown tokens are first tried as one word, which repairs splits such as
// "dis penser".
func (p *Pipeline) alignPhonetic(text string, vocab Vocabulary) (string, []Correction) {
	idx := phonetic.NewIndex(vocab.Tokens())
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var fixes []Correction

	unknown := func(tok string) bool { return !vocab.Known(tok) && !isFiller(tok) }
	correctable := func(tok string) bool { return len(tok) >= minCorrectable && unknown(tok) }
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if i+1 < len(tokens) && unknown(tok) && unknown(tokens[i+1]) {
			joined := strings.ToLower(tok + tokens[i+1])
			if w, score, ok := p.phonetic.MatchIndex(joined, idx); ok {
				out = append(out, w)
				fixes = append(fixes, Correction{Original: tok + " " + tokens[i+1], Corrected: w, Confidence: score, Method: "phonetic"})
				i++
				continue
			}
		}
		if !correctable(tok) {
			out = append(out, tok)
			continue
		}
		if w, score, ok := p.phonetic.MatchIndex(tok, idx); ok {
			out = append(out, w)
			fixes = append(fixes, Correction{Original: tok, Corrected: w, Confidence: score, Method: "phonetic"})
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " "), fixes
}

func (p *Pipeline) uncertain(t types.Transcript) bool {
	if t.Confidence == 0 && len(t.Words) == 0 {
		return true
	}
	if t.Confidence > 0 && t.Confidence < p.lowConfidence {
		return true
	}
	for _, w := range t.Words {
		if w.Confidence < p.lowConfidence {
			return true
		}
	}
	return false
}

// suspects lists the low-confidence words that are not vocabulary words.
func (p *Pipeline) suspects(t types.Transcript, vocab Vocabulary) []string {
	var out []string
	for _, w := range t.Words {
		if w.Confidence < p.lowConfidence && !vocab.Known(w.Word) {
			out = append(out, w.Word)
		}
	}
	return out
}
