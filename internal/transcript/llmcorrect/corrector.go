// Package llmcorrect asks a language model to repair a transcript against
// the vocabulary of a home.
//
// The model returns a JSON document with the corrected text and the
// substitutions it claims to have made. Only substitutions that are both
// declared and made of vocabulary words survive verification; every other
// change is reverted. An unparseable answer leaves the text unchanged.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/types"
)

const defaultTemperature = 0.1

const systemPrompt = `You repair speech-recognition transcripts of smart-home voice commands.

Fix only words that are misheard versions of the vocabulary below: room names, appliance names and command phrases.
Do not rephrase the command, do not add or remove instructions, and leave every other word as it is.
If you are not sure, change nothing.

Vocabulary:
%s
Answer with a single JSON object and nothing else:
{"corrected_text": "<full transcript>", "corrections": [{"original": "<heard>", "corrected": "<vocabulary phrase>", "confidence": <0.0-1.0>}]}`

// Correction is one substitution reported by the model.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type answer struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(v float64) Option {
	return func(c *Corrector) { c.temperature = v }
}

// Corrector is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a Corrector on p.
func New(p llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{llm: p, temperature: defaultTemperature}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct asks the model to repair text. phrases is the vocabulary; suspects
// are words the recogniser was unsure about and are pointed out to the
// model. Provider errors are returned; a malformed answer is not an error.
func (c *Corrector) Correct(ctx context.Context, text string, phrases, suspects []string) (string, []Correction, error) {
	if len(phrases) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	user := "Transcript: " + text
	if len(suspects) > 0 {
		user += "\nUncertain words: " + strings.Join(suspects, ", ")
	}
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildPrompt(phrases),
		Temperature:  c.temperature,
		Messages:     []types.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}

	corrected, declared, ok := parseAnswer(resp.Content)
	if !ok || corrected == "" {
		return text, nil, nil
	}
	out, accepted := verify(text, corrected, declared, vocabularyTokens(phrases))
	return out, accepted, nil
}

func buildPrompt(phrases []string) string {
	var sb strings.Builder
	for _, p := range phrases {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPrompt, sb.String())
}

func parseAnswer(content string) (string, []Correction, bool) {
	var a answer
	if err := json.Unmarshal([]byte(stripFences(content)), &a); err != nil {
		return "", nil, false
	}
	out := make([]Correction, 0, len(a.Corrections))
	for _, c := range a.Corrections {
		if c.Original == "" || strings.EqualFold(c.Original, c.Corrected) {
			continue
		}
		out = append(out, Correction{Original: c.Original, Corrected: c.Corrected, Confidence: c.Confidence})
	}
	return strings.TrimSpace(a.CorrectedText), out, true
}

// stripFences removes a markdown code fence around the JSON answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		s = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	}
	return strings.TrimSpace(s)
}

func vocabularyTokens(phrases []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range phrases {
		for _, tok := range strings.Fields(strings.ToLower(p)) {
			set[tok] = struct{}{}
		}
	}
	return set
}
