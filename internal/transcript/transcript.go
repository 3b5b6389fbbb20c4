// Package transcript corrects speech-to-text output against the vocabulary
// of one home before the transcript is matched to a command.
//
// Recognisers regularly mishear the words that matter most here: room
// names, appliance names and the keywords of custom commands. The
// [Pipeline] runs two optional stages:
//
//  1. Phonetic: unknown tokens are aligned to vocabulary tokens by Double
//     Metaphone codes and Jaro-Winkler similarity. In-process, no network.
//  2. LLM: a language model rewrites the transcript against the vocabulary.
//     Every change it makes is verified before it is accepted.
//
// Each applied substitution is recorded as a [Correction].
package transcript

import (
	"context"

	"github.com/MrWong99/ander/pkg/types"
)

// Correction is one substitution made by the pipeline.
type Correction struct {
	Original  string
	Corrected string

	// Confidence is the stage's confidence in [0, 1].
	Confidence float64

	// Method is "phonetic" or "llm".
	Method string
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Original is the transcript as the recogniser produced it.
	Original types.Transcript

	// Text is the corrected transcript text.
	Text string

	// Corrections lists the applied substitutions in order.
	Corrections []Correction
}

// Changed reports whether any substitution was applied.
func (r Result) Changed() bool { return len(r.Corrections) > 0 }

// Corrector rewrites a transcript against a vocabulary. Implementations must
// be safe for concurrent use.
type Corrector interface {
	Correct(ctx context.Context, t types.Transcript, vocab Vocabulary) (Result, error)
}
