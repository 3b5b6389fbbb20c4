package app

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/ander/internal/config"
	"github.com/MrWong99/ander/internal/transcript"
	"github.com/MrWong99/ander/internal/transcript/llmcorrect"
	"github.com/MrWong99/ander/internal/transcript/phonetic"
	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/types"
)

// correctorSwitch is a [transcript.Corrector] whose pipeline can be rebuilt
// while sessions are running. A session uses the pipeline that was current
// when it started correcting.
type correctorSwitch struct {
	llm     llm.Provider
	current atomic.Pointer[transcript.Pipeline]
}

var _ transcript.Corrector = (*correctorSwitch)(nil)

func newCorrectorSwitch(p llm.Provider, cfg config.TranscriptConfig) *correctorSwitch {
	c := &correctorSwitch{llm: p}
	c.Configure(cfg)
	return c
}

// Configure rebuilds the pipeline from cfg. The phonetic stage runs when
// PhoneticThreshold is positive; the LLM stage runs when a provider is set.
func (c *correctorSwitch) Configure(cfg config.TranscriptConfig) {
	c.current.Store(buildPipeline(c.llm, cfg))
}

// Enabled reports whether any correction stage is active.
func (c *correctorSwitch) Enabled() bool { return c.current.Load().Enabled() }

// Correct implements [transcript.Corrector].
func (c *correctorSwitch) Correct(ctx context.Context, t types.Transcript, vocab transcript.Vocabulary) (transcript.Result, error) {
	return c.current.Load().Correct(ctx, t, vocab)
}

func buildPipeline(p llm.Provider, cfg config.TranscriptConfig) *transcript.Pipeline {
	var opts []transcript.PipelineOption
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, transcript.WithPhonetic(phonetic.New(phonetic.WithPhoneticThreshold(cfg.PhoneticThreshold))))
	}
	if p != nil {
		opts = append(opts, transcript.WithLLM(llmcorrect.New(p)))
		if cfg.LLMOnLowConfidence {
			opts = append(opts, transcript.WithLLMOnLowConfidence(cfg.LowConfidence))
		}
	}
	return transcript.NewPipeline(opts...)
}
