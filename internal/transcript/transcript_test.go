package transcript_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/ander/internal/transcript"
	"github.com/MrWong99/ander/internal/transcript/llmcorrect"
	"github.com/MrWong99/ander/internal/transcript/phonetic"
	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/provider/llm/mock"
	"github.com/MrWong99/ander/pkg/types"
)

func homeVocabulary() transcript.Vocabulary {
	return transcript.NewVocabulary("Turn on {dispenser}", "kitchen", "dispenser socket", "Living Room", "kitchen")
}

// ---- Vocabulary ----

func TestVocabulary(t *testing.T) {
	t.Parallel()

	v := homeVocabulary()
	if v.Len() != 4 {
		t.Fatalf("Len = %d, want 4 (duplicate dropped)", v.Len())
	}
	if got := v.Phrases(); got[0] != "turn on dispenser" || got[3] != "living room" {
		t.Errorf("phrases = %q", got)
	}
	want := []string{"dispenser", "kitchen", "living", "on", "room", "socket", "turn"}
	if got := v.Tokens(); !slices.Equal(got, want) {
		t.Errorf("tokens = %q, want %q", got, want)
	}
	if !v.Known("KITCHEN") || v.Known("garage") {
		t.Error("Known mismatch")
	}
	if kw := v.Keywords(); len(kw) != 4 || kw[1].Keyword != "kitchen" {
		t.Errorf("keywords = %+v", kw)
	}
	var zero transcript.Vocabulary
	if zero.Len() != 0 || zero.Known("x") {
		t.Error("zero vocabulary must be empty")
	}
}

// ---- Phonetic stage ----

func TestPipeline_PhoneticMisspelling(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhonetic(phonetic.New()))
	res, err := p.Correct(context.Background(), types.Transcript{Text: "turn on the kitchin lights"}, homeVocabulary())
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "turn on the kitchen lights" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Corrections) != 1 || res.Corrections[0].Original != "kitchin" || res.Corrections[0].Method != "phonetic" {
		t.Errorf("corrections = %+v", res.Corrections)
	}
	if !res.Changed() {
		t.Error("Changed = false")
	}
}

func TestPipeline_PhoneticSplitWord(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhonetic(phonetic.New()))
	res, _ := p.Correct(context.Background(), types.Transcript{Text: "turn off the dis penser socket"}, homeVocabulary())
	if res.Text != "turn off the dispenser socket" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Corrections) != 1 || res.Corrections[0].Original != "dis penser" {
		t.Errorf("corrections = %+v", res.Corrections)
	}
}

func TestPipeline_NoStages(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline()
	if p.Enabled() {
		t.Error("Enabled = true without stages")
	}
	res, err := p.Correct(context.Background(), types.Transcript{Text: " kitchin "}, homeVocabulary())
	if err != nil || res.Text != "kitchin" || res.Changed() {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestPipeline_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	llmMock := &mock.Provider{}
	p := transcript.NewPipeline(transcript.WithPhonetic(phonetic.New()), transcript.WithLLM(llmcorrect.New(llmMock)))
	res, _ := p.Correct(context.Background(), types.Transcript{Text: "kitchin"}, transcript.Vocabulary{})
	if res.Text != "kitchin" || len(llmMock.Requests()) != 0 {
		t.Errorf("res = %+v, llm calls = %d", res, len(llmMock.Requests()))
	}
}

// ---- LLM stage ----

func TestPipeline_LLMOnlyWhenUncertain(t *testing.T) {
	t.Parallel()

	answer := `{"corrected_text": "living room lights on", "corrections": [{"original": "giving", "corrected": "living", "confidence": 0.8}]}`
	tests := []struct {
		name     string
		tr       types.Transcript
		wantCall bool
	}{
		{"confident", types.Transcript{Text: "giving room lights on", Confidence: 0.95, Words: []types.WordDetail{{Word: "giving", Confidence: 0.9}}}, false},
		{"unsure word", types.Transcript{Text: "giving room lights on", Confidence: 0.95, Words: []types.WordDetail{{Word: "giving", Confidence: 0.3}}}, true},
		{"unsure overall", types.Transcript{Text: "giving room lights on", Confidence: 0.4}, true},
		{"no confidence data", types.Transcript{Text: "giving room lights on"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &mock.Provider{Response: &llm.CompletionResponse{Content: answer}}
			p := transcript.NewPipeline(transcript.WithLLM(llmcorrect.New(m)), transcript.WithLLMOnLowConfidence(0.6))
			res, err := p.Correct(context.Background(), tt.tr, homeVocabulary())
			if err != nil {
				t.Fatal(err)
			}
			called := len(m.Requests()) == 1
			if called != tt.wantCall {
				t.Fatalf("llm called = %v, want %v", called, tt.wantCall)
			}
			if called && (res.Text != "living room lights on" || res.Corrections[0].Method != "llm") {
				t.Errorf("res = %+v", res)
			}
		})
	}
}

func TestPipeline_LLMErrorKeepsPhoneticResult(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	p := transcript.NewPipeline(
		transcript.WithPhonetic(phonetic.New()),
		transcript.WithLLM(llmcorrect.New(&mock.Provider{Err: boom})),
	)
	res, err := p.Correct(context.Background(), types.Transcript{Text: "kitchin lights"}, homeVocabulary())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if res.Text != "kitchen lights" {
		t.Errorf("text = %q, want phonetic result", res.Text)
	}
}
