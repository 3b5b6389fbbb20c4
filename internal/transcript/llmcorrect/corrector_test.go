package llmcorrect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/provider/llm/mock"
)

var phrases = []string{"kitchen", "dispenser socket", "turn on {dispenser}", "living room"}

func provider(content string) *mock.Provider {
	return &mock.Provider{Response: &llm.CompletionResponse{Content: content}}
}

func TestCorrect_AcceptsDeclaredVocabularyChange(t *testing.T) {
	t.Parallel()

	p := provider(`{"corrected_text": "turn on the dispenser socket", "corrections": [{"original": "dis penser", "corrected": "dispenser", "confidence": 0.9}]}`)
	got, corrections, err := New(p).Correct(context.Background(), "turn on the dis penser socket", phrases, []string{"penser"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "turn on the dispenser socket" {
		t.Errorf("text = %q", got)
	}
	if len(corrections) != 1 || corrections[0].Confidence != 0.9 {
		t.Errorf("corrections = %+v", corrections)
	}

	req := p.Requests()[0]
	if !strings.Contains(req.SystemPrompt, "- dispenser socket") {
		t.Errorf("prompt missing vocabulary:\n%s", req.SystemPrompt)
	}
	if msg := req.Messages[0].Content; !strings.Contains(msg, "dis penser") || !strings.Contains(msg, "Uncertain words: penser") {
		t.Errorf("user message = %q", msg)
	}
	if req.Temperature != defaultTemperature {
		t.Errorf("temperature = %v", req.Temperature)
	}
}

func TestCorrect_RevertsUndeclaredChanges(t *testing.T) {
	t.Parallel()

	// The model rewrote "switch" to "turn" without declaring it.
	p := provider(`{"corrected_text": "turn on the kitchen", "corrections": [{"original": "kitchin", "corrected": "kitchen", "confidence": 0.8}]}`)
	got, corrections, err := New(p).Correct(context.Background(), "switch on the kitchin", phrases, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "switch on the kitchen" {
		t.Errorf("text = %q, want only the declared fix", got)
	}
	if len(corrections) != 1 {
		t.Errorf("corrections = %+v", corrections)
	}
}

func TestCorrect_RejectsWordsOutsideVocabulary(t *testing.T) {
	t.Parallel()

	p := provider(`{"corrected_text": "open the garage", "corrections": [{"original": "garbage", "corrected": "garage", "confidence": 0.9}]}`)
	got, corrections, _ := New(p).Correct(context.Background(), "open the garbage", phrases, nil)
	if got != "open the garbage" || len(corrections) != 0 {
		t.Errorf("text = %q, corrections = %+v", got, corrections)
	}
}

func TestCorrect_MalformedAnswerLeavesText(t *testing.T) {
	t.Parallel()

	for _, content := range []string{"sure, here you go", `{"corrected_text": ""}`, ""} {
		got, corrections, err := New(provider(content)).Correct(context.Background(), "kitchin lights", phrases, nil)
		if err != nil || got != "kitchin lights" || corrections != nil {
			t.Errorf("%q: got %q, %+v, %v", content, got, corrections, err)
		}
	}
}

func TestCorrect_StripsCodeFence(t *testing.T) {
	t.Parallel()

	p := provider("```json\n{\"corrected_text\": \"kitchen lights\", \"corrections\": [{\"original\": \"kitchin\", \"corrected\": \"kitchen\", \"confidence\": 0.7}]}\n```")
	got, _, _ := New(p).Correct(context.Background(), "kitchin lights", phrases, nil)
	if got != "kitchen lights" {
		t.Errorf("text = %q", got)
	}
}

func TestCorrect_SkipsWithoutVocabulary(t *testing.T) {
	t.Parallel()

	p := provider(`{}`)
	got, _, err := New(p).Correct(context.Background(), "kitchin", nil, nil)
	if err != nil || got != "kitchin" {
		t.Fatalf("got %q, %v", got, err)
	}
	if len(p.Requests()) != 0 {
		t.Error("no vocabulary means no model call")
	}
}

func TestCorrect_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	got, _, err := New(&mock.Provider{Err: boom}, WithTemperature(0.3)).Correct(context.Background(), "kitchin", phrases, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got != "kitchin" {
		t.Errorf("text = %q, want original", got)
	}
}

func TestAlign(t *testing.T) {
	t.Parallel()

	hunks := align(strings.Fields("turn on the dis penser now"), strings.Fields("turn on the dispenser now please"))
	var changed []string
	for _, h := range hunks {
		if h.changed {
			changed = append(changed, strings.Join(h.from, " ")+"->"+strings.Join(h.to, " "))
		}
	}
	want := []string{"dis penser->dispenser", "->please"}
	if strings.Join(changed, "|") != strings.Join(want, "|") {
		t.Errorf("changed hunks = %q, want %q", changed, want)
	}
}
