package phonetic_test

import (
	"testing"

	"github.com/MrWong99/ander/internal/transcript/phonetic"
)

var words = []string{"kitchen", "dispenser", "socket", "bedroom", "curtains"}

func TestMatch_Misspellings(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		token string
		want  string
	}{
		{"dispencer", "dispenser"},
		{"kitchin", "kitchen"},
		{"Bedroom", "bedroom"},
		{"dispenser", "dispenser"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			t.Parallel()
			got, score, ok := m.Match(tt.token, words)
			if !ok || got != tt.want {
				t.Fatalf("Match(%q) = %q, %v, want %q", tt.token, got, ok, tt.want)
			}
			if score < phonetic.DefaultPhoneticThreshold {
				t.Errorf("score = %f", score)
			}
		})
	}
}

func TestMatch_ExactScoresOne(t *testing.T) {
	t.Parallel()
	if _, score, ok := phonetic.New().Match("socket", words); !ok || score != 1 {
		t.Fatalf("score = %f, ok = %v", score, ok)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, tok := range []string{"hello", "weather", "", "   "} {
		got, score, ok := m.Match(tok, words)
		if ok {
			t.Errorf("Match(%q) matched %q", tok, got)
		}
		if got != tok || score != 0 {
			t.Errorf("Match(%q) = %q, %f; want input unchanged and 0", tok, got, score)
		}
	}
}

func TestMatch_EmptyVocabulary(t *testing.T) {
	t.Parallel()
	if _, _, ok := phonetic.New().Match("kitchen", nil); ok {
		t.Error("empty vocabulary must never match")
	}
}

func TestMatch_StricterThresholdRejects(t *testing.T) {
	t.Parallel()

	m := phonetic.New(phonetic.WithPhoneticThreshold(0.999), phonetic.WithFuzzyThreshold(0.999))
	if got, _, ok := m.Match("kitchin", words); ok {
		t.Errorf("matched %q despite near-exact thresholds", got)
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	idx := phonetic.NewIndex([]string{" Kitchen ", "", "socket"})
	if idx.Len() != 2 {
		t.Fatalf("Len = %d, want 2", idx.Len())
	}
	if got, _, ok := phonetic.New().MatchIndex("kitchin", idx); !ok || got != "kitchen" {
		t.Errorf("MatchIndex = %q, %v", got, ok)
	}
}
