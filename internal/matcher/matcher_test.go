package matcher_test

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/matcher"
)

func cmd(name string, keywords ...string) command.Command {
	return command.Command{Name: name, Keywords: keywords, Response: name, Enabled: true}
}

func defaults(t *testing.T) []command.Command {
	t.Helper()
	cmds, err := command.Defaults("u1")
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	return cmds
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transcript string
		keyword    string
		want       float64
	}{
		{"turn on all lights", "turn on all lights", 1},
		{"turn on all lights please", "turn on all lights", 0.8},
		{"lights", "turn on all lights", 0.25},
		{"banana", "turn on all lights", 0},
		// Containment counts in either direction.
		{"lights light", "light", 1},
		{"turn on", "turn", 0.5},
		{"set {room} lights on", "set {room} lights on", 1},
		{"set kitchen lights on", "set {room} lights on", 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.transcript+"|"+tt.keyword, func(t *testing.T) {
			t.Parallel()
			got := matcher.Similarity(tt.transcript, tt.keyword)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.transcript, tt.keyword, got, tt.want)
			}
		})
	}
}

func TestResolve_ExactKeyword(t *testing.T) {
	t.Parallel()

	cmds := defaults(t)
	got, ok := matcher.Resolve("turn on all lights", cmds)
	if !ok {
		t.Fatal("Resolve: no match for exact keyword")
	}
	if got.Name != "turn_on_all_lights" {
		t.Fatalf("Resolve = %q, want turn_on_all_lights", got.Name)
	}

	m, _ := matcher.New().Resolve("Turn On All Lights", cmds)
	if m.Score != 1 {
		t.Errorf("Score = %v, want 1", m.Score)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	t.Parallel()

	cmds := defaults(t)
	for _, tr := range []string{"banana", "", "   ", "xylophone quartet"} {
		if got, ok := matcher.Resolve(tr, cmds); ok {
			t.Errorf("Resolve(%q) = %q, want no match", tr, got.Name)
		}
	}
}

func TestResolve_ThresholdIsStrict(t *testing.T) {
	t.Parallel()

	// 7 of 10 tokens match: score is exactly 0.7 and must be rejected.
	kw := "a1 a2 a3 a4 a5 a6 a7 a8 a9 b10"
	transcript := "a1 a2 a3 a4 a5 a6 a7 x y z"
	if s := matcher.Similarity(transcript, kw); math.Abs(s-0.7) > 1e-9 {
		t.Fatalf("setup: score = %v", s)
	}
	if _, ok := matcher.Resolve(transcript, []command.Command{cmd("c", kw)}); ok {
		t.Fatal("score equal to threshold was accepted")
	}
}

func TestResolve_TieGoesToFirst(t *testing.T) {
	t.Parallel()

	cmds := []command.Command{cmd("first", "lock the door"), cmd("second", "lock the door")}
	got, ok := matcher.Resolve("lock the door", cmds)
	if !ok || got.Name != "first" {
		t.Fatalf("Resolve = %q ok=%v, want first", got.Name, ok)
	}
}

func TestResolve_SkipsFallbackDisabledAndBlank(t *testing.T) {
	t.Parallel()

	fallback := cmd("_admin_didnt_understand_", "hello there")
	fallback.Category = command.CategoryAdmin
	disabled := cmd("off", "hello there")
	disabled.Enabled = false
	blank := cmd("blank", "", "   ")
	empty := cmd("empty")

	if got, ok := matcher.Resolve("hello there", []command.Command{fallback, disabled, blank, empty}); ok {
		t.Fatalf("Resolve = %q, want no match", got.Name)
	}
}

func TestWithThreshold(t *testing.T) {
	t.Parallel()

	m := matcher.New(matcher.WithThreshold(0.2))
	if _, ok := m.Resolve("lights", []command.Command{cmd("c", "turn on all lights")}); !ok {
		t.Fatal("lowered threshold did not accept 0.25")
	}
	if got := matcher.New(matcher.WithThreshold(5)).Threshold(); got != matcher.DefaultThreshold {
		t.Fatalf("out-of-range threshold applied: %v", got)
	}
}

// TestResolve_Property checks that any returned command beats the threshold
// and scores at least as high as every other command.
func TestResolve_Property(t *testing.T) {
	t.Parallel()

	cmds := defaults(t)
	vocab := []string{"turn", "on", "off", "all", "lights", "living", "room", "kitchen", "lock", "door", "mode", "away", "banana", "the", "sockets", "ac"}
	r := rand.New(rand.NewPCG(1, 2))
	m := matcher.New()

	bestScore := func(c command.Command, tr string) float64 {
		best := 0.0
		for _, kw := range c.Keywords {
			best = max(best, matcher.Similarity(tr, strings.ToLower(kw)))
		}
		return best
	}

	for range 500 {
		n := 1 + r.IntN(6)
		words := make([]string, n)
		for i := range words {
			words[i] = vocab[r.IntN(len(vocab))]
		}
		tr := strings.Join(words, " ")

		got, ok := m.Resolve(tr, cmds)
		if !ok {
			continue
		}
		if got.Score <= matcher.DefaultThreshold {
			t.Fatalf("Resolve(%q) returned score %v", tr, got.Score)
		}
		for _, c := range cmds {
			if !c.Matchable() {
				continue
			}
			if s := bestScore(c, tr); s > got.Score+1e-12 {
				t.Fatalf("Resolve(%q) = %q (%v) but %q scores %v", tr, got.Command.Name, got.Score, c.Name, s)
			}
		}
	}
}
