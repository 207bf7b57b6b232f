package metrics

import (
	"math"
	"testing"
)

func TestBLEUPerfectMatch(t *testing.T) {
	hyps := []string{"the cat sat on the mat", "hello world this is fine"}
	refs := []string{"the cat sat on the mat", "hello world this is fine"}
	got := BLEU(hyps, refs)
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("identical corpus should score 100, got %g", got)
	}
}

func TestBLEUNoOverlap(t *testing.T) {
	got := BLEU([]string{"aaa bbb ccc ddd"}, []string{"www xxx yyy zzz"})
	if got != 0 {
		t.Fatalf("disjoint corpus should score 0, got %g", got)
	}
}

func TestBLEUBrevityPenalty(t *testing.T) {
	ref := []string{"one two three four five six seven eight"}
	full := BLEU([]string{"one two three four five six seven eight"}, ref)
	short := BLEU([]string{"one two three four"}, ref)
	if short <= 0 {
		t.Fatalf("prefix hypothesis should still score > 0, got %g", short)
	}
	if short >= full {
		t.Fatalf("short hypothesis %g should score below full match %g", short, full)
	}
}

func TestBLEUIsCorpusLevel(t *testing.T) {
	// A sentence with no 4-gram match contributes zero at the sentence
	// level, but corpus-level counting still produces a nonzero score when
	// the other sentence matches.
	hyps := []string{"the quick brown fox jumps", "a b"}
	refs := []string{"the quick brown fox jumps", "c d"}
	if got := BLEU(hyps, refs); got <= 0 {
		t.Fatalf("corpus-level score should be positive, got %g", got)
	}
}

func TestNgramCountsKeepTokenBoundaries(t *testing.T) {
	a := ngramCounts([]string{"a", "bc"}, 2)
	b := ngramCounts([]string{"ab", "c"}, 2)
	for g := range a {
		if _, ok := b[g]; ok {
			t.Fatalf("bigram %q collides across different token boundaries", g)
		}
	}
}

func TestBLEUMismatchedLengthsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on mismatched corpus sizes")
		}
	}()
	BLEU([]string{"a"}, []string{"a", "b"})
}

func TestTokenize13aSplitsPunctuation(t *testing.T) {
	got := Tokenize13a("Hello, world!")
	want := []string{"Hello", ",", "world", "!"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
