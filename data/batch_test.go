package data

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// wordEncoder maps whitespace tokens to sequential ids, good enough to
// exercise the pipeline without a real tokenizer.
type wordEncoder struct {
	vocab map[string]int
}

func newWordEncoder() *wordEncoder {
	return &wordEncoder{vocab: make(map[string]int)}
}

func (e *wordEncoder) Encode(text string, maxLen int) ([]int, error) {
	var ids []int
	for _, w := range strings.Fields(text) {
		id, ok := e.vocab[w]
		if !ok {
			id = len(e.vocab) + 1
			e.vocab[w] = id
		}
		ids = append(ids, id)
	}
	if maxLen > 0 && len(ids) > maxLen {
		ids = ids[:maxLen]
	}
	return ids, nil
}

func TestTaskPrefix(t *testing.T) {
	p := Preprocessor{SourceLang: "en", TargetLang: "de"}
	if got := p.TaskPrefix(); got != "translate en to de: " {
		t.Fatalf("prefix: got %q", got)
	}
}

func TestTokenizePairsAppliesPrefixToSourceOnly(t *testing.T) {
	enc := newWordEncoder()
	p := Preprocessor{Tokenizer: enc, SourceLang: "en", TargetLang: "de", MaxLen: 16}
	pairs, err := p.TokenizePairs([]Example{{Source: "hello", Target: "hallo"}})
	if err != nil {
		t.Fatal(err)
	}
	// "translate en to de: hello" -> 5 tokens; target -> 1 token
	if len(pairs[0].SourceIDs) != 5 {
		t.Fatalf("source ids: got %d, want 5", len(pairs[0].SourceIDs))
	}
	if len(pairs[0].TargetIDs) != 1 {
		t.Fatalf("target ids: got %d, want 1", len(pairs[0].TargetIDs))
	}
}

func TestCollatePadsToLongest(t *testing.T) {
	const padID = 0
	b := Collate([]Pair{
		{SourceIDs: []int{1, 2, 3}, TargetIDs: []int{7}},
		{SourceIDs: []int{4}, TargetIDs: []int{8, 9}},
	}, padID)

	if b.Size != 2 {
		t.Fatalf("size: got %d", b.Size)
	}
	if len(b.InputIDs[1]) != 3 || b.InputIDs[1][1] != padID {
		t.Fatalf("short source not padded: %v", b.InputIDs[1])
	}
	if !b.SourcePad[1][1] || !b.SourcePad[1][2] {
		t.Fatalf("source pad mask wrong: %v", b.SourcePad[1])
	}
	if b.SourcePad[0][0] || b.SourcePad[0][2] {
		t.Fatalf("real tokens marked as padding: %v", b.SourcePad[0])
	}
	if len(b.Labels[0]) != 2 || !b.LabelsPad[0][1] {
		t.Fatalf("short target not padded: %v %v", b.Labels[0], b.LabelsPad[0])
	}
}

func somePairs(n int) []Pair {
	pairs := make([]Pair, n)
	for i := range pairs {
		pairs[i] = Pair{SourceIDs: []int{i + 1}, TargetIDs: []int{i + 1}}
	}
	return pairs
}

func TestBatchIteratorSizesAndEOF(t *testing.T) {
	it := NewBatchIterator(somePairs(7), 3, 0, false, 0)
	if got := it.StepsPerEpoch(); got != 3 {
		t.Fatalf("steps per epoch: got %d, want 3", got)
	}

	var sizes []int
	for {
		b, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if b.Size > 3 {
			t.Fatalf("batch size %d exceeds limit", b.Size)
		}
		sizes = append(sizes, b.Size)
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("batch sizes: got %v, want [3 3 1]", sizes)
	}

	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("exhausted iterator should keep returning EOF, got %v", err)
	}
}

func TestBatchIteratorResetRestartsEpoch(t *testing.T) {
	it := NewBatchIterator(somePairs(4), 2, 0, false, 0)
	for {
		if _, err := it.Next(); errors.Is(err, io.EOF) {
			break
		}
	}
	it.Reset()
	b, err := it.Next()
	if err != nil {
		t.Fatalf("after reset: %v", err)
	}
	// order preserved: no shuffle
	if b.InputIDs[0][0] != 1 {
		t.Fatalf("unshuffled iterator changed order: %v", b.InputIDs)
	}
}

func TestBatchIteratorShuffleIsSeeded(t *testing.T) {
	a := NewBatchIterator(somePairs(64), 8, 0, true, 7)
	b := NewBatchIterator(somePairs(64), 8, 0, true, 7)
	ba, _ := a.Next()
	bb, _ := b.Next()
	for i := range ba.InputIDs {
		if ba.InputIDs[i][0] != bb.InputIDs[i][0] {
			t.Fatalf("same seed produced different order at %d", i)
		}
	}
}
