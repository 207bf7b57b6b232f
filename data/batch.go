package data

import (
	"fmt"
	"io"
	"math/rand"
)

// Encoder is the slice of the tokenizer the pipeline needs.
type Encoder interface {
	Encode(text string, maxLen int) ([]int, error)
}

// Pair is one tokenized source/target example.
type Pair struct {
	SourceIDs []int
	TargetIDs []int
}

// Preprocessor tokenizes raw examples with the task prefix the original
// pretrained models expect ("translate <src> to <tgt>: ...").
type Preprocessor struct {
	Tokenizer  Encoder
	SourceLang string
	TargetLang string
	MaxLen     int
}

// TaskPrefix is prepended to every source sentence.
func (p Preprocessor) TaskPrefix() string {
	return fmt.Sprintf("translate %s to %s: ", p.SourceLang, p.TargetLang)
}

// TokenizePairs converts examples to token-id pairs, truncated to MaxLen.
func (p Preprocessor) TokenizePairs(examples []Example) ([]Pair, error) {
	prefix := p.TaskPrefix()
	pairs := make([]Pair, 0, len(examples))
	for i, ex := range examples {
		src, err := p.Tokenizer.Encode(prefix+ex.Source, p.MaxLen)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		tgt, err := p.Tokenizer.Encode(ex.Target, p.MaxLen)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		pairs = append(pairs, Pair{SourceIDs: src, TargetIDs: tgt})
	}
	return pairs, nil
}

// Batch is a fixed-size group of tokenized pairs padded to the longest
// source and target in the group. It is produced once, consumed by one
// training step, then discarded.
type Batch struct {
	InputIDs   [][]int  // (size x srcLen), padded with padID
	SourcePad  [][]bool // true where InputIDs is padding
	Labels     [][]int  // (size x tgtLen), padded with padID
	LabelsPad  [][]bool // true where Labels is padding
	Size       int
	PadTokenID int
}

// Collate pads a group of pairs into one Batch.
func Collate(pairs []Pair, padID int) *Batch {
	srcLen, tgtLen := 0, 0
	for _, p := range pairs {
		if len(p.SourceIDs) > srcLen {
			srcLen = len(p.SourceIDs)
		}
		if len(p.TargetIDs) > tgtLen {
			tgtLen = len(p.TargetIDs)
		}
	}
	b := &Batch{
		InputIDs:   make([][]int, len(pairs)),
		SourcePad:  make([][]bool, len(pairs)),
		Labels:     make([][]int, len(pairs)),
		LabelsPad:  make([][]bool, len(pairs)),
		Size:       len(pairs),
		PadTokenID: padID,
	}
	for i, p := range pairs {
		b.InputIDs[i], b.SourcePad[i] = padTo(p.SourceIDs, srcLen, padID)
		b.Labels[i], b.LabelsPad[i] = padTo(p.TargetIDs, tgtLen, padID)
	}
	return b
}

func padTo(ids []int, length, padID int) ([]int, []bool) {
	padded := make([]int, length)
	mask := make([]bool, length)
	copy(padded, ids)
	for i := len(ids); i < length; i++ {
		padded[i] = padID
		mask[i] = true
	}
	return padded, mask
}

// BatchIterator yields the batches of one epoch and can be restarted.
// Training iterators reshuffle on Reset; validation iterators keep order.
type BatchIterator struct {
	pairs     []Pair
	batchSize int
	padID     int
	shuffle   bool
	rng       *rand.Rand
	pos       int
}

func NewBatchIterator(pairs []Pair, batchSize, padID int, shuffle bool, seed int64) *BatchIterator {
	it := &BatchIterator{
		pairs:     append([]Pair(nil), pairs...),
		batchSize: batchSize,
		padID:     padID,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	if shuffle {
		it.reshuffle()
	}
	return it
}

// Next returns the next batch of the epoch, or io.EOF when exhausted.
// A batch never contains more than batchSize examples; the final batch of
// an epoch may be smaller.
func (it *BatchIterator) Next() (*Batch, error) {
	if it.pos >= len(it.pairs) {
		return nil, io.EOF
	}
	end := it.pos + it.batchSize
	if end > len(it.pairs) {
		end = len(it.pairs)
	}
	b := Collate(it.pairs[it.pos:end], it.padID)
	it.pos = end
	return b, nil
}

// Reset rewinds to the start of a fresh epoch.
func (it *BatchIterator) Reset() {
	it.pos = 0
	if it.shuffle {
		it.reshuffle()
	}
}

// StepsPerEpoch is the number of batches one epoch yields.
func (it *BatchIterator) StepsPerEpoch() int {
	if len(it.pairs) == 0 {
		return 0
	}
	return (len(it.pairs) + it.batchSize - 1) / it.batchSize
}

// Len is the number of examples behind the iterator.
func (it *BatchIterator) Len() int { return len(it.pairs) }

func (it *BatchIterator) reshuffle() {
	it.rng.Shuffle(len(it.pairs), func(i, j int) {
		it.pairs[i], it.pairs[j] = it.pairs[j], it.pairs[i]
	})
}
