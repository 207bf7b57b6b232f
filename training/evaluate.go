// Package training drives the fine-tuning loop: batching, learning-rate
// scheduling, periodic evaluation and checkpointing.
package training

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/transformer_mt/data"
	"github.com/transformer_mt/metrics"
	"github.com/transformer_mt/transformer"
)

// Generator produces target ids for one source sequence.
type Generator interface {
	Generate(srcIDs []int, srcPad []bool, opt transformer.GenerateOptions) ([]int, error)
}

// TextDecoder turns token ids back into text, dropping special tokens.
type TextDecoder interface {
	Decode(ids []int) string
}

// Evaluator scores the model on a held-out set with corpus BLEU.
// Hypotheses and references both pass through the same tokenizer
// round-trip so the comparison is symmetric.
type Evaluator struct {
	Model     Generator
	Tokenizer TextDecoder
	Pairs     []data.Pair
	Options   transformer.GenerateOptions
	Logger    *log.Logger
}

// Run translates every validation example and returns a record with the
// corpus BLEU and the mean generated length.
func (e *Evaluator) Run(ctx context.Context, step int) (metrics.Record, error) {
	hyps := make([]string, 0, len(e.Pairs))
	refs := make([]string, 0, len(e.Pairs))
	totalLen := 0

	for i, pair := range e.Pairs {
		if err := ctx.Err(); err != nil {
			return metrics.Record{}, err
		}
		pad := make([]bool, len(pair.SourceIDs))
		ids, err := e.Model.Generate(pair.SourceIDs, pad, e.Options)
		if err != nil {
			return metrics.Record{}, fmt.Errorf("evaluate example %d: %w", i, err)
		}
		totalLen += len(ids)
		hyps = append(hyps, e.Tokenizer.Decode(ids))
		refs = append(refs, e.Tokenizer.Decode(pair.TargetIDs))
	}

	values := map[string]float64{
		"bleu": metrics.BLEU(hyps, refs),
	}
	if len(e.Pairs) > 0 {
		values["generation_length"] = float64(totalLen) / float64(len(e.Pairs))
	}
	if e.Logger != nil {
		e.Logger.Info("evaluation", "step", step, "bleu", values["bleu"], "examples", len(e.Pairs))
		if len(e.Pairs) > 0 {
			e.Logger.Info("evaluation sample",
				"input", e.Tokenizer.Decode(e.Pairs[0].SourceIDs),
				"hypothesis", hyps[0],
				"reference", refs[0])
		}
	}
	return metrics.NewRecord(step, values), nil
}
