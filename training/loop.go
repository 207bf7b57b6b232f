package training

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/transformer_mt/data"
	"github.com/transformer_mt/metrics"
	"github.com/transformer_mt/optimizations"
)

// Stepper consumes one batch and applies a single optimizer update.
type Stepper interface {
	TrainStep(batch *data.Batch, lr, weightDecay, gradClip float64) (loss, acc float64, err error)
}

// EvalFunc is called on the evaluation cadence and at the final step.
type EvalFunc func(ctx context.Context, step int) (metrics.Record, error)

// CheckpointFunc persists model parameters on the same cadence, so a
// killed run keeps its last evaluated state.
type CheckpointFunc func(step int) error

// PlanSteps reconciles the epoch count with an optional hard step cap,
// mirroring the usual fine-tuning convention: a positive maxTrainSteps
// wins and the epoch count is recomputed to cover it.
func PlanSteps(maxTrainSteps, numEpochs, stepsPerEpoch int) (maxSteps, epochs int) {
	if stepsPerEpoch <= 0 {
		return 0, 0
	}
	if maxTrainSteps <= 0 {
		return numEpochs * stepsPerEpoch, numEpochs
	}
	epochs = (maxTrainSteps + stepsPerEpoch - 1) / stepsPerEpoch
	return maxTrainSteps, epochs
}

// Trainer runs the step-counter-driven fine-tuning loop. Every training
// error is fatal: the loop stops and returns rather than skipping a batch.
type Trainer struct {
	Model    Stepper
	Iterator *data.BatchIterator
	Schedule optimizations.Schedule

	WeightDecay float64
	GradClip    float64

	MaxSteps     int
	Epochs       int
	EvalEvery    int
	LoggingSteps int

	Evaluate   EvalFunc           // optional
	Checkpoint CheckpointFunc     // optional
	MetricsLog *metrics.CSVLogger // optional
	Logger     *log.Logger
}

// Run executes the loop until MaxSteps optimizer updates have been
// applied. Evaluation and checkpointing fire at every multiple of
// EvalEvery and once more at the final step if it did not land on the
// cadence.
func (t *Trainer) Run(ctx context.Context) error {
	if t.MaxSteps <= 0 {
		return errors.New("training: no steps to run")
	}
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}

	step := 0
	lastEval := -1
	for epoch := 1; epoch <= t.Epochs && step < t.MaxSteps; epoch++ {
		t.Iterator.Reset()
		for step < t.MaxSteps {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := t.Iterator.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("training: next batch: %w", err)
			}

			step++
			lr := t.Schedule.At(step)
			loss, acc, err := t.Model.TrainStep(batch, lr, t.WeightDecay, t.GradClip)
			if err != nil {
				return fmt.Errorf("training: step %d: %w", step, err)
			}

			if t.LoggingSteps > 0 && step%t.LoggingSteps == 0 {
				logger.Info("train",
					"step", step, "epoch", epoch, "lr", lr,
					"loss", loss, "word_acc", acc)
			}

			if t.EvalEvery > 0 && step%t.EvalEvery == 0 {
				if err := t.runEval(ctx, step); err != nil {
					return err
				}
				lastEval = step
			}
		}
	}

	if step != lastEval {
		if err := t.runEval(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) runEval(ctx context.Context, step int) error {
	if t.Evaluate != nil {
		rec, err := t.Evaluate(ctx, step)
		if err != nil {
			return fmt.Errorf("training: evaluation at step %d: %w", step, err)
		}
		if t.MetricsLog != nil {
			if err := t.MetricsLog.Append(rec); err != nil {
				return fmt.Errorf("training: record metrics at step %d: %w", step, err)
			}
		}
	}
	if t.Checkpoint != nil {
		if err := t.Checkpoint(step); err != nil {
			return fmt.Errorf("training: checkpoint at step %d: %w", step, err)
		}
	}
	return nil
}
