package training

import (
	"context"
	"errors"
	"testing"

	"github.com/transformer_mt/data"
	"github.com/transformer_mt/metrics"
	"github.com/transformer_mt/optimizations"
)

type fakeStepper struct {
	steps   int
	lrs     []float64
	sizes   []int
	failAt  int // step number that errors, 0 disables
	stepErr error
}

func (f *fakeStepper) TrainStep(batch *data.Batch, lr, weightDecay, gradClip float64) (float64, float64, error) {
	f.steps++
	f.lrs = append(f.lrs, lr)
	f.sizes = append(f.sizes, batch.Size)
	if f.failAt > 0 && f.steps == f.failAt {
		return 0, 0, f.stepErr
	}
	return 1.0, 0.5, nil
}

func testIterator(n, batchSize int) *data.BatchIterator {
	pairs := make([]data.Pair, n)
	for i := range pairs {
		pairs[i] = data.Pair{SourceIDs: []int{i + 1}, TargetIDs: []int{i + 1}}
	}
	return data.NewBatchIterator(pairs, batchSize, 0, false, 0)
}

func TestPlanSteps(t *testing.T) {
	cases := []struct {
		maxTrain, epochs, perEpoch int
		wantSteps, wantEpochs      int
	}{
		{0, 3, 5, 15, 3},
		{12, 1, 5, 12, 3},
		{5, 10, 5, 5, 1},
		{0, 1, 0, 0, 0},
	}
	for _, c := range cases {
		steps, epochs := PlanSteps(c.maxTrain, c.epochs, c.perEpoch)
		if steps != c.wantSteps || epochs != c.wantEpochs {
			t.Errorf("PlanSteps(%d,%d,%d) = (%d,%d), want (%d,%d)",
				c.maxTrain, c.epochs, c.perEpoch, steps, epochs, c.wantSteps, c.wantEpochs)
		}
	}
}

func TestTrainerRunsExactStepCount(t *testing.T) {
	model := &fakeStepper{}
	it := testIterator(10, 2) // 5 steps per epoch
	tr := &Trainer{
		Model:     model,
		Iterator:  it,
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  7,
		Epochs:    2,
		EvalEvery: 100,
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if model.steps != 7 {
		t.Fatalf("steps: got %d, want 7", model.steps)
	}
	for i, lr := range model.lrs {
		if lr != 0.1 {
			t.Fatalf("step %d got lr %g, want constant 0.1", i+1, lr)
		}
	}
}

func TestTrainerEvalCadenceAndFinalStep(t *testing.T) {
	var evalSteps []int
	tr := &Trainer{
		Model:     &fakeStepper{},
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  5,
		Epochs:    1,
		EvalEvery: 2,
		Evaluate: func(ctx context.Context, step int) (metrics.Record, error) {
			evalSteps = append(evalSteps, step)
			return metrics.NewRecord(step, map[string]float64{"bleu": 1}), nil
		},
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []int{2, 4, 5}
	if len(evalSteps) != len(want) {
		t.Fatalf("eval steps: got %v, want %v", evalSteps, want)
	}
	for i := range want {
		if evalSteps[i] != want[i] {
			t.Fatalf("eval steps: got %v, want %v", evalSteps, want)
		}
	}
}

func TestTrainerDoesNotDoubleEvalFinalStep(t *testing.T) {
	var evalSteps []int
	tr := &Trainer{
		Model:     &fakeStepper{},
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  4,
		Epochs:    1,
		EvalEvery: 4,
		Evaluate: func(ctx context.Context, step int) (metrics.Record, error) {
			evalSteps = append(evalSteps, step)
			return metrics.NewRecord(step, nil), nil
		},
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(evalSteps) != 1 || evalSteps[0] != 4 {
		t.Fatalf("final step on cadence should evaluate once: %v", evalSteps)
	}
}

func TestTrainerWarmupScheduleReachesPeak(t *testing.T) {
	model := &fakeStepper{}
	tr := &Trainer{
		Model:    model,
		Iterator: testIterator(16, 2),
		Schedule: optimizations.Schedule{
			Type: optimizations.ScheduleConstantWithWarmup, Peak: 1.0, WarmupSteps: 4, TotalSteps: 8,
		},
		MaxSteps:  8,
		Epochs:    1,
		EvalEvery: 100,
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if model.lrs[i] >= 1.0 {
			t.Fatalf("warmup step %d should be below peak: %g", i+1, model.lrs[i])
		}
	}
	for i := 3; i < 8; i++ {
		if model.lrs[i] != 1.0 {
			t.Fatalf("post-warmup step %d should be at peak: %g", i+1, model.lrs[i])
		}
	}
}

func TestTrainerCheckpointsOnEvalCadence(t *testing.T) {
	var ckptSteps []int
	tr := &Trainer{
		Model:     &fakeStepper{},
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  5,
		Epochs:    1,
		EvalEvery: 2,
		Evaluate: func(ctx context.Context, step int) (metrics.Record, error) {
			return metrics.NewRecord(step, nil), nil
		},
		Checkpoint: func(step int) error {
			ckptSteps = append(ckptSteps, step)
			return nil
		},
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []int{2, 4, 5}
	if len(ckptSteps) != len(want) {
		t.Fatalf("checkpoint steps: got %v, want %v", ckptSteps, want)
	}
	for i := range want {
		if ckptSteps[i] != want[i] {
			t.Fatalf("checkpoint steps: got %v, want %v", ckptSteps, want)
		}
	}
}

func TestTrainerCheckpointErrorIsFatal(t *testing.T) {
	boom := errors.New("disk full")
	tr := &Trainer{
		Model:      &fakeStepper{},
		Iterator:   testIterator(10, 2),
		Schedule:   optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:   5,
		Epochs:     1,
		EvalEvery:  2,
		Checkpoint: func(step int) error { return boom },
	}
	if err := tr.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("checkpoint error should abort the run, got %v", err)
	}
}

func TestTrainerSingleStepSingleEval(t *testing.T) {
	model := &fakeStepper{}
	var evals int
	tr := &Trainer{
		Model:     model,
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  1,
		Epochs:    1,
		EvalEvery: 1,
		Evaluate: func(ctx context.Context, step int) (metrics.Record, error) {
			evals++
			return metrics.NewRecord(step, nil), nil
		},
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if model.steps != 1 || evals != 1 {
		t.Fatalf("got %d steps and %d evals, want 1 and 1", model.steps, evals)
	}
}

func TestTrainerTinyDatasetSingleBatch(t *testing.T) {
	model := &fakeStepper{}
	it := testIterator(3, 8) // smaller than one batch
	maxSteps, epochs := PlanSteps(0, 1, it.StepsPerEpoch())
	tr := &Trainer{
		Model:     model,
		Iterator:  it,
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  maxSteps,
		Epochs:    epochs,
		EvalEvery: 100,
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if model.steps != 1 || model.sizes[0] != 3 {
		t.Fatalf("got %d steps (first size %v), want one 3-example batch", model.steps, model.sizes)
	}
}

func TestTrainerStepErrorIsFatal(t *testing.T) {
	boom := errors.New("nan loss")
	tr := &Trainer{
		Model:     &fakeStepper{failAt: 3, stepErr: boom},
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  5,
		Epochs:    1,
		EvalEvery: 100,
	}
	if err := tr.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("training error should abort the run, got %v", err)
	}
}

func TestTrainerEvalErrorIsFatal(t *testing.T) {
	boom := errors.New("generation failed")
	tr := &Trainer{
		Model:     &fakeStepper{},
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  5,
		Epochs:    1,
		EvalEvery: 2,
		Evaluate: func(ctx context.Context, step int) (metrics.Record, error) {
			return metrics.Record{}, boom
		},
	}
	if err := tr.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("evaluation error should abort the run, got %v", err)
	}
}

func TestTrainerHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &Trainer{
		Model:     &fakeStepper{},
		Iterator:  testIterator(10, 2),
		Schedule:  optimizations.Schedule{Type: optimizations.ScheduleConstant, Peak: 0.1},
		MaxSteps:  5,
		Epochs:    1,
		EvalEvery: 100,
	}
	if err := tr.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context should stop the run, got %v", err)
	}
}
