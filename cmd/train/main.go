// Command train fine-tunes a pretrained translation transformer on a
// parallel corpus and reports corpus BLEU on a held-out split.
package main

import (
	"context"
	"flag"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/transformer_mt/data"
	"github.com/transformer_mt/hub"
	"github.com/transformer_mt/metrics"
	"github.com/transformer_mt/optimizations"
	"github.com/transformer_mt/params"
	"github.com/transformer_mt/tokenizer"
	"github.com/transformer_mt/training"
	"github.com/transformer_mt/transformer"
)

func parseFlags() params.RunConfig {
	cfg := params.Default()

	flag.StringVar(&cfg.ModelName, "model_name", cfg.ModelName, "pretrained model snapshot to fine-tune")
	flag.StringVar(&cfg.DatasetName, "dataset_name", cfg.DatasetName, "translation dataset to train on")
	flag.StringVar(&cfg.DatasetConfig, "dataset_config", cfg.DatasetConfig, "dataset configuration, e.g. language pair")
	flag.StringVar(&cfg.SourceLang, "source_lang", cfg.SourceLang, "source language code")
	flag.StringVar(&cfg.TargetLang, "target_lang", cfg.TargetLang, "target language code")
	flag.StringVar(&cfg.OutputDir, "output_dir", cfg.OutputDir, "directory for the fine-tuned model and metrics")
	flag.StringVar(&cfg.DataDir, "data_dir", cfg.DataDir, "local cache for model and dataset snapshots")

	flag.IntVar(&cfg.MaxSeqLength, "max_seq_length", cfg.MaxSeqLength, "maximum tokenized sequence length")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "train on a small subset for a quick end-to-end check")

	flag.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "examples per optimizer step")
	flag.Float64Var(&cfg.LearningRate, "learning_rate", cfg.LearningRate, "peak learning rate")
	flag.Float64Var(&cfg.WeightDecay, "weight_decay", cfg.WeightDecay, "decoupled weight decay")
	flag.Float64Var(&cfg.DropoutRate, "dropout_rate", cfg.DropoutRate, "dropout on feed-forward activations")
	flag.IntVar(&cfg.NumTrainEpochs, "num_train_epochs", cfg.NumTrainEpochs, "number of passes over the training set")
	flag.IntVar(&cfg.MaxTrainSteps, "max_train_steps", cfg.MaxTrainSteps, "hard cap on optimizer steps, overrides epochs when positive")
	flag.IntVar(&cfg.NumWarmupSteps, "num_warmup_steps", cfg.NumWarmupSteps, "linear warmup steps before decay")
	flag.StringVar(&cfg.LRSchedulerType, "lr_scheduler_type", cfg.LRSchedulerType, "learning-rate schedule: linear, cosine, constant, constant_with_warmup")
	flag.Float64Var(&cfg.GradClip, "grad_clip", cfg.GradClip, "global gradient norm clip, 0 disables")

	flag.IntVar(&cfg.EvalEverySteps, "eval_every", cfg.EvalEverySteps, "run evaluation every this many steps")
	flag.IntVar(&cfg.LoggingSteps, "logging_steps", cfg.LoggingSteps, "log training metrics every this many steps")

	flag.StringVar(&cfg.GenerationType, "generation_type", cfg.GenerationType, "decoding strategy during evaluation: greedy or beam_search")
	flag.IntVar(&cfg.BeamSize, "beam_size", cfg.BeamSize, "beam width for beam_search decoding")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for shuffling and the validation split")

	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	rand.Seed(cfg.Seed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal("training failed", "err", err)
	}
}

func run(ctx context.Context, cfg params.RunConfig) error {
	hubOpt := hub.Options{DataDir: cfg.DataDir, Token: hub.LoadToken()}

	modelDir, err := hub.EnsureModel(ctx, cfg.ModelName, hubOpt)
	if err != nil {
		return err
	}
	datasetDir, err := hub.EnsureDataset(ctx, cfg.DatasetName, hubOpt)
	if err != nil {
		return err
	}

	tok, err := tokenizer.Load(modelDir)
	if err != nil {
		return err
	}
	log.Info("tokenizer loaded", "model", cfg.ModelName, "vocab_size", tok.VocabSize())

	trainSet, validSet, err := data.LoadSplits(datasetDir, cfg.DatasetConfig, cfg.SourceLang, cfg.TargetLang)
	if err != nil {
		return err
	}
	if cfg.Debug {
		trainSet = data.DebugSubset(trainSet, 100)
		validSet = data.DebugSubset(validSet, 100)
	}
	log.Info("dataset loaded", "dataset", cfg.DatasetName, "train", len(trainSet), "validation", len(validSet))

	prep := data.Preprocessor{
		Tokenizer:  tok,
		SourceLang: cfg.SourceLang,
		TargetLang: cfg.TargetLang,
		MaxLen:     cfg.MaxSeqLength,
	}
	trainPairs, err := prep.TokenizePairs(trainSet)
	if err != nil {
		return err
	}
	validPairs, err := prep.TokenizePairs(validSet)
	if err != nil {
		return err
	}

	model, err := loadOrInitModel(modelDir, tok, cfg)
	if err != nil {
		return err
	}
	model.SetTraining(true)

	iterator := data.NewBatchIterator(trainPairs, cfg.BatchSize, tok.PadID(), true, cfg.Seed)
	maxSteps, epochs := training.PlanSteps(cfg.MaxTrainSteps, cfg.NumTrainEpochs, iterator.StepsPerEpoch())
	log.Info("training plan",
		"steps_per_epoch", iterator.StepsPerEpoch(), "epochs", epochs,
		"max_steps", maxSteps, "warmup", cfg.NumWarmupSteps)

	schedType, err := optimizations.ParseScheduleType(cfg.LRSchedulerType)
	if err != nil {
		return err
	}
	schedule := optimizations.Schedule{
		Type:        schedType,
		Peak:        cfg.LearningRate,
		WarmupSteps: cfg.NumWarmupSteps,
		TotalSteps:  maxSteps,
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}
	metricsLog, err := metrics.NewCSVLogger(filepath.Join(cfg.OutputDir, "metrics.csv"))
	if err != nil {
		return err
	}
	defer metricsLog.Close()

	evaluator := &training.Evaluator{
		Model:     model,
		Tokenizer: tok,
		Pairs:     validPairs,
		Options: transformer.GenerateOptions{
			Type:     cfg.GenerationType,
			BeamSize: cfg.BeamSize,
			MaxLen:   cfg.MaxSeqLength,
		},
		Logger: log.Default(),
	}

	trainer := &training.Trainer{
		Model:        model,
		Iterator:     iterator,
		Schedule:     schedule,
		WeightDecay:  cfg.WeightDecay,
		GradClip:     cfg.GradClip,
		MaxSteps:     maxSteps,
		Epochs:       epochs,
		EvalEvery:    cfg.EvalEverySteps,
		LoggingSteps: cfg.LoggingSteps,
		Evaluate: func(ctx context.Context, step int) (metrics.Record, error) {
			model.SetTraining(false)
			defer model.SetTraining(true)
			return evaluator.Run(ctx, step)
		},
		Checkpoint: func(step int) error {
			log.Info("checkpointing model", "step", step, "dir", cfg.OutputDir)
			return model.Save(cfg.OutputDir)
		},
		MetricsLog: metricsLog,
		Logger:     log.Default(),
	}

	if err := trainer.Run(ctx); err != nil {
		return err
	}

	if err := copyFile(filepath.Join(modelDir, "tokenizer.json"), filepath.Join(cfg.OutputDir, "tokenizer.json")); err != nil {
		return err
	}
	log.Info("saved fine-tuned model", "dir", cfg.OutputDir)
	return nil
}

// loadOrInitModel continues from a saved checkpoint when the snapshot
// carries one, otherwise initializes fresh weights sized from the
// snapshot's config.json.
func loadOrInitModel(modelDir string, tok *tokenizer.Tokenizer, cfg params.RunConfig) (*transformer.Model, error) {
	if transformer.HasCheckpoint(modelDir) {
		log.Info("loading model weights", "dir", modelDir)
		return transformer.Load(modelDir)
	}
	log.Info("no saved weights in snapshot, initializing fresh model")
	mc := tok.Config
	return transformer.NewModel(transformer.Config{
		VocabSize:           tok.VocabSize(),
		DModel:              mc.DModel,
		NumLayers:           mc.NumLayers,
		NumHeads:            mc.NumHeads,
		DFF:                 mc.DFF,
		DropoutRate:         cfg.DropoutRate,
		PadTokenID:          tok.PadID(),
		EosTokenID:          tok.EosID(),
		DecoderStartTokenID: tok.DecoderStartID(),
		MaxLength:           cfg.MaxSeqLength,
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
