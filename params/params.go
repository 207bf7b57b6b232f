// Package params holds the run configuration parsed from the command line.
package params

import (
	"errors"
	"fmt"
)

// RunConfig is the immutable record of one training run. It is populated
// once from flags at startup and read-only afterwards.
type RunConfig struct {
	// Model / data identifiers
	ModelName     string
	DatasetName   string
	DatasetConfig string
	SourceLang    string
	TargetLang    string
	OutputDir     string
	DataDir       string

	// Preprocessing
	MaxSeqLength int
	Debug        bool

	// Optimization
	BatchSize       int
	LearningRate    float64
	WeightDecay     float64
	DropoutRate     float64
	NumTrainEpochs  int
	MaxTrainSteps   int // 0 means "derive from epochs"
	NumWarmupSteps  int
	LRSchedulerType string
	GradClip        float64

	// Cadence
	EvalEverySteps int
	LoggingSteps   int

	// Generation during evaluation
	GenerationType string // "greedy" or "beam_search"
	BeamSize       int

	Seed int64
}

// Default mirrors the defaults of the original training script.
func Default() RunConfig {
	return RunConfig{
		ModelName:       "google/mt5-small",
		DatasetName:     "wmt18",
		DatasetConfig:   "ru-en",
		DataDir:         "data",
		MaxSeqLength:    128,
		BatchSize:       8,
		LearningRate:    3e-4,
		WeightDecay:     0.0,
		DropoutRate:     0.1,
		NumTrainEpochs:  1,
		MaxTrainSteps:   0,
		NumWarmupSteps:  0,
		LRSchedulerType: "linear",
		GradClip:        1.0,
		EvalEverySteps:  5000,
		LoggingSteps:    10,
		GenerationType:  "beam_search",
		BeamSize:        5,
		Seed:            0,
	}
}

// Validate rejects configurations the run cannot start with. Required flags
// missing here are fatal at startup; there is no partial run.
func (c RunConfig) Validate() error {
	if c.OutputDir == "" {
		return errors.New("--output_dir is required")
	}
	if c.SourceLang == "" {
		return errors.New("--source_lang is required")
	}
	if c.TargetLang == "" {
		return errors.New("--target_lang is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("--batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxSeqLength <= 0 {
		return fmt.Errorf("--max_seq_length must be positive, got %d", c.MaxSeqLength)
	}
	if c.NumTrainEpochs <= 0 && c.MaxTrainSteps <= 0 {
		return errors.New("one of --num_train_epochs or --max_train_steps must be positive")
	}
	if c.EvalEverySteps <= 0 {
		return fmt.Errorf("--eval_every must be positive, got %d", c.EvalEverySteps)
	}
	switch c.GenerationType {
	case "greedy", "beam_search":
	default:
		return fmt.Errorf("--generation_type must be greedy or beam_search, got %q", c.GenerationType)
	}
	if c.GenerationType == "beam_search" && c.BeamSize <= 0 {
		return fmt.Errorf("--beam_size must be positive, got %d", c.BeamSize)
	}
	return nil
}
