package params

import "testing"

func validConfig() RunConfig {
	cfg := Default()
	cfg.OutputDir = "out"
	cfg.SourceLang = "en"
	cfg.TargetLang = "ru"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRequiredFlags(t *testing.T) {
	mutations := map[string]func(*RunConfig){
		"output_dir":  func(c *RunConfig) { c.OutputDir = "" },
		"source_lang": func(c *RunConfig) { c.SourceLang = "" },
		"target_lang": func(c *RunConfig) { c.TargetLang = "" },
	}
	for name, mutate := range mutations {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("missing %s should be rejected", name)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := validConfig()
	cfg.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero batch size should be rejected")
	}

	cfg = validConfig()
	cfg.GenerationType = "sampling"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown generation type should be rejected")
	}

	cfg = validConfig()
	cfg.NumTrainEpochs = 0
	cfg.MaxTrainSteps = 0
	if err := cfg.Validate(); err == nil {
		t.Error("no epoch or step budget should be rejected")
	}

	cfg = validConfig()
	cfg.BeamSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("beam_search with zero beams should be rejected")
	}
}

func TestDefaultsMatchTrainingScript(t *testing.T) {
	cfg := Default()
	if cfg.LearningRate != 3e-4 || cfg.BatchSize != 8 || cfg.EvalEverySteps != 5000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.GenerationType != "beam_search" || cfg.BeamSize != 5 {
		t.Fatalf("unexpected generation defaults: %+v", cfg)
	}
}
