// Package data is the pipeline between raw parallel text and model-ready
// batches: it loads dataset splits, tokenizes source/target pairs and groups
// them into padded fixed-size batches.
package data

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// Example is one raw parallel sentence pair.
type Example struct {
	Source string
	Target string
}

// translationRow is the on-disk JSONL row format used by translation
// dataset snapshots: {"translation": {"en": "...", "ru": "..."}}.
type translationRow struct {
	Translation map[string]string `json:"translation"`
}

const (
	// splits created when the dataset ships no validation file,
	// matching the original train_test_split(test_size=2000, seed=42)
	validationSize = 2000
	splitSeed      = 42
)

// LoadSplits reads the train and validation splits for a language pair from
// a dataset snapshot directory. It expects train.jsonl plus optionally
// validation.jsonl or test.jsonl; when neither exists, a deterministic
// validation split is carved out of the train set.
func LoadSplits(dir, configName, sourceLang, targetLang string) (train, validation []Example, err error) {
	base := dir
	if configName != "" {
		if sub := filepath.Join(dir, configName); dirExists(sub) {
			base = sub
		}
	}

	train, err = readJSONL(filepath.Join(base, "train.jsonl"), sourceLang, targetLang)
	if err != nil {
		return nil, nil, err
	}
	if len(train) == 0 {
		return nil, nil, fmt.Errorf("dataset %s has an empty train split", base)
	}

	for _, name := range []string{"validation.jsonl", "test.jsonl"} {
		path := filepath.Join(base, name)
		if !fileExists(path) {
			continue
		}
		validation, err = readJSONL(path, sourceLang, targetLang)
		if err != nil {
			return nil, nil, err
		}
		return train, validation, nil
	}

	train, validation = TrainTestSplit(train, validationSize, splitSeed)
	return train, validation, nil
}

// TrainTestSplit deterministically shuffles examples and holds out up to
// testSize of them for validation. The split is stable for a given seed.
func TrainTestSplit(examples []Example, testSize int, seed int64) (train, test []Example) {
	shuffled := make([]Example, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if testSize >= len(shuffled) {
		testSize = len(shuffled) / 2
	}
	cut := len(shuffled) - testSize
	return shuffled[:cut], shuffled[cut:]
}

// DebugSubset keeps a small prefix of each split for fast debugging runs.
func DebugSubset(examples []Example, n int) []Example {
	if len(examples) <= n {
		return examples
	}
	return examples[:n]
}

func readJSONL(path, sourceLang, targetLang string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split: %w", err)
	}
	defer f.Close()

	var out []Example
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var row translationRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		src, ok := row.Translation[sourceLang]
		if !ok {
			return nil, fmt.Errorf("%s:%d: no %q text in translation pair", path, line, sourceLang)
		}
		tgt, ok := row.Translation[targetLang]
		if !ok {
			return nil, fmt.Errorf("%s:%d: no %q text in translation pair", path, line, targetLang)
		}
		out = append(out, Example{Source: src, Target: tgt})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
