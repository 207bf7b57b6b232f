// Package hub fetches pretrained-model and dataset snapshots from the
// HuggingFace Hub into a local cache directory. Downloads are delegated to
// hfdownloader; this package only decides where snapshots live and whether
// the cache already has them.
package hub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	hfd "github.com/bodaay/HuggingFaceModelDownloader/pkg/hfdownloader"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Options configures snapshot fetching.
type Options struct {
	DataDir     string // cache root; snapshots live under models/ and datasets/
	Token       string // HF access token for private/gated repos, may be empty
	Concurrency int
}

// LoadToken reads HF_TOKEN from the environment, consulting .env first.
func LoadToken() string {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()
	return os.Getenv("HF_TOKEN")
}

// EnsureModel returns the local directory of the model snapshot, downloading
// it when the cache misses (detected by the absence of tokenizer.json).
func EnsureModel(ctx context.Context, name string, opt Options) (string, error) {
	root := filepath.Join(opt.DataDir, "models")
	local := filepath.Join(root, filepath.FromSlash(name))
	if fileExists(filepath.Join(local, "tokenizer.json")) {
		log.Debug("using cached model snapshot", "model", name, "dir", local)
		return local, nil
	}
	if err := download(ctx, hfd.Job{Repo: name, Revision: "main"}, root, opt); err != nil {
		return "", fmt.Errorf("download model %s: %w", name, err)
	}
	return local, nil
}

// EnsureDataset returns the local directory of the dataset snapshot,
// downloading it when the cache misses.
func EnsureDataset(ctx context.Context, name string, opt Options) (string, error) {
	root := filepath.Join(opt.DataDir, "datasets")
	local := filepath.Join(root, filepath.FromSlash(name))
	if dirExists(local) {
		log.Debug("using cached dataset snapshot", "dataset", name, "dir", local)
		return local, nil
	}
	job := hfd.Job{Repo: name, Revision: "main", IsDataset: true}
	if err := download(ctx, job, root, opt); err != nil {
		return "", fmt.Errorf("download dataset %s: %w", name, err)
	}
	return local, nil
}

func download(ctx context.Context, job hfd.Job, outputDir string, opt Options) error {
	concurrency := opt.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	cfg := hfd.Settings{
		OutputDir:   outputDir,
		Concurrency: concurrency,
		Token:       opt.Token,
	}
	return hfd.Download(ctx, job, cfg, func(e hfd.ProgressEvent) {
		switch e.Event {
		case "file_done":
			log.Info("downloaded", "repo", job.Repo, "file", e.Path)
		case "error", "retry":
			log.Warn("download event", "repo", job.Repo, "event", e.Event, "msg", e.Message)
		default:
			log.Debug("download event", "repo", job.Repo, "event", e.Event, "file", e.Path)
		}
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
