package transformer

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

const (
	configFile  = "config.json"
	weightsFile = "model.gob"
)

type paramBlob struct {
	Rows, Cols int
	Data       []float64
}

type checkpointFile struct {
	Params map[string]paramBlob
}

// Save writes config.json and model.gob into dir, creating it if needed.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create %s: %w", dir, err)
	}

	cfgJSON, err := json.MarshalIndent(m.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFile), cfgJSON, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write config: %w", err)
	}

	ckpt := checkpointFile{Params: make(map[string]paramBlob)}
	for _, p := range m.Params() {
		r, c := p.W.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data = append(data, p.W.At(i, j))
			}
		}
		ckpt.Params[p.Name] = paramBlob{Rows: r, Cols: c, Data: data}
	}

	f, err := os.Create(filepath.Join(dir, weightsFile))
	if err != nil {
		return fmt.Errorf("checkpoint: create weights file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		return fmt.Errorf("checkpoint: encode weights: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save and rebuilds the model.
func Load(dir string) (*Model, error) {
	cfgJSON, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return nil, fmt.Errorf("checkpoint: parse config: %w", err)
	}

	m, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open weights file: %w", err)
	}
	defer f.Close()
	var ckpt checkpointFile
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("checkpoint: decode weights: %w", err)
	}

	for _, p := range m.Params() {
		blob, ok := ckpt.Params[p.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint: missing parameter %s", p.Name)
		}
		r, c := p.W.Dims()
		if blob.Rows != r || blob.Cols != c {
			return nil, fmt.Errorf("checkpoint: parameter %s has shape (%d,%d), want (%d,%d)",
				p.Name, blob.Rows, blob.Cols, r, c)
		}
		p.W = mat.NewDense(r, c, blob.Data)
	}
	return m, nil
}

// HasCheckpoint reports whether dir looks like a saved model directory.
func HasCheckpoint(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, weightsFile))
	return err == nil
}
