// Package tokenizer adapts a pretrained HuggingFace-style tokenizer
// (tokenizer.json + config.json in a model snapshot directory) for the
// translation pipeline. The tokenizer itself is an external collaborator;
// this package only binds it and exposes the pieces training needs.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// ModelConfig mirrors the config.json fields the pipeline consumes.
type ModelConfig struct {
	VocabSize           int     `json:"vocab_size"`
	DModel              int     `json:"d_model"`
	NumLayers           int     `json:"num_layers"`
	NumHeads            int     `json:"num_heads"`
	DFF                 int     `json:"d_ff"`
	DropoutRate         float64 `json:"dropout_rate"`
	PadTokenID          int     `json:"pad_token_id"`
	EosTokenID          int     `json:"eos_token_id"`
	DecoderStartTokenID int     `json:"decoder_start_token_id"`
	MaxLength           int     `json:"max_length"`
	ModelMaxLength      int     `json:"model_max_length"`
}

// NormalizeConfig fills the fields snapshots commonly omit.
func (c *ModelConfig) NormalizeConfig() {
	if c.ModelMaxLength == 0 {
		if c.MaxLength > 0 {
			c.ModelMaxLength = c.MaxLength
		} else {
			c.ModelMaxLength = 512
		}
	}
	if c.DecoderStartTokenID == 0 {
		c.DecoderStartTokenID = c.PadTokenID
	}
	if c.DModel == 0 {
		c.DModel = 256
	}
	if c.NumLayers == 0 {
		c.NumLayers = 4
	}
	if c.NumHeads == 0 {
		c.NumHeads = 4
	}
	if c.DFF == 0 {
		c.DFF = 2 * c.DModel
	}
}

// Tokenizer wraps the pretrained tokenizer together with the special-token
// ids the model and data pipeline need.
type Tokenizer struct {
	inner  *tk.Tokenizer
	Config ModelConfig
}

// Load reads tokenizer.json and config.json from a model snapshot directory.
func Load(dir string) (*Tokenizer, error) {
	cfgBytes, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	cfg.NormalizeConfig()

	inner, err := pretrained.FromFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer.json: %w", err)
	}
	t := &Tokenizer{inner: inner, Config: cfg}
	if cfg.VocabSize == 0 {
		t.Config.VocabSize = len(inner.GetVocab(true))
	}
	return t, nil
}

func (t *Tokenizer) PadID() int          { return t.Config.PadTokenID }
func (t *Tokenizer) EosID() int          { return t.Config.EosTokenID }
func (t *Tokenizer) DecoderStartID() int { return t.Config.DecoderStartTokenID }
func (t *Tokenizer) VocabSize() int      { return t.Config.VocabSize }

// Encode tokenizes text, truncates to maxLen-1 and appends EOS so the
// result never exceeds maxLen tokens.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int, error) {
	enc, err := t.inner.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", text, err)
	}
	ids := make([]int, 0, len(enc.Ids)+1)
	for _, id := range enc.Ids {
		ids = append(ids, int(id))
	}
	if maxLen > 0 && len(ids) > maxLen-1 {
		ids = ids[:maxLen-1]
	}
	return append(ids, t.EosID()), nil
}

// Decode converts ids back to text, dropping pad/eos/decoder-start tokens.
func (t *Tokenizer) Decode(ids []int) string {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == t.PadID() || id == t.EosID() || id == t.DecoderStartID() {
			continue
		}
		kept = append(kept, id)
	}
	return t.inner.Decode(kept, true)
}
