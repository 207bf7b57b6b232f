package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_mt/data"
	"github.com/transformer_mt/utils"
)

// Config describes the model architecture. The JSON tags mirror the
// config.json shipped alongside pretrained checkpoints.
type Config struct {
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
}

func (c Config) validate() error {
	if c.VocabSize <= 0 || c.DModel <= 0 || c.NumLayers <= 0 || c.NumHeads <= 0 || c.DFF <= 0 {
		return fmt.Errorf("transformer: invalid config %+v", c)
	}
	if c.DModel%c.NumHeads != 0 {
		return fmt.Errorf("transformer: d_model %d not divisible by num_heads %d", c.DModel, c.NumHeads)
	}
	return nil
}

// EncoderLayer is a post-LN block: self-attention then feed-forward,
// each wrapped in a residual connection and layer norm.
type EncoderLayer struct {
	SelfAttn *MultiHeadAttention
	LN1      *LayerNorm
	FF       *FeedForward
	LN2      *LayerNorm
}

func NewEncoderLayer(name string, cfg Config) *EncoderLayer {
	return &EncoderLayer{
		SelfAttn: NewMultiHeadAttention(name+".self_attn", cfg.DModel, cfg.NumHeads),
		LN1:      NewLayerNorm(name+".ln1", cfg.DModel),
		FF:       NewFeedForward(name+".ff", cfg.DModel, cfg.DFF, cfg.DropoutRate),
		LN2:      NewLayerNorm(name+".ln2", cfg.DModel),
	}
}

func (l *EncoderLayer) Forward(x, srcMask *mat.Dense) *mat.Dense {
	a := l.SelfAttn.Forward(x, x, srcMask)
	y := l.LN1.Forward(addDense(x, a))
	f := l.FF.Forward(y)
	return l.LN2.Forward(addDense(y, f))
}

func (l *EncoderLayer) Backward(dOut *mat.Dense) *mat.Dense {
	d1 := l.LN2.Backward(dOut)
	dY := addDense(d1, l.FF.Backward(d1))
	d0 := l.LN1.Backward(dY)
	dXq, dXkv := l.SelfAttn.Backward(d0)
	return addDense(d0, addDense(dXq, dXkv))
}

func (l *EncoderLayer) Params() []*Param {
	out := l.SelfAttn.Params()
	out = append(out, l.LN1.Params()...)
	out = append(out, l.FF.Params()...)
	out = append(out, l.LN2.Params()...)
	return out
}

// DecoderLayer adds masked self-attention and cross-attention over the
// encoder memory before the feed-forward block.
type DecoderLayer struct {
	SelfAttn  *MultiHeadAttention
	LN1       *LayerNorm
	CrossAttn *MultiHeadAttention
	LN2       *LayerNorm
	FF        *FeedForward
	LN3       *LayerNorm
}

func NewDecoderLayer(name string, cfg Config) *DecoderLayer {
	return &DecoderLayer{
		SelfAttn:  NewMultiHeadAttention(name+".self_attn", cfg.DModel, cfg.NumHeads),
		LN1:       NewLayerNorm(name+".ln1", cfg.DModel),
		CrossAttn: NewMultiHeadAttention(name+".cross_attn", cfg.DModel, cfg.NumHeads),
		LN2:       NewLayerNorm(name+".ln2", cfg.DModel),
		FF:        NewFeedForward(name+".ff", cfg.DModel, cfg.DFF, cfg.DropoutRate),
		LN3:       NewLayerNorm(name+".ln3", cfg.DModel),
	}
}

func (l *DecoderLayer) Forward(x, memory, causalMask, crossMask *mat.Dense) *mat.Dense {
	sa := l.SelfAttn.Forward(x, x, causalMask)
	a := l.LN1.Forward(addDense(x, sa))
	ca := l.CrossAttn.Forward(a, memory, crossMask)
	b := l.LN2.Forward(addDense(a, ca))
	f := l.FF.Forward(b)
	return l.LN3.Forward(addDense(b, f))
}

// Backward returns the gradient wrt the layer input and wrt the encoder
// memory this layer attended over.
func (l *DecoderLayer) Backward(dOut *mat.Dense) (dX, dMemory *mat.Dense) {
	d2 := l.LN3.Backward(dOut)
	dB := addDense(d2, l.FF.Backward(d2))
	d1 := l.LN2.Backward(dB)
	dAq, dMem := l.CrossAttn.Backward(d1)
	dA := addDense(d1, dAq)
	d0 := l.LN1.Backward(dA)
	dXq, dXkv := l.SelfAttn.Backward(d0)
	return addDense(d0, addDense(dXq, dXkv)), dMem
}

func (l *DecoderLayer) Params() []*Param {
	out := l.SelfAttn.Params()
	out = append(out, l.LN1.Params()...)
	out = append(out, l.CrossAttn.Params()...)
	out = append(out, l.LN2.Params()...)
	out = append(out, l.FF.Params()...)
	out = append(out, l.LN3.Params()...)
	return out
}

// Model is an encoder-decoder transformer with tied input/output
// embeddings. Activations are (dModel x T) matrices, one column per
// position, and training runs one example at a time with gradients
// accumulated across the batch.
type Model struct {
	Config Config

	Embedding *Embedding
	Encoder   []*EncoderLayer
	Decoder   []*DecoderLayer

	training bool
}

func NewModel(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Model{
		Config:    cfg,
		Embedding: NewEmbedding("shared", cfg.DModel, cfg.VocabSize),
	}
	for i := 0; i < cfg.NumLayers; i++ {
		m.Encoder = append(m.Encoder, NewEncoderLayer(fmt.Sprintf("encoder.%d", i), cfg))
		m.Decoder = append(m.Decoder, NewDecoderLayer(fmt.Sprintf("decoder.%d", i), cfg))
	}
	return m, nil
}

// SetTraining toggles dropout on or off across all feed-forward blocks.
func (m *Model) SetTraining(on bool) {
	m.training = on
	for _, l := range m.Encoder {
		l.FF.training = on
	}
	for _, l := range m.Decoder {
		l.FF.training = on
	}
}

// Params returns every trainable parameter in a stable order.
func (m *Model) Params() []*Param {
	out := m.Embedding.Params()
	for _, l := range m.Encoder {
		out = append(out, l.Params()...)
	}
	for _, l := range m.Decoder {
		out = append(out, l.Params()...)
	}
	return out
}

// encode runs the encoder stack and returns the memory for cross-attention.
func (m *Model) encode(srcIDs []int, srcPad []bool) *mat.Dense {
	mask := utils.KeyPaddingMask(len(srcIDs), srcPad)
	x := m.Embedding.Embed(srcIDs)
	for _, l := range m.Encoder {
		x = l.Forward(x, mask)
	}
	return x
}

// decode runs the decoder stack over tgtIn attending to memory and
// returns the final hidden states before unembedding.
func (m *Model) decode(tgtIn []int, memory *mat.Dense, srcPad []bool) *mat.Dense {
	causal := utils.CausalMask(len(tgtIn))
	cross := utils.KeyPaddingMask(len(tgtIn), srcPad)
	y := m.Embedding.Embed(tgtIn)
	for _, l := range m.Decoder {
		y = l.Forward(y, memory, causal, cross)
	}
	return y
}

// decoderInput shifts labels right, prepending the decoder start token.
func (m *Model) decoderInput(labels []int) []int {
	in := make([]int, len(labels))
	in[0] = m.Config.DecoderStartTokenID
	copy(in[1:], labels[:len(labels)-1])
	return in
}

// TrainStep runs forward and backward over every example in the batch,
// accumulating gradients, then applies a single clipped AdamW update.
// The loss gradient is scaled by the total number of non-padding target
// tokens in the batch. Returns mean token loss and word accuracy.
func (m *Model) TrainStep(batch *data.Batch, lr, weightDecay, gradClip float64) (loss, acc float64, err error) {
	totalTokens := 0
	for _, pad := range batch.LabelsPad {
		for _, p := range pad {
			if !p {
				totalTokens++
			}
		}
	}
	if totalTokens == 0 {
		return 0, 0, fmt.Errorf("transformer: batch contains no target tokens")
	}
	scale := 1.0 / float64(totalTokens)

	lossSum := 0.0
	correct := 0
	for i := 0; i < batch.Size; i++ {
		src := batch.InputIDs[i]
		srcPad := batch.SourcePad[i]
		labels := batch.Labels[i]
		labelsPad := batch.LabelsPad[i]
		if len(labels) == 0 {
			continue
		}
		tgtIn := m.decoderInput(labels)

		memory := m.encode(src, srcPad)
		states := m.decode(tgtIn, memory, srcPad)
		logits := m.Embedding.Unembed(states)

		V, T := logits.Dims()
		dLogits := mat.NewDense(V, T, nil)
		for t := 0; t < T; t++ {
			if labelsPad[t] {
				continue
			}
			col := mat.NewDense(V, 1, nil)
			for v := 0; v < V; v++ {
				col.Set(v, 0, logits.At(v, t))
			}
			l, g := utils.CrossEntropyWithIndex(col, labels[t])
			lossSum += l
			if utils.ArgmaxVec(col) == labels[t] {
				correct++
			}
			for v := 0; v < V; v++ {
				dLogits.Set(v, t, g.At(v, 0)*scale)
			}
		}

		m.backwardExample(src, tgtIn, states, dLogits)
	}

	grads := make([]*mat.Dense, 0, len(m.Params()))
	for _, p := range m.Params() {
		grads = append(grads, p.Grad())
	}
	utils.ClipGrads(gradClip, grads...)
	for _, p := range m.Params() {
		p.Step(lr, weightDecay)
	}

	return lossSum / float64(totalTokens), float64(correct) / float64(totalTokens), nil
}

// backwardExample propagates dLogits through the decoder, accumulates
// the cross-attention memory gradient across decoder layers, then runs
// the encoder backward.
func (m *Model) backwardExample(src, tgtIn []int, states *mat.Dense, dLogits *mat.Dense) {
	dY := m.Embedding.UnembedBackward(states, dLogits)

	var dMemTotal *mat.Dense
	for i := len(m.Decoder) - 1; i >= 0; i-- {
		var dMem *mat.Dense
		dY, dMem = m.Decoder[i].Backward(dY)
		if dMemTotal == nil {
			dMemTotal = dMem
		} else {
			dMemTotal = addDense(dMemTotal, dMem)
		}
	}
	m.Embedding.AccumulateInputGrad(tgtIn, dY)

	dX := dMemTotal
	for i := len(m.Encoder) - 1; i >= 0; i-- {
		dX = m.Encoder[i].Backward(dX)
	}
	m.Embedding.AccumulateInputGrad(src, dX)
}

func addDense(a, b *mat.Dense) *mat.Dense {
	return utils.ToDense(utils.Add(a, b))
}
