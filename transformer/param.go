// Package transformer implements the sequence-to-sequence encoder-decoder
// model: embeddings, multi-head attention, feed-forward blocks, the manual
// backward pass, AdamW updates and generation. It plays the role the
// pretrained-model library plays in larger ecosystems.
package transformer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/transformer_mt/optimizations"
	"github.com/transformer_mt/utils"
)

// Param is one trainable weight matrix with its accumulated gradient and
// AdamW state. Backward passes accumulate into the gradient; Step applies
// one optimizer update for the whole batch and clears it.
type Param struct {
	Name  string
	W     *mat.Dense
	grad  *mat.Dense
	adam  *optimizations.Adam
	decay bool
}

// NewParam initializes a (rows x cols) weight. data may be nil for zeros.
// decay controls whether weight decay applies (weights yes, biases and
// norm affine parameters no).
func NewParam(name string, rows, cols int, data []float64, decay bool) *Param {
	return &Param{
		Name:  name,
		W:     mat.NewDense(rows, cols, data),
		grad:  mat.NewDense(rows, cols, nil),
		adam:  optimizations.NewAdam(rows, cols),
		decay: decay,
	}
}

func (p *Param) AddGrad(g mat.Matrix) {
	p.grad.Add(p.grad, g)
}

func (p *Param) Grad() *mat.Dense { return p.grad }

func (p *Param) ZeroGrad() {
	p.grad.Zero()
}

// Step applies one AdamW update with the accumulated gradient, then clears it.
func (p *Param) Step(lr, weightDecay float64) {
	wd := 0.0
	if p.decay {
		wd = weightDecay
	}
	p.adam.Update(p.W, p.grad, lr, wd)
	p.grad.Zero()
}

func randomParam(name string, rows, cols, fanIn int, decay bool) *Param {
	return NewParam(name, rows, cols, utils.RandomArray(rows*cols, float64(fanIn)), decay)
}
