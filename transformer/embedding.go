package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_mt/utils"
)

// Embedding holds the token embedding table, shared between the input
// lookup and the output projection (tied weights), plus fixed sinusoidal
// positional encodings.
type Embedding struct {
	dModel    int
	vocabSize int

	W *Param // (dModel x vocabSize)

	positional *mat.Dense // (dModel x maxLen), grown on demand
}

func NewEmbedding(name string, dModel, vocabSize int) *Embedding {
	return &Embedding{
		dModel:    dModel,
		vocabSize: vocabSize,
		W:         randomParam(name+".tok", dModel, vocabSize, dModel, true),
	}
}

// ensurePositional extends the sinusoidal table to cover at least T positions.
func (e *Embedding) ensurePositional(T int) {
	cur := 0
	if e.positional != nil {
		_, cur = e.positional.Dims()
	}
	if cur >= T {
		return
	}
	grown := mat.NewDense(e.dModel, T, nil)
	for pos := 0; pos < T; pos++ {
		for i := 0; i < e.dModel; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(e.dModel))
			if i%2 == 0 {
				grown.Set(i, pos, math.Sin(angle))
			} else {
				grown.Set(i, pos, math.Cos(angle))
			}
		}
	}
	e.positional = grown
}

// Embed returns the (dModel x T) embedding of ids with positional
// encodings added. The position signal is fixed and carries no gradient.
func (e *Embedding) Embed(ids []int) *mat.Dense {
	T := len(ids)
	e.ensurePositional(T)
	out := mat.NewDense(e.dModel, T, nil)
	for t, id := range ids {
		for i := 0; i < e.dModel; i++ {
			out.Set(i, t, e.W.W.At(i, id)+e.positional.At(i, t))
		}
	}
	return out
}

// AccumulateInputGrad scatters dX back into the embedding rows selected
// by ids. Repeated ids accumulate.
func (e *Embedding) AccumulateInputGrad(ids []int, dX *mat.Dense) {
	d, _ := dX.Dims()
	g := mat.NewDense(e.dModel, e.vocabSize, nil)
	for t, id := range ids {
		for i := 0; i < d; i++ {
			g.Set(i, id, g.At(i, id)+dX.At(i, t))
		}
	}
	e.W.AddGrad(g)
}

// Unembed projects decoder states to vocabulary logits using the tied
// embedding table: logits = Wᵀ·y, shape (vocabSize x T).
func (e *Embedding) Unembed(y *mat.Dense) *mat.Dense {
	return utils.ToDense(utils.Dot(e.W.W.T(), y))
}

// UnembedBackward accumulates the tied-weight gradient from dLogits and
// returns dY for the decoder stack.
func (e *Embedding) UnembedBackward(y, dLogits *mat.Dense) *mat.Dense {
	e.W.AddGrad(utils.Dot(y, dLogits.T()))
	return utils.ToDense(utils.Dot(e.W.W, dLogits))
}

func (e *Embedding) Params() []*Param {
	return []*Param{e.W}
}
