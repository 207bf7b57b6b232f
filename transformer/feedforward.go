package transformer

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_mt/utils"
)

// FeedForward is the position-wise two-layer MLP with GELU activation and
// inverted dropout on the hidden activation.
type FeedForward struct {
	dModel, dFF int

	W1, B1 *Param // (dFF x dModel), (dFF x 1)
	W2, B2 *Param // (dModel x dFF), (dModel x 1)

	Dropout  float64
	training bool

	// cache for backprop
	lastInput *mat.Dense
	preAct    *mat.Dense
	hidden    *mat.Dense // post-GELU, post-dropout
	dropMask  *mat.Dense // nil when dropout inactive
}

func NewFeedForward(name string, dModel, dFF int, dropout float64) *FeedForward {
	return &FeedForward{
		dModel:  dModel,
		dFF:     dFF,
		W1:      randomParam(name+".w1", dFF, dModel, dModel, true),
		B1:      NewParam(name+".b1", dFF, 1, nil, false),
		W2:      randomParam(name+".w2", dModel, dFF, dFF, true),
		B2:      NewParam(name+".b2", dModel, 1, nil, false),
		Dropout: dropout,
	}
}

func (ff *FeedForward) Forward(x *mat.Dense) *mat.Dense {
	ff.lastInput = x
	ff.preAct = utils.AddBias(utils.ToDense(utils.Dot(ff.W1.W, x)), ff.B1.W)
	h := utils.ToDense(utils.Apply(utils.GeluApply, ff.preAct))

	ff.dropMask = nil
	if ff.training && ff.Dropout > 0 {
		keep := 1.0 - ff.Dropout
		r, c := h.Dims()
		mask := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if rand.Float64() < keep {
					mask.Set(i, j, 1.0/keep)
				}
			}
		}
		h = utils.ToDense(utils.Multiply(h, mask))
		ff.dropMask = mask
	}
	ff.hidden = h
	return utils.AddBias(utils.ToDense(utils.Dot(ff.W2.W, h)), ff.B2.W)
}

// Backward accumulates weight gradients and returns dX.
func (ff *FeedForward) Backward(dY *mat.Dense) *mat.Dense {
	ff.W2.AddGrad(utils.Dot(dY, ff.hidden.T()))
	ff.B2.AddGrad(rowSums(dY))

	dHidden := utils.ToDense(utils.Dot(ff.W2.W.T(), dY))
	if ff.dropMask != nil {
		dHidden = utils.ToDense(utils.Multiply(dHidden, ff.dropMask))
	}
	dPre := utils.ToDense(utils.Multiply(dHidden, utils.GeluPrime(ff.preAct)))

	ff.W1.AddGrad(utils.Dot(dPre, ff.lastInput.T()))
	ff.B1.AddGrad(rowSums(dPre))

	return utils.ToDense(utils.Dot(ff.W1.W.T(), dPre))
}

func (ff *FeedForward) Params() []*Param {
	return []*Param{ff.W1, ff.B1, ff.W2, ff.B2}
}

// rowSums collapses (r x T) gradients into a (r x 1) bias gradient.
func rowSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for j := 0; j < c; j++ {
			s += m.At(i, j)
		}
		out.Set(i, 0, s)
	}
	return out
}
