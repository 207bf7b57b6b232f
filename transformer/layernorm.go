package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const lnEps = 1e-5

// LayerNorm normalizes each column (one position's activation vector)
// to zero mean and unit variance, then applies a learned scale and shift.
type LayerNorm struct {
	dModel int

	Gamma, Beta *Param // (dModel x 1), no weight decay

	// cache for backprop
	normed *mat.Dense
	invStd []float64
}

func NewLayerNorm(name string, dModel int) *LayerNorm {
	ones := make([]float64, dModel)
	for i := range ones {
		ones[i] = 1
	}
	return &LayerNorm{
		dModel: dModel,
		Gamma:  NewParam(name+".gamma", dModel, 1, ones, false),
		Beta:   NewParam(name+".beta", dModel, 1, nil, false),
	}
}

func (ln *LayerNorm) Forward(x *mat.Dense) *mat.Dense {
	d, T := x.Dims()
	ln.normed = mat.NewDense(d, T, nil)
	ln.invStd = make([]float64, T)

	out := mat.NewDense(d, T, nil)
	for j := 0; j < T; j++ {
		mean := 0.0
		for i := 0; i < d; i++ {
			mean += x.At(i, j)
		}
		mean /= float64(d)

		varSum := 0.0
		for i := 0; i < d; i++ {
			diff := x.At(i, j) - mean
			varSum += diff * diff
		}
		inv := 1.0 / math.Sqrt(varSum/float64(d)+lnEps)
		ln.invStd[j] = inv

		for i := 0; i < d; i++ {
			n := (x.At(i, j) - mean) * inv
			ln.normed.Set(i, j, n)
			out.Set(i, j, n*ln.Gamma.W.At(i, 0)+ln.Beta.W.At(i, 0))
		}
	}
	return out
}

// Backward accumulates gamma/beta gradients and returns dX.
func (ln *LayerNorm) Backward(dY *mat.Dense) *mat.Dense {
	d, T := dY.Dims()
	dGamma := mat.NewDense(d, 1, nil)
	dBeta := mat.NewDense(d, 1, nil)
	dX := mat.NewDense(d, T, nil)

	for j := 0; j < T; j++ {
		// dNorm and the two reductions the normalization couples in.
		sumDN := 0.0
		sumDNxN := 0.0
		dn := make([]float64, d)
		for i := 0; i < d; i++ {
			g := dY.At(i, j)
			n := ln.normed.At(i, j)
			dGamma.Set(i, 0, dGamma.At(i, 0)+g*n)
			dBeta.Set(i, 0, dBeta.At(i, 0)+g)

			dn[i] = g * ln.Gamma.W.At(i, 0)
			sumDN += dn[i]
			sumDNxN += dn[i] * ln.normed.At(i, j)
		}
		inv := ln.invStd[j]
		for i := 0; i < d; i++ {
			n := ln.normed.At(i, j)
			dX.Set(i, j, inv*(dn[i]-sumDN/float64(d)-n*sumDNxN/float64(d)))
		}
	}

	ln.Gamma.AddGrad(dGamma)
	ln.Beta.AddGrad(dBeta)
	return dX
}

func (ln *LayerNorm) Params() []*Param {
	return []*Param{ln.Gamma, ln.Beta}
}
