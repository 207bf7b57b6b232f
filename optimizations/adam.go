package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamW hyperparameters. The original training script used the optimizer
// defaults and exposed only learning rate and weight decay on the CLI.
const (
	Beta1 = 0.9
	Beta2 = 0.999
	Eps   = 1e-8
)

// AdamUpdateInPlace applies one AdamW step:
// p -= lr * (mhat/(sqrt(vhat)+eps) + weightDecay * p) with bias correction.
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("AdamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("AdamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			update := mhat/(math.Sqrt(vhat)+eps) + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

// Adam holds the per-parameter optimizer state.
type Adam struct {
	M, V *mat.Dense
	T    int
}

func NewAdam(rows, cols int) *Adam {
	return &Adam{
		M: mat.NewDense(rows, cols, nil),
		V: mat.NewDense(rows, cols, nil),
	}
}

// Update applies one AdamW step to p given grad g.
func (a *Adam) Update(p, g *mat.Dense, lr, weightDecay float64) {
	a.T++
	AdamUpdateInPlace(p, g, a.M, a.V, a.T, lr, Beta1, Beta2, Eps, weightDecay)
}
