package utils

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Matrix functions used for the calculations in the program.

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func OnesLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 1)
		}
	}
	return out
}

func RandomArray(size int, v float64) []float64 {
	min := -1.0 / math.Sqrt(v+1e-12)
	max := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rand.Float64()
	}
	return out
}

// AddBias adds a (r x 1) bias column to every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("AddBias: bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, j)+bias.At(i, 0))
		}
	}
	return out
}

func LastCol(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, m.At(i, c-1))
	}
	return out
}

func ArgmaxVec(v *mat.Dense) int {
	r, c := v.Dims()
	if c != 1 {
		panic("ArgmaxVec expects a (r x 1) column vector")
	}
	best := 0
	bv := v.At(0, 0)
	for i := 1; i < r; i++ {
		if v.At(i, 0) > bv {
			bv = v.At(i, 0)
			best = i
		}
	}
	return best
}

func MatrixNorm(m *mat.Dense) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			s += v * v
		}
	}
	return math.Sqrt(s)
}

// -------- GELU activation --------
// gelu(x) = 0.5 * x * (1 + tanh( sqrt(2/pi) * (x + 0.044715*x^3) ))

func GeluApply(i, j int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

// GeluPrime is the elementwise derivative given the pre-activation matrix.
func GeluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	const k = 0.7978845608028654 // sqrt(2/pi)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			t := k * (x + 0.044715*x*x*x)
			th := math.Tanh(t)
			cosh := math.Cosh(t)
			sech2 := 1.0 / (cosh * cosh)
			dt := k * (1.0 + 3.0*0.044715*x*x)
			out.Set(i, j, 0.5*(1.0+th)+0.5*x*sech2*dt)
		}
	}
	return out
}

// -------- Masks --------

const maskValue = -1e30

// CausalMask returns (T x T) with 0 on and below the diagonal, -1e30 above.
func CausalMask(T int) *mat.Dense {
	out := mat.NewDense(T, T, nil)
	for i := 0; i < T; i++ {
		for j := i + 1; j < T; j++ {
			out.Set(i, j, maskValue)
		}
	}
	return out
}

// KeyPaddingMask returns (Tq x Tk) with -1e30 in every column k where pad[k]
// is true. Added to attention scores so padded keys get zero weight.
func KeyPaddingMask(Tq int, pad []bool) *mat.Dense {
	Tk := len(pad)
	out := mat.NewDense(Tq, Tk, nil)
	for k, p := range pad {
		if !p {
			continue
		}
		for q := 0; q < Tq; q++ {
			out.Set(q, k, maskValue)
		}
	}
	return out
}

// CombineMasks adds b into a copy of a. Either may be nil.
func CombineMasks(a, b *mat.Dense) *mat.Dense {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return ToDense(Add(a, b))
}

// ---------- Softmax variants ----------

// RowSoftmaxMasked applies softmax to each row of m after adding the
// additive mask (nil means no mask).
func RowSoftmaxMasked(m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	at := func(i, j int) float64 {
		v := m.At(i, j)
		if mask != nil {
			v += mask.At(i, j)
		}
		return v
	}
	for i := 0; i < r; i++ {
		mx := at(i, 0)
		for j := 1; j < c; j++ {
			if v := at(i, j); v > mx {
				mx = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(at(i, j) - mx)
			out.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)*inv)
		}
	}
	return out
}

// ColVectorSoftmax applies softmax across the single column of a (r x 1) vector.
func ColVectorSoftmax(v *mat.Dense) *mat.Dense {
	r, c := v.Dims()
	if c != 1 {
		panic("ColVectorSoftmax expects a (r x 1) column vector")
	}
	out := mat.NewDense(r, 1, nil)
	mx := v.At(0, 0)
	for i := 1; i < r; i++ {
		if v.At(i, 0) > mx {
			mx = v.At(i, 0)
		}
	}
	sum := 0.0
	for i := 0; i < r; i++ {
		e := math.Exp(v.At(i, 0) - mx)
		out.Set(i, 0, e)
		sum += e
	}
	for i := 0; i < r; i++ {
		out.Set(i, 0, out.At(i, 0)/sum)
	}
	return out
}

// SoftmaxBackward for row-wise softmax used in attention.
// Vector-JVP form: for each row i,
// s = sum_k dA[i,k] * A[i,k]; dS[i,j] = A[i,j] * (dA[i,j] - s)
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// ---------- Loss ----------

// CrossEntropyWithIndex returns the negative log-likelihood of the gold id
// and the gradient wrt the logits (softmax(p) - onehot(gold)).
func CrossEntropyWithIndex(logits *mat.Dense, gold int) (float64, *mat.Dense) {
	r, c := logits.Dims()
	if c != 1 {
		panic("CrossEntropyWithIndex expects (r x 1) logits vector")
	}
	prob := ColVectorSoftmax(logits)
	if gold < 0 || gold >= r {
		gold = 0
	}
	loss := -math.Log(prob.At(gold, 0) + 1e-12)
	grad := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		grad.Set(i, 0, prob.At(i, 0))
	}
	grad.Set(gold, 0, grad.At(gold, 0)-1.0)
	return loss, grad
}

// ---------- Gradient clipping ----------

// ClipGrads scales all grads so their combined norm <= maxNorm.
// Returns the scale actually applied (<=1.0) or 1.0 if no clip.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := MatrixNorm(g)
		sum += n * n
	}
	gn := math.Sqrt(sum)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		if g == nil {
			continue
		}
		r, c := g.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g.Set(i, j, g.At(i, j)*s)
			}
		}
	}
	return s
}
