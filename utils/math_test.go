package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRowSoftmaxMaskedRowsSumToOne(t *testing.T) {
	s := mat.NewDense(2, 3, []float64{1, 2, 3, -1, 0, 1})
	a := RowSoftmaxMasked(s, nil)
	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += a.At(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("row %d sums to %g", i, sum)
		}
	}
}

func TestRowSoftmaxMaskedZeroesMaskedEntries(t *testing.T) {
	s := mat.NewDense(1, 3, []float64{5, 5, 5})
	mask := mat.NewDense(1, 3, []float64{0, -1e30, 0})
	a := RowSoftmaxMasked(s, mask)
	if a.At(0, 1) > 1e-12 {
		t.Fatalf("masked entry should be ~0, got %g", a.At(0, 1))
	}
	if math.Abs(a.At(0, 0)-0.5) > 1e-9 || math.Abs(a.At(0, 2)-0.5) > 1e-9 {
		t.Fatalf("unmasked entries should split mass: %v", mat.Formatted(a))
	}
}

func TestCausalMaskUpperTriangle(t *testing.T) {
	m := CausalMask(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if j > i && m.At(i, j) == 0 {
				t.Fatalf("future position (%d,%d) should be masked", i, j)
			}
			if j <= i && m.At(i, j) != 0 {
				t.Fatalf("past position (%d,%d) should be open", i, j)
			}
		}
	}
}

func TestKeyPaddingMask(t *testing.T) {
	m := KeyPaddingMask(2, []bool{false, true, false})
	for i := 0; i < 2; i++ {
		if m.At(i, 1) == 0 {
			t.Fatalf("padded key should be masked in row %d", i)
		}
		if m.At(i, 0) != 0 || m.At(i, 2) != 0 {
			t.Fatalf("real keys should be open in row %d", i)
		}
	}
}

func TestCrossEntropyGradientFiniteDifference(t *testing.T) {
	logits := mat.NewDense(4, 1, []float64{0.2, -1.3, 0.7, 0.05})
	gold := 2
	_, grad := CrossEntropyWithIndex(logits, gold)

	const h = 1e-6
	for i := 0; i < 4; i++ {
		bump := mat.DenseCopyOf(logits)
		bump.Set(i, 0, bump.At(i, 0)+h)
		lossPlus, _ := CrossEntropyWithIndex(bump, gold)
		bump.Set(i, 0, bump.At(i, 0)-2*h)
		lossMinus, _ := CrossEntropyWithIndex(bump, gold)
		numeric := (lossPlus - lossMinus) / (2 * h)
		if math.Abs(numeric-grad.At(i, 0)) > 1e-4 {
			t.Fatalf("grad[%d]: analytic %g, numeric %g", i, grad.At(i, 0), numeric)
		}
	}
}

func TestSoftmaxBackwardMatchesFiniteDifference(t *testing.T) {
	// Scalar loss L = sum(w .* softmax_row(S)); dL/dS via SoftmaxBackward
	// must match a numeric estimate.
	s := mat.NewDense(2, 3, []float64{0.5, -0.2, 1.1, 0.0, 0.3, -0.7})
	w := mat.NewDense(2, 3, []float64{1, -2, 0.5, 0.3, 0, -1})

	loss := func(sm *mat.Dense) float64 {
		a := RowSoftmaxMasked(sm, nil)
		total := 0.0
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				total += w.At(i, j) * a.At(i, j)
			}
		}
		return total
	}

	a := RowSoftmaxMasked(s, nil)
	dS := SoftmaxBackward(w, a)

	const h = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			bump := mat.DenseCopyOf(s)
			bump.Set(i, j, bump.At(i, j)+h)
			plus := loss(bump)
			bump.Set(i, j, bump.At(i, j)-2*h)
			minus := loss(bump)
			numeric := (plus - minus) / (2 * h)
			if math.Abs(numeric-dS.At(i, j)) > 1e-5 {
				t.Fatalf("dS[%d,%d]: analytic %g, numeric %g", i, j, dS.At(i, j), numeric)
			}
		}
	}
}

func TestClipGradsScalesToMaxNorm(t *testing.T) {
	g1 := mat.NewDense(1, 2, []float64{3, 0})
	g2 := mat.NewDense(1, 2, []float64{0, 4})
	scale := ClipGrads(1.0, g1, g2)
	if math.Abs(scale-0.2) > 1e-12 {
		t.Fatalf("scale: got %g, want 0.2", scale)
	}
	norm := math.Sqrt(math.Pow(MatrixNorm(g1), 2) + math.Pow(MatrixNorm(g2), 2))
	if math.Abs(norm-1.0) > 1e-9 {
		t.Fatalf("clipped norm: got %g, want 1", norm)
	}
}

func TestClipGradsLeavesSmallGradsAlone(t *testing.T) {
	g := mat.NewDense(1, 2, []float64{0.1, 0.1})
	if scale := ClipGrads(1.0, g); scale != 1.0 {
		t.Fatalf("small grads should not be scaled, got %g", scale)
	}
	if g.At(0, 0) != 0.1 {
		t.Fatalf("grad mutated: %g", g.At(0, 0))
	}
}

func TestGeluPrimeFiniteDifference(t *testing.T) {
	x := mat.NewDense(1, 4, []float64{-2, -0.5, 0.5, 2})
	prime := GeluPrime(x)
	const h = 1e-6
	for j := 0; j < 4; j++ {
		plus := GeluApply(0, j, x.At(0, j)+h)
		minus := GeluApply(0, j, x.At(0, j)-h)
		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-prime.At(0, j)) > 1e-4 {
			t.Fatalf("gelu'(%g): analytic %g, numeric %g", x.At(0, j), prime.At(0, j), numeric)
		}
	}
}
