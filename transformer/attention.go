package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_mt/utils"
)

// MultiHeadAttention attends a query sequence over a key/value sequence.
// Self-attention passes the same matrix for both; cross-attention passes
// the decoder state as query and the encoder memory as key/value. Matrices
// are (dModel x T), one column per position.
type MultiHeadAttention struct {
	heads  int
	dModel int
	dHead  int

	Wq, Wk, Wv []*Param // per head: (dHead x dModel)
	Wo         *Param   // (dModel x dModel)

	// cache for backprop
	xq, xkv *mat.Dense
	q, k, v []*mat.Dense
	a       []*mat.Dense
	oCat    *mat.Dense
}

func NewMultiHeadAttention(name string, dModel, heads int) *MultiHeadAttention {
	if dModel%heads != 0 {
		panic("dModel must be divisible by heads")
	}
	dHead := dModel / heads
	attn := &MultiHeadAttention{
		heads:  heads,
		dModel: dModel,
		dHead:  dHead,
		Wq:     make([]*Param, heads),
		Wk:     make([]*Param, heads),
		Wv:     make([]*Param, heads),
		q:      make([]*mat.Dense, heads),
		k:      make([]*mat.Dense, heads),
		v:      make([]*mat.Dense, heads),
		a:      make([]*mat.Dense, heads),
	}
	for h := 0; h < heads; h++ {
		attn.Wq[h] = randomParam(fmt.Sprintf("%s.wq.%d", name, h), dHead, dModel, dModel, true)
		attn.Wk[h] = randomParam(fmt.Sprintf("%s.wk.%d", name, h), dHead, dModel, dModel, true)
		attn.Wv[h] = randomParam(fmt.Sprintf("%s.wv.%d", name, h), dHead, dModel, dModel, true)
	}
	attn.Wo = randomParam(name+".wo", dModel, dModel, dModel, true)
	return attn
}

// Forward computes attention of xq over xkv. mask is additive (0 or -1e30)
// with shape (Tq x Tk), or nil.
func (attn *MultiHeadAttention) Forward(xq, xkv, mask *mat.Dense) *mat.Dense {
	attn.xq, attn.xkv = xq, xkv
	_, Tq := xq.Dims()
	rescale := 1.0 / math.Sqrt(float64(attn.dHead))
	headsCat := mat.NewDense(attn.dModel, Tq, nil)

	for h := 0; h < attn.heads; h++ {
		Q := utils.ToDense(utils.Dot(attn.Wq[h].W, xq))  // (dHead x Tq)
		K := utils.ToDense(utils.Dot(attn.Wk[h].W, xkv)) // (dHead x Tk)
		V := utils.ToDense(utils.Dot(attn.Wv[h].W, xkv)) // (dHead x Tk)

		S := utils.ToDense(utils.Scale(rescale, utils.Dot(Q.T(), K))) // (Tq x Tk)
		A := utils.RowSoftmaxMasked(S, mask)
		O := utils.ToDense(utils.Dot(V, A.T())) // (dHead x Tq)

		attn.q[h], attn.k[h], attn.v[h], attn.a[h] = Q, K, V, A

		dst := headsCat.Slice(h*attn.dHead, (h+1)*attn.dHead, 0, Tq).(*mat.Dense)
		dst.Copy(O)
	}
	attn.oCat = headsCat
	return utils.ToDense(utils.Dot(attn.Wo.W, headsCat))
}

// Backward accumulates weight gradients and returns the gradients wrt the
// query and key/value inputs. For self-attention the caller adds both.
func (attn *MultiHeadAttention) Backward(dY *mat.Dense) (dXq, dXkv *mat.Dense) {
	_, Tq := attn.xq.Dims()
	_, Tk := attn.xkv.Dims()
	rescale := 1.0 / math.Sqrt(float64(attn.dHead))

	attn.Wo.AddGrad(utils.Dot(dY, attn.oCat.T()))
	dOcat := utils.ToDense(utils.Dot(attn.Wo.W.T(), dY))

	dXq = mat.NewDense(attn.dModel, Tq, nil)
	dXkv = mat.NewDense(attn.dModel, Tk, nil)

	for h := 0; h < attn.heads; h++ {
		dO := dOcat.Slice(h*attn.dHead, (h+1)*attn.dHead, 0, Tq).(*mat.Dense)

		// O = V * A^T
		dV := utils.ToDense(utils.Dot(dO, attn.a[h]))         // (dHead x Tk)
		dA := utils.ToDense(utils.Dot(attn.v[h].T(), dO)).T() // (Tq x Tk)

		// A = softmax_row(S); masked entries of A are zero, so they stay zero.
		dS := utils.SoftmaxBackward(dA, attn.a[h]) // (Tq x Tk)

		// S = Q^T K / sqrt(dHead)
		dQ := utils.ToDense(utils.Scale(rescale, utils.Dot(attn.k[h], dS.T()))) // (dHead x Tq)
		dK := utils.ToDense(utils.Scale(rescale, utils.Dot(attn.q[h], dS)))     // (dHead x Tk)

		attn.Wq[h].AddGrad(utils.Dot(dQ, attn.xq.T()))
		attn.Wk[h].AddGrad(utils.Dot(dK, attn.xkv.T()))
		attn.Wv[h].AddGrad(utils.Dot(dV, attn.xkv.T()))

		dXq.Add(dXq, utils.ToDense(utils.Dot(attn.Wq[h].W.T(), dQ)))
		dXkv.Add(dXkv, utils.ToDense(utils.Dot(attn.Wk[h].W.T(), dK)))
		dXkv.Add(dXkv, utils.ToDense(utils.Dot(attn.Wv[h].W.T(), dV)))
	}
	return dXq, dXkv
}

func (attn *MultiHeadAttention) Params() []*Param {
	out := make([]*Param, 0, 3*attn.heads+1)
	for h := 0; h < attn.heads; h++ {
		out = append(out, attn.Wq[h], attn.Wk[h], attn.Wv[h])
	}
	return append(out, attn.Wo)
}
