package transformer

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/transformer_mt/utils"
)

// Generation strategies.
const (
	GenerateGreedy     = "greedy"
	GenerateBeamSearch = "beam_search"
)

type GenerateOptions struct {
	Type     string // greedy or beam_search
	BeamSize int
	MaxLen   int // maximum generated length including EOS
}

// Generate produces target token ids for a single encoded source
// sequence. Dropout is disabled for the duration of the call.
func (m *Model) Generate(srcIDs []int, srcPad []bool, opt GenerateOptions) ([]int, error) {
	if opt.MaxLen <= 0 {
		opt.MaxLen = m.Config.MaxLength
	}
	wasTraining := m.training
	m.SetTraining(false)
	defer m.SetTraining(wasTraining)

	memory := m.encode(srcIDs, srcPad)

	switch opt.Type {
	case GenerateGreedy, "":
		return m.greedy(memory, srcPad, opt.MaxLen), nil
	case GenerateBeamSearch:
		size := opt.BeamSize
		if size <= 0 {
			size = 1
		}
		return m.beamSearch(memory, srcPad, size, opt.MaxLen), nil
	default:
		return nil, fmt.Errorf("transformer: unknown generation type %q", opt.Type)
	}
}

// nextLogProbs decodes tgtIn against memory and returns log-probabilities
// over the vocabulary for the next token.
func (m *Model) nextLogProbs(tgtIn []int, memory *mat.Dense, srcPad []bool) []float64 {
	states := m.decode(tgtIn, memory, srcPad)
	last := utils.LastCol(states)
	probs := utils.ColVectorSoftmax(m.Embedding.Unembed(last))
	V, _ := probs.Dims()
	out := make([]float64, V)
	for v := 0; v < V; v++ {
		out[v] = math.Log(probs.At(v, 0) + 1e-12)
	}
	return out
}

func (m *Model) greedy(memory *mat.Dense, srcPad []bool, maxLen int) []int {
	tgtIn := []int{m.Config.DecoderStartTokenID}
	var out []int
	for len(out) < maxLen {
		lp := m.nextLogProbs(tgtIn, memory, srcPad)
		best := 0
		for v := 1; v < len(lp); v++ {
			if lp[v] > lp[best] {
				best = v
			}
		}
		out = append(out, best)
		if best == m.Config.EosTokenID {
			break
		}
		tgtIn = append(tgtIn, best)
	}
	return out
}

type beam struct {
	ids      []int // generated tokens, decoder start excluded
	score    float64
	finished bool
}

// normScore is the length-normalized log-probability used to rank
// finished hypotheses against each other.
func (b beam) normScore() float64 {
	if len(b.ids) == 0 {
		return b.score
	}
	return b.score / float64(len(b.ids))
}

func (m *Model) beamSearch(memory *mat.Dense, srcPad []bool, size, maxLen int) []int {
	beams := []beam{{}}
	for step := 0; step < maxLen; step++ {
		var candidates []beam
		allDone := true
		for _, b := range beams {
			if b.finished {
				candidates = append(candidates, b)
				continue
			}
			allDone = false
			tgtIn := append([]int{m.Config.DecoderStartTokenID}, b.ids...)
			lp := m.nextLogProbs(tgtIn, memory, srcPad)
			for _, v := range topIndices(lp, size) {
				nb := beam{
					ids:   append(append([]int(nil), b.ids...), v),
					score: b.score + lp[v],
				}
				if v == m.Config.EosTokenID {
					nb.finished = true
				}
				candidates = append(candidates, nb)
			}
		}
		if allDone {
			break
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].normScore() > candidates[j].normScore()
		})
		if len(candidates) > size {
			candidates = candidates[:size]
		}
		beams = candidates
	}

	best := beams[0]
	for _, b := range beams[1:] {
		if b.normScore() > best.normScore() {
			best = b
		}
	}
	return best.ids
}

// topIndices returns the indices of the k largest values in lp.
func topIndices(lp []float64, k int) []int {
	if k > len(lp) {
		k = len(lp)
	}
	idx := make([]int, len(lp))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return lp[idx[a]] > lp[idx[b]] })
	return idx[:k]
}
