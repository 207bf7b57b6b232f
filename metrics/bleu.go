// Package metrics computes translation-quality metrics and records them.
package metrics

import (
	"math"
	"strings"
	"unicode"
)

// BLEU computes corpus-level BLEU over the full hypothesis/reference set,
// in the sacrebleu flavor: up-to-4-gram modified precisions combined with a
// geometric mean and a brevity penalty, computed once over the whole corpus
// rather than averaged per sentence. The result is on the usual 0-100 scale.
func BLEU(hypotheses, references []string) float64 {
	if len(hypotheses) != len(references) {
		panic("BLEU: hypothesis/reference count mismatch")
	}
	if len(hypotheses) == 0 {
		return 0
	}

	const maxOrder = 4
	matches := make([]int, maxOrder)
	totals := make([]int, maxOrder)
	var hypLen, refLen int

	for i := range hypotheses {
		hyp := Tokenize13a(hypotheses[i])
		ref := Tokenize13a(references[i])
		hypLen += len(hyp)
		refLen += len(ref)

		for n := 1; n <= maxOrder; n++ {
			hypCounts := ngramCounts(hyp, n)
			refCounts := ngramCounts(ref, n)
			for g, c := range hypCounts {
				rc := refCounts[g]
				if rc < c {
					matches[n-1] += rc
				} else {
					matches[n-1] += c
				}
				totals[n-1] += c
			}
		}
	}

	logSum := 0.0
	for n := 0; n < maxOrder; n++ {
		if totals[n] == 0 || matches[n] == 0 {
			return 0
		}
		logSum += math.Log(float64(matches[n]) / float64(totals[n]))
	}
	score := math.Exp(logSum / maxOrder)

	// Brevity penalty
	if hypLen < refLen && hypLen > 0 {
		score *= math.Exp(1 - float64(refLen)/float64(hypLen))
	}
	if hypLen == 0 {
		return 0
	}
	return 100 * score
}

func ngramCounts(tokens []string, n int) map[string]int {
	// joined on a byte that never appears in text, so "a"+"bc" and
	// "ab"+"c" count as different bigrams
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x01")]++
	}
	return counts
}

// Tokenize13a approximates sacrebleu's "13a" tokenization: punctuation is
// split off into its own tokens and the text is split on whitespace.
func Tokenize13a(s string) []string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.Fields(b.String())
}
