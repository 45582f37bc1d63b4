package detect

import (
	"math"
	"regexp"
)

const (
	defaultEntropyThreshold = 4.5
	defaultEntropyMinLength = 20
)

var entropyTokenRe = regexp.MustCompile(`[A-Za-z0-9+/=]{20,}`)

type entropyRule struct {
	threshold float64
	minLength int
}

func newEntropyRule(threshold float64, minLength int) *entropyRule {
	if threshold <= 0 {
		threshold = defaultEntropyThreshold
	}
	if minLength <= 0 {
		minLength = defaultEntropyMinLength
	}
	return &entropyRule{threshold: threshold, minLength: minLength}
}

// find returns spans of long tokens whose Shannon entropy meets the threshold.
func (e *entropyRule) find(text string) []span {
	var out []span
	for _, loc := range entropyTokenRe.FindAllStringIndex(text, -1) {
		tok := text[loc[0]:loc[1]]
		if len(tok) < e.minLength {
			continue
		}
		if ShannonEntropy(tok) >= e.threshold {
			out = append(out, span{loc[0], loc[1]})
		}
	}
	return out
}

// ShannonEntropy returns bits per byte of s.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	n := float64(len(s))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
