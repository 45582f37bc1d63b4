package classifier

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashingDim = 1024

// HashingEncoder embeds text with signed feature hashing over word unigrams,
// word bigrams and character n-grams. It needs no external runtime.
type HashingEncoder struct {
	dim      int
	ngramMin int
	ngramMax int
}

// NewHashingEncoder returns an encoder with the given dimension and n-gram range.
func NewHashingEncoder(dim, ngramMin, ngramMax int) *HashingEncoder {
	if dim <= 0 {
		dim = defaultHashingDim
	}
	if ngramMin <= 0 {
		ngramMin = 3
	}
	if ngramMax < ngramMin {
		ngramMax = ngramMin + 1
	}
	return &HashingEncoder{dim: dim, ngramMin: ngramMin, ngramMax: ngramMax}
}

func (e *HashingEncoder) Dim() int { return e.dim }

func (e *HashingEncoder) Close() error { return nil }

// Embed returns an L2-normalised vector. Text without tokens maps to zeros.
func (e *HashingEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dim)
	words := splitWords(text)
	for i, w := range words {
		e.add(vec, "w:"+w, 1.0)
		if i > 0 {
			e.add(vec, "b:"+words[i-1]+" "+w, 0.7)
		}
		padded := []rune(" " + w + " ")
		for n := e.ngramMin; n <= e.ngramMax; n++ {
			for j := 0; j+n <= len(padded); j++ {
				e.add(vec, "c:"+string(padded[j:j+n]), 0.5)
			}
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dim)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *HashingEncoder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
