package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDim matches the MiniLM-class models commonly used for sentence
// similarity, so local and remote vectors are interchangeable in tests.
const DefaultDim = 384

// Local is a dependency-free hashed bag-of-words embedder. Each token (and
// each adjacent token bigram, which preserves some word order) is hashed
// into one of Dim buckets; the resulting count vector is L2-normalised.
//
// It is not a semantic model, but identical texts map to identical vectors
// and texts sharing vocabulary score high cosine similarity, which is the
// contract the scorer depends on.
type Local struct {
	dim int
}

var _ Embedder = (*Local)(nil)

// NewLocal creates a Local embedder with the given dimension.
// Non-positive dimensions fall back to DefaultDim.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Local{dim: dim}
}

func (l *Local) Dim() int { return l.dim }

func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dim)

	tokens := tokenize(text)
	for i, tok := range tokens {
		vec[l.bucket(tok)]++
		if i+1 < len(tokens) {
			vec[l.bucket(tok+" "+tokens[i+1])]++
		}
	}

	normalize(vec)
	return vec, nil
}

func (l *Local) bucket(token string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(l.dim))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
