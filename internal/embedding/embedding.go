// Package embedding turns text into vectors for similarity search.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder computes a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hashing is a deterministic, offline embedder based on feature hashing of
// lower-cased word unigrams and bigrams. It needs no model server, which makes it
// the default for tests and air-gapped deployments.
type Hashing struct {
	dims int
}

// NewHashing returns a hashing embedder producing vectors of the given size.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 384
	}
	return &Hashing{dims: dims}
}

// Dimensions returns the vector size.
func (h *Hashing) Dimensions() int { return h.dims }

// Embed implements Embedder.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	words := Tokenize(text)
	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	Normalize(vec)
	return vec, nil
}

func (h *Hashing) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize splits text into lower-cased alphanumeric words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Normalize scales vec to unit length in place. Zero vectors are left unchanged.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// Cosine returns the cosine similarity of a and b. Vectors of different length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
