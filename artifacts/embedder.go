package artifacts

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns text into a vector for cosine-similarity search. The
// spec requires the embedding function to be injected and the store to
// stay agnostic to it — computing or calling out to a real embedding
// model is explicitly out of scope (spec.md §1 Non-goals), so the
// engine ships one deterministic, dependency-free default and accepts
// any other implementation that satisfies this interface.
type Embedder interface {
	Embed(text string) []float32
}

// HashEmbedder is the default Embedder: a fixed-width hashing-trick
// bag-of-words vector, the standard dependency-free stand-in for a real
// embedding model. Two texts sharing vocabulary land close together
// under cosine similarity; it has none of a trained model's semantic
// generalization, which is the point — this engine never claims to
// implement one.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder creates a HashEmbedder with the given vector width.
// dimensions <= 0 falls back to 256, a width small enough to keep
// query_similar cheap over a single host's artifact history.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{Dimensions: dimensions}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// Embed hashes each token into a bucket and accumulates a signed count,
// then L2-normalizes so cosine similarity is comparable across texts of
// different lengths.
func (e *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.Dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()

		bucket := int(sum) % e.Dimensions
		if bucket < 0 {
			bucket += e.Dimensions
		}

		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
