package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder produces deterministic embeddings by feature-hashing word
// unigrams and bigrams into a fixed-width vector. It needs no network or
// model files, which makes it the default for offline operation. Similar
// texts share tokens and therefore land near each other; it is not a
// semantic model and the dimension should stay modest (128-512).
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a feature-hashing embedder with the given width.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Embed generates a unit-length embedding for text.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := tokenize(text)

	for i, tok := range tokens {
		h.addFeature(vec, tok, 1.0)
		if i+1 < len(tokens) {
			h.addFeature(vec, tok+" "+tokens[i+1], 0.5)
		}
	}
	return Normalize(vec), nil
}

// EmbedBatch embeds each text independently.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured vector width.
func (h *HashEmbedder) Dimensions() int { return h.dim }

// Name returns the engine name.
func (h *HashEmbedder) Name() string { return "hash" }

// addFeature hashes a token into a bucket with a sign bit so collisions
// partially cancel rather than pile up (standard hashing-trick construction).
func (h *HashEmbedder) addFeature(vec []float32, token string, weight float32) {
	hasher := fnv.New64a()
	hasher.Write([]byte(token))
	sum := hasher.Sum64()

	bucket := int(sum % uint64(h.dim))
	sign := float32(1)
	if (sum>>63)&1 == 1 {
		sign = -1
	}
	vec[bucket] += sign * weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
