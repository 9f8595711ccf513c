package hash

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"lograg/internal/embedding"
)

// DefaultDimension is used when no dimension is configured.
const DefaultDimension = 384

// Embedder is a local feature-hashing bag-of-words embedder. Unlike a fitted TF-IDF vocabulary
// it needs no corpus pass, so vectors computed in different scans stay comparable.
type Embedder struct {
	dimension    int
	normalize    bool
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a hashing embedder producing vectors of the given dimension.
func NewEmbedder(dimension int, normalize bool) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension: dimension,
		normalize: normalize,
		// words, numbers and dotted identifiers such as java.lang.IllegalStateException
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}_]+(?:[.'’][\p{L}\p{N}_]+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Model identifies the embedder, its dimension and whether vectors are normalized, so that
// indexes built with other settings fail the model check.
func (e *Embedder) Model() string {
	if !e.normalize {
		return fmt.Sprintf("hash-%d-raw", e.dimension)
	}
	return fmt.Sprintf("hash-%d", e.dimension)
}

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed term-frequency vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimension)
	for _, tok := range e.tokenize(text) {
		idx, sign := e.bucket(tok)
		vec[idx] += sign
		// dotted identifiers also count their last component (IllegalStateException)
		if dot := strings.LastIndexByte(tok, '.'); dot >= 0 && dot+1 < len(tok) {
			idx, sign = e.bucket(tok[dot+1:])
			vec[idx] += sign
		}
	}
	for i, v := range vec {
		if v != 0 {
			// sublinear term frequency
			vec[i] = float32(math.Copysign(1+math.Log(math.Abs(float64(v))), float64(v)))
		}
	}
	if e.normalize {
		embedding.Normalize(vec)
	}
	return vec, nil
}

// EmbedBatch embeds every text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) bucket(token string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(e.dimension)), sign
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "when", "where", "why", "how", "did", "do", "does", "any", "there", "show", "me", "find",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
