package summarize

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Extractive summarizes without calling a model: the synopsis is the leading
// words of the text and the embedding a normalised hashed bag of words. It is
// deterministic, which makes it suitable for tests and offline deployments.
type Extractive struct {
	maxWords   int
	dimensions int
}

// NewExtractive creates an Extractive summarizer.
func NewExtractive(maxWords, dimensions int) *Extractive {
	return &Extractive{maxWords: maxWords, dimensions: dimensions}
}

var _ Summarizer = (*Extractive)(nil)

// Summarize implements Summarizer.
func (e *Extractive) Summarize(ctx context.Context, text string) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	synopsis := ClampWords(text, e.maxWords)
	if synopsis == "" {
		return Summary{}, ErrEmptyText
	}
	return Summary{Synopsis: synopsis, Embedding: e.embed(synopsis)}, nil
}

func (e *Extractive) embed(text string) []float32 {
	vec := make([]float32, e.dimensions)
	if e.dimensions == 0 {
		return vec
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dimensions))
		if sum&(1<<31) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
