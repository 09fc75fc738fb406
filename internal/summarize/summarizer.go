package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/research-digest/internal/domain"
)

// Errors returned by Summarizer implementations.
var (
	// ErrEmptyText is returned when there is nothing to summarize.
	ErrEmptyText = fmt.Errorf("%w: text cannot be empty", domain.ErrValidation)

	// ErrInvalidResponse is returned when the provider answered with an
	// unusable synopsis or embedding.
	ErrInvalidResponse = errors.New("invalid response from summarizer")

	// ErrContentBlocked is returned when the provider refused the input.
	ErrContentBlocked = fmt.Errorf("%w: content blocked by provider safety filters", domain.ErrPermanentProvider)
)

// Summary is a bounded synopsis plus the embedding of that synopsis.
type Summary struct {
	Synopsis  string
	Embedding []float32
}

// Summarizer produces a Summary for a document's full text. Failures are
// classified with the domain error taxonomy; callers decide whether to retry.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Summary, error)
}

// ClampWords returns at most maxWords whitespace-separated words of s,
// joined by single spaces.
func ClampWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}
