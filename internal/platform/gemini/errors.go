package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/phrazzld/research-digest/internal/domain"
)

// ErrInvalidConfig is returned when the summarizer cannot be constructed from
// the given configuration.
var ErrInvalidConfig = fmt.Errorf("%w: invalid gemini configuration", domain.ErrPermanentProvider)

// classifyAPIError wraps err with the matching domain error class.
func classifyAPIError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: gemini API error %d: %w", domain.ErrTransientExternal, code, err)
	case code >= 400:
		return fmt.Errorf("%w: gemini API error %d: %w", domain.ErrPermanentProvider, code, err)
	default:
		return fmt.Errorf("%w: gemini call failed: %w", domain.ErrTransientExternal, err)
	}
}
