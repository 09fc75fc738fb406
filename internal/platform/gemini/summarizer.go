package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"text/template"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/summarize"
)

// modelsAPI is the subset of *genai.Models used here.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Summarizer implements summarize.Summarizer with Gemini.
type Summarizer struct {
	models         modelsAPI
	prompt         *template.Template
	model          string
	embeddingModel string
	dimensions     int
	maxWords       int
	maxRetries     int
	baseDelay      time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	logger         *slog.Logger
}

var _ summarize.Summarizer = (*Summarizer)(nil)

// NewSummarizer creates a Summarizer from cfg.
func NewSummarizer(ctx context.Context, log *slog.Logger, cfg config.LLMConfig) (*Summarizer, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return newSummarizer(client.Models, log, cfg)
}

func newSummarizer(models modelsAPI, log *slog.Logger, cfg config.LLMConfig) (*Summarizer, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding model cannot be empty", ErrInvalidConfig)
	}
	if cfg.EmbeddingDimensions <= 0 || cfg.MaxSynopsisWords <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions and synopsis words must be positive", ErrInvalidConfig)
	}
	prompt, err := loadPromptTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}
	return &Summarizer{
		models:         models,
		prompt:         prompt,
		model:          cfg.ModelName,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
		maxWords:       cfg.MaxSynopsisWords,
		maxRetries:     max(cfg.MaxRetries, 0),
		baseDelay:      cfg.BaseDelay,
		sleep:          sleepContext,
		logger:         log.With(slog.String("component", "gemini_summarizer")),
	}, nil
}

// Summarize implements summarize.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, text string) (summarize.Summary, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return summarize.Summary{}, summarize.ErrEmptyText
	}

	prompt, err := renderPrompt(s.prompt, text, s.maxWords)
	if err != nil {
		return summarize.Summary{}, err
	}

	var synopsis string
	err = s.withRetry(ctx, "generate", func(ctx context.Context) error {
		var genErr error
		synopsis, genErr = s.generate(ctx, prompt)
		return genErr
	})
	if err != nil {
		return summarize.Summary{}, err
	}

	var embedding []float32
	err = s.withRetry(ctx, "embed", func(ctx context.Context) error {
		var embErr error
		embedding, embErr = s.embed(ctx, synopsis)
		return embErr
	})
	if err != nil {
		return summarize.Summary{}, err
	}

	return summarize.Summary{Synopsis: synopsis, Embedding: embedding}, nil
}

func (s *Summarizer) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrTransientExternal, ctx.Err())
		}
		return "", classifyAPIError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", summarize.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", summarize.ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", summarize.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	synopsis := summarize.ClampWords(b.String(), s.maxWords)
	if synopsis == "" {
		return "", fmt.Errorf("%w: empty synopsis", summarize.ErrInvalidResponse)
	}
	return synopsis, nil
}

func (s *Summarizer) embed(ctx context.Context, synopsis string) ([]float32, error) {
	resp, err := s.models.EmbedContent(ctx, s.embeddingModel, genai.Text(synopsis),
		&genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransientExternal, ctx.Err())
		}
		return nil, classifyAPIError(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding in response", summarize.ErrInvalidResponse)
	}
	values := resp.Embeddings[0].Values
	if len(values) != s.dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d",
			summarize.ErrInvalidResponse, len(values), s.dimensions)
	}
	return values, nil
}

// withRetry calls fn up to maxRetries+1 times while it fails with a
// retryable error, waiting baseDelay * 2^attempt * jitter in between.
func (s *Summarizer) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt == s.maxRetries {
			break
		}

		jitter := 0.5 + rand.Float64()*0.5
		delay := time.Duration(float64(s.baseDelay<<attempt) * jitter)
		log.Warn("gemini call failed, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w: %w", domain.ErrTransientExternal, sleepErr)
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
