package gemini

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/summarize"
)

type mockModels struct {
	GenerateContentFn func(ctx context.Context, model string, contents []*genai.Content) (*genai.GenerateContentResponse, error)
	EmbedContentFn    func(ctx context.Context, model string, contents []*genai.Content) (*genai.EmbedContentResponse, error)
	generateCalls     int
	embedCalls        int
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	m.generateCalls++
	return m.GenerateContentFn(ctx, model, contents)
}

func (m *mockModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content,
	_ *genai.EmbedContentConfig,
) (*genai.EmbedContentResponse, error) {
	m.embedCalls++
	return m.EmbedContentFn(ctx, model, contents)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func embedResponse(dims int) *genai.EmbedContentResponse {
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: make([]float32, dims)}},
	}
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:            "gemini",
		GeminiAPIKey:        "test-key",
		ModelName:           "gemini-test",
		EmbeddingModel:      "embedding-test",
		EmbeddingDimensions: 8,
		MaxSynopsisWords:    5,
		MaxRetries:          2,
		BaseDelay:           time.Second,
	}
}

func newTestSummarizer(t *testing.T, m *mockModels) (*Summarizer, *[]time.Duration) {
	t.Helper()
	s, err := newSummarizer(m, slog.Default(), testConfig())
	require.NoError(t, err)
	var delays []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return s, &delays
}

func promptText(contents []*genai.Content) string {
	var b strings.Builder
	for _, c := range contents {
		for _, p := range c.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func TestSummarize(t *testing.T) {
	var prompt, embedded string
	m := &mockModels{
		GenerateContentFn: func(_ context.Context, model string, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "gemini-test", model)
			prompt = promptText(contents)
			return textResponse("  We show that sparse retrieval scales linearly with width.  "), nil
		},
		EmbedContentFn: func(_ context.Context, model string, contents []*genai.Content) (*genai.EmbedContentResponse, error) {
			assert.Equal(t, "embedding-test", model)
			embedded = promptText(contents)
			return embedResponse(8), nil
		},
	}
	s, _ := newTestSummarizer(t, m)

	got, err := s.Summarize(context.Background(), "An abstract about retrieval.")
	require.NoError(t, err)

	assert.Equal(t, "We show that sparse retrieval", got.Synopsis, "clamped to the word budget")
	assert.Len(t, got.Embedding, 8)
	assert.Contains(t, prompt, "An abstract about retrieval.")
	assert.Contains(t, prompt, "at most 5 words")
	assert.Equal(t, got.Synopsis, embedded, "the synopsis is what gets embedded")
}

func TestSummarizeRetriesTransientErrors(t *testing.T) {
	m := &mockModels{
		GenerateContentFn: func(context.Context, string, []*genai.Content) (*genai.GenerateContentResponse, error) {
			return nil, genai.APIError{Code: 503, Message: "overloaded"}
		},
		EmbedContentFn: func(context.Context, string, []*genai.Content) (*genai.EmbedContentResponse, error) {
			return embedResponse(8), nil
		},
	}
	s, delays := newTestSummarizer(t, m)

	_, err := s.Summarize(context.Background(), "text")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientExternal)
	assert.Equal(t, 3, m.generateCalls)
	require.Len(t, *delays, 2)
	assert.GreaterOrEqual(t, (*delays)[0], 500*time.Millisecond)
	assert.LessOrEqual(t, (*delays)[0], time.Second)
	assert.GreaterOrEqual(t, (*delays)[1], time.Second)
	assert.LessOrEqual(t, (*delays)[1], 2*time.Second)
}

func TestSummarizePermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
		want error
	}{
		{"bad key", nil, genai.APIError{Code: 403, Message: "permission denied"}, domain.ErrPermanentProvider},
		{"blocked", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, nil, summarize.ErrContentBlocked},
		{"no candidates", &genai.GenerateContentResponse{}, nil, summarize.ErrInvalidResponse},
		{"empty text", textResponse("   "), nil, summarize.ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockModels{
				GenerateContentFn: func(context.Context, string, []*genai.Content) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}
			s, delays := newTestSummarizer(t, m)

			_, err := s.Summarize(context.Background(), "text")

			assert.ErrorIs(t, err, tt.want)
			assert.False(t, domain.IsRetryable(err))
			assert.Equal(t, 1, m.generateCalls)
			assert.Empty(t, *delays)
		})
	}
}

func TestSummarizeRejectsWrongEmbeddingSize(t *testing.T) {
	m := &mockModels{
		GenerateContentFn: func(context.Context, string, []*genai.Content) (*genai.GenerateContentResponse, error) {
			return textResponse("short synopsis"), nil
		},
		EmbedContentFn: func(context.Context, string, []*genai.Content) (*genai.EmbedContentResponse, error) {
			return embedResponse(3), nil
		},
	}
	s, _ := newTestSummarizer(t, m)

	_, err := s.Summarize(context.Background(), "text")
	assert.ErrorIs(t, err, summarize.ErrInvalidResponse)
}

func TestSummarizeEmptyText(t *testing.T) {
	s, _ := newTestSummarizer(t, &mockModels{})
	_, err := s.Summarize(context.Background(), " \n ")
	assert.ErrorIs(t, err, summarize.ErrEmptyText)
}

func TestNewSummarizerValidation(t *testing.T) {
	cfg := testConfig()
	cfg.ModelName = ""
	_, err := newSummarizer(&mockModels{}, slog.Default(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.PromptTemplatePath = filepath.Join(t.TempDir(), "missing.tmpl")
	_, err = newSummarizer(&mockModels{}, slog.Default(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSummarizer(context.Background(), slog.Default(), config.LLMConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCustomPromptTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("TLDR ({{.MaxWords}}): {{.Text}}"), 0o600))

	tmpl, err := loadPromptTemplate(path)
	require.NoError(t, err)
	got, err := renderPrompt(tmpl, "abc", 60)
	require.NoError(t, err)
	assert.Equal(t, "TLDR (60): abc", got)

	require.NoError(t, os.WriteFile(path, []byte("{{.Nope"), 0o600))
	_, err = loadPromptTemplate(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestClassifyAPIError(t *testing.T) {
	assert.ErrorIs(t, classifyAPIError(genai.APIError{Code: 429}), domain.ErrTransientExternal)
	assert.ErrorIs(t, classifyAPIError(genai.APIError{Code: 500}), domain.ErrTransientExternal)
	assert.ErrorIs(t, classifyAPIError(genai.APIError{Code: 400}), domain.ErrPermanentProvider)
	assert.ErrorIs(t, classifyAPIError(errors.New("connection reset")), domain.ErrTransientExternal)
}
