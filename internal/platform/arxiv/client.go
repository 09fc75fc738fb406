package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

// maxBodySize bounds a single response. A page of 2000 entries is well below it.
const maxBodySize = 32 << 20

// Query selects one page of a category, newest submissions first.
type Query struct {
	Category   string
	Start      int
	MaxResults int
}

// Values encodes the query parameters understood by the export API.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("search_query", "cat:"+q.Category)
	v.Set("start", strconv.Itoa(q.Start))
	v.Set("max_results", strconv.Itoa(q.MaxResults))
	v.Set("sortBy", "submittedDate")
	v.Set("sortOrder", "descending")
	return v
}

// Config configures a Client.
type Config struct {
	APIURL    string
	UserAgent string
	Timeout   time.Duration
}

// Client queries the arXiv export API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Client. If httpClient is nil a client with cfg.Timeout
// is created.
func NewClient(cfg Config, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("arxiv API URL cannot be empty")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid arxiv API URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		apiURL:     cfg.APIURL,
		userAgent:  cfg.UserAgent,
		logger:     log.With(slog.String("component", "arxiv_client")),
	}, nil
}

// Query fetches and parses one page.
//
// Network failures, timeouts, 429 and 5xx responses wrap
// domain.ErrTransientExternal; other non-200 responses wrap
// domain.ErrPermanentProvider. Cancellation of ctx is returned as is.
func (c *Client) Query(ctx context.Context, q Query) ([]domain.ContentCandidate, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid API URL: %w", domain.ErrPermanentProvider, err)
	}
	u.RawQuery = q.Values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	log.Debug("querying arxiv",
		slog.String("category", q.Category),
		slog.Int("start", q.Start),
		slog.Int("max_results", q.MaxResults))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return ParseFeed(body)
}

func statusError(code int) error {
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: arxiv returned status %d", domain.ErrTransientExternal, code)
	}
	return fmt.Errorf("%w: arxiv returned status %d", domain.ErrPermanentProvider, code)
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: arxiv request timed out: %w", domain.ErrTransientExternal, err)
	}
	return fmt.Errorf("%w: arxiv request failed: %w", domain.ErrTransientExternal, err)
}
