package digest

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/mail"
)

const (
	// MaxAbstractChars caps the abstract excerpt shown per item.
	MaxAbstractChars = 1500

	abstractURLPrefix = "https://arxiv.org/abs/"
)

//go:embed templates/digest.html.tmpl
var templateFS embed.FS

var digestTemplate = template.Must(template.ParseFS(templateFS, "templates/digest.html.tmpl"))

// TokenIssuer issues signed unsubscribe tokens.
type TokenIssuer interface {
	IssueUnsubscribeToken(recipientID uuid.UUID) (string, error)
}

// Renderer builds digest emails.
type Renderer struct {
	tokens  TokenIssuer
	baseURL string
	strict  *bluemonday.Policy
}

// NewRenderer creates a renderer whose unsubscribe links point at baseURL.
func NewRenderer(tokens TokenIssuer, baseURL string) (*Renderer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", domain.ErrValidation, baseURL)
	}
	return &Renderer{
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		strict:  bluemonday.StrictPolicy(),
	}, nil
}

type itemView struct {
	ExternalID string
	URL        string
	Title      string
	Authors    string
	Date       string
	Abstract   string
	Synopsis   string
}

type digestView struct {
	Subject        string
	GreetingName   string
	Items          []itemView
	UnsubscribeURL string
}

// Subject returns the subject line for a digest sent on day.
func Subject(day time.Time) string {
	return "Your Research Digest - " + day.UTC().Format(time.DateOnly)
}

// Render builds the digest for r containing items, in the order given.
func (rd *Renderer) Render(r *domain.Recipient, items []*domain.ContentRecord, day time.Time) (mail.Message, error) {
	token, err := rd.tokens.IssueUnsubscribeToken(r.ID)
	if err != nil {
		return mail.Message{}, fmt.Errorf("failed to issue unsubscribe token: %w", err)
	}

	view := digestView{
		Subject:        Subject(day),
		GreetingName:   r.GreetingName(),
		Items:          make([]itemView, 0, len(items)),
		UnsubscribeURL: rd.baseURL + "/unsubscribe?token=" + url.QueryEscape(token),
	}
	for _, item := range items {
		view.Items = append(view.Items, rd.item(item))
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return mail.Message{}, fmt.Errorf("failed to render digest: %w", err)
	}

	return mail.Message{
		To:      r.ContactAddress,
		Subject: view.Subject,
		HTML:    buf.String(),
	}, nil
}

func (rd *Renderer) item(c *domain.ContentRecord) itemView {
	v := itemView{
		ExternalID: c.ExternalID,
		URL:        abstractURLPrefix + url.PathEscape(c.ExternalID),
		Title:      rd.text(c.Title),
		Authors:    rd.text(c.Authors),
		Abstract:   Excerpt(rd.text(c.FullText), MaxAbstractChars),
	}
	if c.PublishedAt != nil {
		v.Date = c.PublishedAt.UTC().Format(time.DateOnly)
	}
	if c.Synopsis != nil {
		v.Synopsis = rd.text(*c.Synopsis)
	}
	return v
}

// text strips any markup. html/template escapes the result again on output,
// so entities the sanitizer produced must not survive into the view.
func (rd *Renderer) text(s string) string {
	return strings.TrimSpace(html.UnescapeString(rd.strict.Sanitize(s)))
}

// Excerpt returns the first paragraph of s cut to at most max runes, with
// an ellipsis appended whenever anything was dropped.
func Excerpt(s string, max int) string {
	para, _, _ := strings.Cut(s, "\n\n")
	para = strings.TrimSpace(para)
	truncated := len(para) < len(strings.TrimSpace(s))
	if utf8.RuneCountInString(para) > max {
		para = string([]rune(para)[:max])
		truncated = true
	}
	if truncated {
		para += "…"
	}
	return para
}
