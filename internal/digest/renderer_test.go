package digest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/domain"
)

func renderDoc(t *testing.T, r *domain.Recipient, items []*domain.ContentRecord) *goquery.Document {
	t.Helper()
	rd, err := NewRenderer(staticTokens{}, "https://digest.example.org/")
	require.NoError(t, err)

	msg, err := rd.Render(r, items, time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Your Research Digest - 2024-05-01", msg.Subject)
	assert.Equal(t, r.ContactAddress, msg.To)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.HTML))
	require.NoError(t, err)
	return doc
}

func testRecipient(t *testing.T, displayName string) *domain.Recipient {
	t.Helper()
	r, err := domain.NewRecipient("grace.hopper@example.org", displayName, []string{"cs.AI"}, domain.CadenceWeekly)
	require.NoError(t, err)
	return r
}

func TestRender_Items(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 4, 29, 17, 0, 0, 0, time.UTC)
	synopsis := "A short summary."
	items := []*domain.ContentRecord{
		{
			ExternalID:  "2404.12345v2",
			Title:       "Attention Is <i>Still</i> All You Need",
			Authors:     "A. Vaswani, N. Shazeer",
			FullText:    "We revisit attention & friends.",
			Synopsis:    &synopsis,
			Category:    "cs.AI",
			PublishedAt: &published,
		},
		{
			ExternalID: "2404.99999",
			Title:      "Unsummarised Paper",
			Authors:    "",
			FullText:   "Body.",
			Category:   "cs.AI",
		},
	}

	r := testRecipient(t, "Grace")
	doc := renderDoc(t, r, items)

	assert.Equal(t, "Hello Grace,", doc.Find("p.greeting").Text())

	papers := doc.Find("div.paper")
	require.Equal(t, 2, papers.Length())

	first := papers.Eq(0)
	link := first.Find("h2 a")
	href, _ := link.Attr("href")
	assert.Equal(t, "https://arxiv.org/abs/2404.12345v2", href)
	assert.Equal(t, "Attention Is Still All You Need", link.Text(), "markup is stripped")
	assert.Equal(t, "A. Vaswani, N. Shazeer – 2024-04-29", first.Find("p.authors").Text())
	assert.Equal(t, "We revisit attention & friends.", first.Find("p.abstract").Text())
	assert.Equal(t, "TL;DR: A short summary.", first.Find("p.tldr").Text())

	second := papers.Eq(1)
	assert.Zero(t, second.Find("p.tldr").Length(), "no TL;DR before the backfill ran")
	assert.Empty(t, second.Find("p.authors").Text())

	unsub, ok := doc.Find("a.unsubscribe").Attr("href")
	require.True(t, ok)
	assert.Equal(t, "https://digest.example.org/unsubscribe?token=tok-"+r.ID.String(), unsub)
}

func TestRender_GreetingFallsBackToLocalPart(t *testing.T) {
	t.Parallel()

	doc := renderDoc(t, testRecipient(t, ""), nil)
	assert.Equal(t, "Hello grace.hopper,", doc.Find("p.greeting").Text())
	assert.Zero(t, doc.Find("div.paper").Length())
}

func TestRender_EscapesContent(t *testing.T) {
	t.Parallel()

	items := []*domain.ContentRecord{{
		ExternalID: "2404.00001",
		Title:      `<script>alert("x")</script>Safe Title`,
		FullText:   `<img src=x onerror=alert(1)>text`,
	}}
	rd, err := NewRenderer(staticTokens{}, "https://digest.example.org")
	require.NoError(t, err)
	msg, err := rd.Render(testRecipient(t, `<b>Grace</b>`), items, time.Now())
	require.NoError(t, err)

	assert.NotContains(t, msg.HTML, "<script>")
	assert.NotContains(t, msg.HTML, "onerror")
	assert.NotContains(t, msg.HTML, "<b>Grace</b>")
}

type failingTokens struct{}

func (failingTokens) IssueUnsubscribeToken(uuid.UUID) (string, error) {
	return "", errors.New("signing key unavailable")
}

func TestRender_TokenFailure(t *testing.T) {
	t.Parallel()

	rd, err := NewRenderer(failingTokens{}, "https://digest.example.org")
	require.NoError(t, err)
	_, err = rd.Render(testRecipient(t, ""), nil, time.Now())
	assert.ErrorContains(t, err, "unsubscribe token")
}

func TestNewRenderer_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "digest.example.org", "://bad"} {
		_, err := NewRenderer(staticTokens{}, base)
		assert.ErrorIs(t, err, domain.ErrValidation, base)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", MaxAbstractChars+10)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "One paragraph.", "One paragraph."},
		{"first paragraph only", "First.\n\nSecond.", "First.…"},
		{"trailing blank paragraph", "Only.\n\n", "Only."},
		{"cut to limit", long, strings.Repeat("é", MaxAbstractChars) + "…"},
		{"exact limit", strings.Repeat("a", MaxAbstractChars), strings.Repeat("a", MaxAbstractChars)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Excerpt(tc.in, MaxAbstractChars))
		})
	}
}
