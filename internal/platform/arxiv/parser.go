package arxiv

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/phrazzld/research-digest/internal/domain"
)

// strict removes all markup; arXiv titles and abstracts occasionally carry
// stray tags.
var strict = bluemonday.StrictPolicy()

// ParseFeed converts an export API Atom document into candidates. Entries
// without an ID are dropped; other missing fields degrade to empty values.
func ParseFeed(data []byte) ([]domain.ContentCandidate, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse arxiv feed: %w", domain.ErrTransientExternal, err)
	}

	candidates := make([]domain.ContentCandidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		c, ok := candidateFromItem(item)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func candidateFromItem(item *gofeed.Item) (domain.ContentCandidate, bool) {
	id := externalID(item.GUID)
	if id == "" {
		id = externalID(item.Link)
	}
	if id == "" {
		return domain.ContentCandidate{}, false
	}

	authors := make([]string, 0, len(item.Authors))
	for _, a := range item.Authors {
		if a == nil {
			continue
		}
		if name := collapse(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	return domain.ContentCandidate{
		ExternalID:  id,
		Title:       clean(item.Title),
		Authors:     strings.Join(authors, ", "),
		FullText:    clean(item.Description),
		Category:    primaryCategory(item),
		PublishedAt: publishedAt(item),
	}, true
}

// externalID returns the last path segment of an entry ID such as
// http://arxiv.org/abs/2401.01234v1.
func externalID(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	return raw
}

func primaryCategory(item *gofeed.Item) string {
	if ext, ok := item.Extensions["arxiv"]; ok {
		for _, pc := range ext["primary_category"] {
			if term := strings.TrimSpace(pc.Attrs["term"]); term != "" {
				return term
			}
		}
	}
	for _, c := range item.Categories {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func publishedAt(item *gofeed.Item) *time.Time {
	t := item.PublishedParsed
	if t == nil {
		t = item.UpdatedParsed
	}
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// clean strips markup and collapses whitespace. The sanitizer escapes
// entities, so the result is unescaped again; templates escape on output.
func clean(s string) string {
	return collapse(html.UnescapeString(strict.Sanitize(s)))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
