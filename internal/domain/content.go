package domain

import (
	"strings"
	"time"
)

// ContentRecord is a stored research paper. ExternalID is the upstream
// identifier and the natural key; records are immutable after creation apart
// from the one-time synopsis and embedding backfill.
type ContentRecord struct {
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Authors         string     `json:"authors"`
	FullText        string     `json:"full_text"`
	Synopsis        *string    `json:"synopsis,omitempty"`
	Embedding       []float32  `json:"embedding,omitempty"`
	Category        string     `json:"category"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
	SummaryAttempts int        `json:"summary_attempts"`
}

// ContentCandidate is a parsed upstream entry that has not been stored yet.
type ContentCandidate struct {
	ExternalID  string
	Title       string
	Authors     string
	FullText    string
	Category    string
	PublishedAt *time.Time
}

// Validate checks that the candidate carries its natural key.
func (c ContentCandidate) Validate() error {
	if strings.TrimSpace(c.ExternalID) == "" {
		return ErrEmptyExternalID
	}
	return nil
}

// IsSummarized reports whether the synopsis backfill has completed.
func (r *ContentRecord) IsSummarized() bool {
	return r.Synopsis != nil
}
