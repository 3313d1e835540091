// Package catalog provides read access to products and changelog entries.
// It backs the assistant tools: listing products, searching entries, and
// fetching entry details. Visibility depends on the caller's tier; public
// callers never see drafts or internal notes.
package catalog

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested entry or product does not exist,
// or is not visible at the caller's tier.
var ErrNotFound = errors.New("catalog: not found")

// Tier is the caller's visibility tier.
type Tier string

const (
	// TierPublic sees only published entries, without internal notes.
	TierPublic Tier = "public"

	// TierAdmin sees drafts and internal notes.
	TierAdmin Tier = "admin"
)

// Entry statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// SummaryMaxLength is the rune cap applied to entry bodies in search
// results.
const SummaryMaxLength = 300

// Product is one product with a changelog.
type Product struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Entry is a full changelog entry. InternalNotes is empty for public
// callers.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	ProductID     uuid.UUID  `json:"productId"`
	ProductSlug   string     `json:"productSlug"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Status        string     `json:"status"`
	InternalNotes string     `json:"internalNotes,omitempty"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// EntrySummary is a search result row with a truncated body.
type EntrySummary struct {
	ID          uuid.UUID  `json:"id"`
	ProductSlug string     `json:"productSlug"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// SearchParams filters and paginates an entry search.
type SearchParams struct {
	Query       string
	ProductSlug string
	Status      string
	Page        int32
	PerPage     int32
}

const (
	defaultPerPage = 10
	maxPerPage     = 50
)

// normalize clamps pagination to sane bounds.
func (p *SearchParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
}

// Summarize truncates a body to SummaryMaxLength runes with a trailing
// ellipsis, collapsing whitespace first.
func Summarize(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	runes := []rune(s)
	if len(runes) <= SummaryMaxLength {
		return s
	}
	return string(runes[:SummaryMaxLength]) + "..."
}
