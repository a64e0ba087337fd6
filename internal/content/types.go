// Package content defines the normalized shapes shared across the ingestion pipeline.
package content

import (
	"fmt"
	"strings"
	"time"
)

// Status is the editorial state of an article.
type Status string

// Article status values as they appear in the articles collection.
const (
	StatusDraft     Status = "draft"
	StatusReview    Status = "review"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// PayloadVersion is the schema version emitted in every payload.
const PayloadVersion = 1

// PayloadSource identifies where the payload was composed from.
const PayloadSource = "notion"

// Category is one row of the categories collection.
type Category struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Order       float64 `json:"order"`
	Visible     bool    `json:"visible"`
	Description string  `json:"description"`
}

// Section is one heading-delimited unit of an article body.
type Section struct {
	ID       string `json:"id"`
	Subtitle string `json:"subtitle"`
	Level    int    `json:"level"`
	BodyHTML string `json:"body_html"`
	Body     string `json:"body"`
}

// Empty reports whether the section carries no body at all.
func (s Section) Empty() bool {
	return s.BodyHTML == "" && s.Body == ""
}

// ArticleContent is the rendered body of an article.
type ArticleContent struct {
	Title    string    `json:"title"`
	Lead     string    `json:"lead"`
	Sections []Section `json:"sections"`
}

// Article is one row of the articles collection with its normalized body.
type Article struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Slug        string         `json:"slug"`
	CategoryIDs []string       `json:"categoryIds,omitempty"`
	Order       float64        `json:"order"`
	Status      Status         `json:"status"`
	Visible     bool           `json:"visible"`
	UpdatedAt   string         `json:"updatedAt"`
	Content     ArticleContent `json:"content"`
}

// InCategory reports whether the article is related to the category id.
func (a Article) InCategory(categoryID string) bool {
	for _, id := range a.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

// Group is a category together with the articles listed under it.
type Group struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Order       float64   `json:"order"`
	Visible     bool      `json:"visible"`
	Description string    `json:"description"`
	Items       []Article `json:"items"`
}

// Payload is the composed tree served to the front end.
type Payload struct {
	Version     int     `json:"version"`
	Source      string  `json:"source"`
	UpdatedAt   string  `json:"updatedAt"`
	Groups      []Group `json:"groups"`
	Stale       bool    `json:"stale,omitempty"`
	StaleReason string  `json:"staleReason,omitempty"`
}

// Counts returns the number of groups and the total number of items.
func (p *Payload) Counts() (groups int, items int) {
	if p == nil {
		return 0, 0
	}
	for _, g := range p.Groups {
		items += len(g.Items)
	}
	return len(p.Groups), items
}

// WithStale returns a shallow copy flagged as stale. The receiver is left untouched.
func (p *Payload) WithStale(reason string) *Payload {
	cp := *p
	cp.Stale = true
	cp.StaleReason = reason
	return &cp
}

// Snapshot wraps a payload stored in the draft or published slot.
type Snapshot struct {
	Payload     *Payload   `json:"payload"`
	SyncedAt    *time.Time `json:"syncedAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// ConfigurationError reports required settings that are absent.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
}
