// Package normalize maps raw collection records into categories and articles.
package normalize

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/blocks"
	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/metrics"
	"github.com/JakeFAU/notion-mirror/internal/notion"
)

const (
	untitledCategory = "무제 카테고리"
	untitledArticle  = "무제 문서"
)

// BlockSource fetches the block list of a page.
type BlockSource interface {
	GetPageBlocks(ctx context.Context, pageID string) ([]notion.Block, error)
}

// Stats counts how each article body was obtained.
type Stats struct {
	Reused   int
	Parsed   int
	Fallback int
	Failed   int
}

// Normalizer builds articles, reusing previously parsed bodies when a page is unchanged.
type Normalizer struct {
	source BlockSource
	pause  time.Duration
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns a Normalizer that waits pause between consecutive block fetches.
func New(source BlockSource, pause time.Duration, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{source: source, pause: pause, logger: logger.Named("normalize"), sleep: sleepContext}
}

// Categories maps category records in input order.
func Categories(pages []notion.Page) []content.Category {
	out := make([]content.Category, 0, len(pages))
	for _, page := range pages {
		props := page.Properties
		title := propTitle(props, categoryTitleNames)
		if title == "" {
			title = untitledCategory
		}
		slug := propText(props, categorySlugNames)
		if slug == "" {
			slug = Slugify(title)
		}
		out = append(out, content.Category{
			ID:          page.ID,
			Title:       title,
			Slug:        slug,
			Order:       propNumber(props, categoryOrderNames, DefaultOrder),
			Visible:     propCheckbox(props, visibleNames, true),
			Description: propText(props, categoryDescriptionNames),
		})
	}
	return out
}

// PreviousArticles indexes every article of a payload by id. A nil payload yields an empty map.
func PreviousArticles(p *content.Payload) map[string]content.Article {
	out := make(map[string]content.Article)
	if p == nil {
		return out
	}
	for _, g := range p.Groups {
		for _, item := range g.Items {
			out[item.ID] = item
		}
	}
	return out
}

// Articles maps article records in input order. Block fetches are issued one
// at a time. Only a cancelled ctx aborts the run; a failed fetch for one page
// falls back to that page's previous body, or an empty one.
func (n *Normalizer) Articles(
	ctx context.Context,
	pages []notion.Page,
	previous map[string]content.Article,
) ([]content.Article, Stats, error) {
	var stats Stats
	out := make([]content.Article, 0, len(pages))
	fetched := 0

	for _, page := range pages {
		article := articleFields(page)
		prev, hasPrev := previous[page.ID]
		prevSections := hasPrev && len(prev.Content.Sections) > 0

		switch {
		case prevSections && prev.UpdatedAt == page.LastEditedTime:
			article.Content.Sections = prev.Content.Sections
			stats.Reused++
		default:
			if fetched > 0 && n.pause > 0 {
				if err := n.sleep(ctx, n.pause); err != nil {
					return nil, stats, err
				}
			}
			fetched++
			list, err := n.source.GetPageBlocks(ctx, page.ID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, stats, ctx.Err()
				}
				n.logger.Warn("block fetch failed", zap.String("page_id", page.ID), zap.Error(err))
				stats.Failed++
				if prevSections {
					article.Content.Sections = prev.Content.Sections
				}
				break
			}
			sections := blocks.ParseSections(list, article.Title)
			if len(sections) == 0 && prevSections {
				article.Content.Sections = prev.Content.Sections
				stats.Fallback++
				break
			}
			article.Content.Sections = sections
			stats.Parsed++
		}
		out = append(out, article)
	}

	metrics.AddArticles("reused", stats.Reused)
	metrics.AddArticles("parsed", stats.Parsed)
	metrics.AddArticles("fallback", stats.Fallback)
	metrics.AddArticles("failed", stats.Failed)
	return out, stats, nil
}

func articleFields(page notion.Page) content.Article {
	props := page.Properties
	title := propTitle(props, articleTitleNames)
	if title == "" {
		title = untitledArticle
	}
	slug := propText(props, articleSlugNames)
	if slug == "" {
		slug = Slugify(title)
	}
	bodyTitle := propText(props, articleBodyTitleNames)
	if bodyTitle == "" {
		bodyTitle = title
	}
	return content.Article{
		ID:          page.ID,
		Title:       title,
		Slug:        slug,
		CategoryIDs: propRelationIDs(props, articleCategoryNames),
		Order:       propNumber(props, articleOrderNames, DefaultOrder),
		Status:      content.Status(strings.ToLower(propSelect(props, articleStatusNames, string(content.StatusDraft)))),
		Visible:     propCheckbox(props, visibleNames, true),
		UpdatedAt:   page.LastEditedTime,
		Content: content.ArticleContent{
			Title:    bodyTitle,
			Lead:     propText(props, articleLeadNames),
			Sections: []content.Section{},
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
