// Package ingest runs one full refresh: query both collections, normalize, compose.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/notion-mirror/internal/compose"
	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/normalize"
	"github.com/JakeFAU/notion-mirror/internal/notion"
)

// Source is the remote content API.
type Source interface {
	QueryAllPages(ctx context.Context, collectionID string) ([]notion.Page, error)
	normalize.BlockSource
}

// Config names the two collections and the credential used to read them.
type Config struct {
	Token           string
	CategoriesID    string
	ArticlesID      string
	BlockFetchPause time.Duration
}

// Pipeline builds payloads from the remote collections.
type Pipeline struct {
	cfg        Config
	source     Source
	normalizer *normalize.Normalizer
	logger     *zap.Logger
	now        func() time.Time
}

// New returns a Pipeline.
func New(cfg Config, source Source, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		source:     source,
		normalizer: normalize.New(source, cfg.BlockFetchPause, logger),
		logger:     logger.Named("ingest"),
		now:        time.Now,
	}
}

// Missing lists the absent settings by their environment names.
func (p *Pipeline) Missing() []string {
	var missing []string
	if p.cfg.Token == "" {
		missing = append(missing, "NOTION_TOKEN")
	}
	if p.cfg.CategoriesID == "" {
		missing = append(missing, "NOTION_CATEGORIES_DB_ID")
	}
	if p.cfg.ArticlesID == "" {
		missing = append(missing, "NOTION_ARTICLES_DB_ID")
	}
	return missing
}

// Build fetches and composes a payload. previous supplies bodies that may be
// reused for unchanged pages and may be nil.
func (p *Pipeline) Build(ctx context.Context, preview bool, previous *content.Payload) (*content.Payload, error) {
	if missing := p.Missing(); len(missing) > 0 {
		return nil, &content.ConfigurationError{Missing: missing}
	}
	start := p.now()

	var rawCategories, rawArticles []notion.Page
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, err := p.source.QueryAllPages(gctx, p.cfg.CategoriesID)
		if err != nil {
			return fmt.Errorf("fetch categories: %w", err)
		}
		rawCategories = pages
		return nil
	})
	g.Go(func() error {
		pages, err := p.source.QueryAllPages(gctx, p.cfg.ArticlesID)
		if err != nil {
			return fmt.Errorf("fetch articles: %w", err)
		}
		rawArticles = pages
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	categories := normalize.Categories(rawCategories)
	articles, stats, err := p.normalizer.Articles(ctx, rawArticles, normalize.PreviousArticles(previous))
	if err != nil {
		return nil, fmt.Errorf("normalize articles: %w", err)
	}
	payload := compose.Compose(categories, articles, preview, p.now())

	groups, items := payload.Counts()
	p.logger.Info("payload built",
		zap.Bool("preview", preview),
		zap.Int("categories", len(categories)),
		zap.Int("articles", len(articles)),
		zap.Int("groups", groups),
		zap.Int("items", items),
		zap.Int("reused", stats.Reused),
		zap.Int("parsed", stats.Parsed),
		zap.Int("fallback", stats.Fallback),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", p.now().Sub(start)),
	)
	return payload, nil
}
