package normalize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/notion"
)

type fakeSource struct {
	mu     sync.Mutex
	blocks map[string][]notion.Block
	errs   map[string]error
	calls  []string
}

func (f *fakeSource) GetPageBlocks(_ context.Context, pageID string) ([]notion.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pageID)
	if err := f.errs[pageID]; err != nil {
		return nil, err
	}
	return f.blocks[pageID], nil
}

func title(s string) notion.Property {
	return notion.Property{Type: "title", Title: []notion.RichText{{PlainText: s}}}
}

func richText(s string) notion.Property {
	return notion.Property{Type: "rich_text", RichText: []notion.RichText{{PlainText: s}}}
}

func number(v float64) notion.Property {
	return notion.Property{Type: "number", Number: &v}
}

func checkbox(v bool) notion.Property {
	return notion.Property{Type: "checkbox", Checkbox: &v}
}

func selectProp(name string) notion.Property {
	return notion.Property{Type: "select", Select: &notion.SelectOption{Name: name}}
}

func relation(ids ...string) notion.Property {
	p := notion.Property{Type: "relation"}
	for _, id := range ids {
		p.Relation = append(p.Relation, notion.Relation{ID: id})
	}
	return p
}

func paragraph(s string) notion.Block {
	return notion.Block{Type: notion.BlockParagraph, Content: notion.BlockContent{RichText: []notion.RichText{{PlainText: s}}}}
}

func newTestNormalizer(src BlockSource) (*Normalizer, *[]time.Duration) {
	n := New(src, 100*time.Millisecond, nil)
	var pauses []time.Duration
	n.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	return n, &pauses
}

func TestCategoriesAliasesAndDefaults(t *testing.T) {
	t.Parallel()

	cats := Categories([]notion.Page{
		{ID: "c1", Properties: map[string]notion.Property{
			"카테고리명": title("시작하기"),
			"Name":  title("ignored"),
			"정렬순서":  number(2),
			"노출":    checkbox(false),
			"설명":    richText("첫 단계"),
		}},
		{ID: "c2", Properties: map[string]notion.Property{
			"Name": richText("Getting Started!"),
			"Slug": richText("custom-slug"),
		}},
		{ID: "c3"},
	})

	require.Len(t, cats, 3)
	assert.Equal(t, content.Category{ID: "c1", Title: "시작하기", Slug: "시작하기", Order: 2, Visible: false, Description: "첫 단계"}, cats[0])
	assert.Equal(t, "Getting Started!", cats[1].Title)
	assert.Equal(t, "custom-slug", cats[1].Slug)
	assert.Equal(t, float64(DefaultOrder), cats[1].Order)
	assert.True(t, cats[1].Visible)
	assert.Equal(t, "무제 카테고리", cats[2].Title)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hello World":        "hello-world",
		"  Go   1.25 Notes ": "go-125-notes",
		"한글 제목 -- 테스트":       "한글-제목-테스트",
		"!!!":                "untitled",
		"":                   "untitled",
	}
	for in, want := range tests {
		require.Equal(t, want, Slugify(in), in)
	}
}

func TestArticlesFieldMapping(t *testing.T) {
	t.Parallel()

	src := &fakeSource{blocks: map[string][]notion.Block{"a1": {paragraph("body")}}}
	n, _ := newTestNormalizer(src)

	articles, stats, err := n.Articles(context.Background(), []notion.Page{{
		ID:             "a1",
		LastEditedTime: "2024-05-01T00:00:00.000Z",
		Properties: map[string]notion.Property{
			"문서제목":    title("Intro"),
			"상위카테고리":  relation("c1", "", "c2"),
			"카테고리내정렬": number(3),
			"상태":      selectProp("Published"),
			"본문제목":    richText("Welcome"),
			"요약":      richText("short lead"),
		},
	}}, nil)
	require.NoError(t, err)
	require.Equal(t, Stats{Parsed: 1}, stats)
	require.Len(t, articles, 1)

	a := articles[0]
	assert.Equal(t, "Intro", a.Title)
	assert.Equal(t, "intro", a.Slug)
	assert.Equal(t, []string{"c1", "c2"}, a.CategoryIDs)
	assert.Equal(t, float64(3), a.Order)
	assert.Equal(t, content.StatusPublished, a.Status)
	assert.True(t, a.Visible)
	assert.Equal(t, "2024-05-01T00:00:00.000Z", a.UpdatedAt)
	assert.Equal(t, "Welcome", a.Content.Title)
	assert.Equal(t, "short lead", a.Content.Lead)
	require.Len(t, a.Content.Sections, 1)
	assert.Equal(t, "Intro 소개", a.Content.Sections[0].Subtitle)
}

func TestArticlesDefaults(t *testing.T) {
	t.Parallel()

	n, _ := newTestNormalizer(&fakeSource{})
	articles, _, err := n.Articles(context.Background(), []notion.Page{{ID: "a"}}, nil)
	require.NoError(t, err)
	a := articles[0]
	assert.Equal(t, "무제 문서", a.Title)
	assert.Equal(t, content.StatusDraft, a.Status)
	assert.Equal(t, float64(DefaultOrder), a.Order)
	assert.Empty(t, a.CategoryIDs)
	assert.NotNil(t, a.Content.Sections)
	assert.Empty(t, a.Content.Sections)
}

func TestArticlesReuseUnchangedPages(t *testing.T) {
	t.Parallel()

	prevSections := []content.Section{{ID: "sec_1", Subtitle: "old", Level: 2, BodyHTML: "<p>old</p>", Body: "old"}}
	previous := PreviousArticles(&content.Payload{Groups: []content.Group{{Items: []content.Article{
		{ID: "same", UpdatedAt: "T1", Content: content.ArticleContent{Sections: prevSections}},
		{ID: "changed", UpdatedAt: "T1", Content: content.ArticleContent{Sections: prevSections}},
	}}}})

	src := &fakeSource{blocks: map[string][]notion.Block{
		"changed": {paragraph("new")},
		"fresh":   {paragraph("hello")},
	}}
	n, pauses := newTestNormalizer(src)

	articles, stats, err := n.Articles(context.Background(), []notion.Page{
		{ID: "same", LastEditedTime: "T1"},
		{ID: "changed", LastEditedTime: "T2"},
		{ID: "fresh", LastEditedTime: "T1"},
	}, previous)
	require.NoError(t, err)

	require.Equal(t, []string{"changed", "fresh"}, src.calls)
	require.Equal(t, Stats{Reused: 1, Parsed: 2}, stats)
	require.Equal(t, prevSections, articles[0].Content.Sections)
	require.Equal(t, "<p>new</p>", articles[1].Content.Sections[0].BodyHTML)
	require.Equal(t, []time.Duration{100 * time.Millisecond}, *pauses)
}

func TestArticlesFallbacks(t *testing.T) {
	t.Parallel()

	prevSections := []content.Section{{ID: "sec_1", BodyHTML: "<p>kept</p>"}}
	previous := map[string]content.Article{
		"broken": {ID: "broken", UpdatedAt: "T1", Content: content.ArticleContent{Sections: prevSections}},
		"blank":  {ID: "blank", UpdatedAt: "T1", Content: content.ArticleContent{Sections: prevSections}},
	}
	src := &fakeSource{
		blocks: map[string][]notion.Block{"blank": {}},
		errs: map[string]error{
			"broken": errors.New("Notion API 502: bad gateway"),
			"lost":   errors.New("Notion API 404: not found"),
		},
	}
	n, _ := newTestNormalizer(src)

	articles, stats, err := n.Articles(context.Background(), []notion.Page{
		{ID: "broken", LastEditedTime: "T2"},
		{ID: "blank", LastEditedTime: "T2"},
		{ID: "lost", LastEditedTime: "T2"},
	}, previous)
	require.NoError(t, err)
	require.Equal(t, Stats{Fallback: 1, Failed: 2}, stats)
	require.Equal(t, prevSections, articles[0].Content.Sections)
	require.Equal(t, prevSections, articles[1].Content.Sections)
	require.Empty(t, articles[2].Content.Sections)
}

func TestArticlesStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := New(&fakeSource{}, time.Second, nil)

	_, _, err := n.Articles(ctx, []notion.Page{{ID: "a"}, {ID: "b"}}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPreviousArticlesNil(t *testing.T) {
	t.Parallel()

	require.Empty(t, PreviousArticles(nil))
}
