package normalize

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/notion-mirror/internal/blocks"
	"github.com/JakeFAU/notion-mirror/internal/notion"
)

// Property aliases, first present wins.
var (
	categoryTitleNames       = []string{"카테고리명", "이름", "Name", "name"}
	categorySlugNames        = []string{"슬러그", "Slug"}
	categoryOrderNames       = []string{"정렬순서", "Order"}
	categoryDescriptionNames = []string{"설명", "Description"}

	articleTitleNames     = []string{"문서제목", "이름", "Title", "Name"}
	articleSlugNames      = []string{"문서슬러그", "Slug"}
	articleCategoryNames  = []string{"상위카테고리", "Category"}
	articleOrderNames     = []string{"카테고리내정렬", "Order"}
	articleStatusNames    = []string{"상태", "Status"}
	articleBodyTitleNames = []string{"본문제목"}
	articleLeadNames      = []string{"요약", "Lead"}

	visibleNames = []string{"노출", "Visible"}
)

// DefaultOrder is used when a record has no numeric order.
const DefaultOrder = 9999

func firstDefined(props map[string]notion.Property, names []string) (notion.Property, bool) {
	for _, name := range names {
		if p, ok := props[name]; ok {
			return p, true
		}
	}
	return notion.Property{}, false
}

// propTitle prefers the title runs, then rich text.
func propTitle(props map[string]notion.Property, names []string) string {
	p, ok := firstDefined(props, names)
	if !ok {
		return ""
	}
	switch p.Type {
	case "title":
		return blocks.PlainText(p.Title)
	case "rich_text":
		return blocks.PlainText(p.RichText)
	}
	return ""
}

// propText prefers rich text, then title runs.
func propText(props map[string]notion.Property, names []string) string {
	p, ok := firstDefined(props, names)
	if !ok {
		return ""
	}
	switch p.Type {
	case "rich_text":
		return blocks.PlainText(p.RichText)
	case "title":
		return blocks.PlainText(p.Title)
	}
	return ""
}

func propNumber(props map[string]notion.Property, names []string, fallback float64) float64 {
	p, ok := firstDefined(props, names)
	if !ok || p.Type != "number" || p.Number == nil {
		return fallback
	}
	return *p.Number
}

func propCheckbox(props map[string]notion.Property, names []string, fallback bool) bool {
	p, ok := firstDefined(props, names)
	if !ok || p.Type != "checkbox" {
		return fallback
	}
	return p.Checkbox != nil && *p.Checkbox
}

func propSelect(props map[string]notion.Property, names []string, fallback string) string {
	p, ok := firstDefined(props, names)
	if !ok || p.Type != "select" || p.Select == nil || p.Select.Name == "" {
		return fallback
	}
	return p.Select.Name
}

func propRelationIDs(props map[string]notion.Property, names []string) []string {
	p, ok := firstDefined(props, names)
	if !ok || p.Type != "relation" {
		return []string{}
	}
	ids := make([]string, 0, len(p.Relation))
	for _, r := range p.Relation {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9가-힣\s-]`)
	slugSpaces   = regexp.MustCompile(`\s+`)
	slugDashRuns = regexp.MustCompile(`-+`)
)

// Slugify lower-cases s, keeps ASCII letters, digits, Hangul syllables, spaces
// and dashes, then joins words with single dashes. It returns "untitled" when
// nothing survives.
func Slugify(s string) string {
	out := strings.ToLower(strings.TrimSpace(s))
	out = slugStrip.ReplaceAllString(out, "")
	out = slugSpaces.ReplaceAllString(out, "-")
	out = slugDashRuns.ReplaceAllString(out, "-")
	if out == "" {
		return "untitled"
	}
	return out
}
