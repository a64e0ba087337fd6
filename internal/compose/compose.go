// Package compose groups normalized articles under their categories.
package compose

import (
	"slices"
	"time"

	"github.com/JakeFAU/notion-mirror/internal/content"
)

// Compose builds the payload tree. Categories and items are stable-sorted by
// order. Outside preview, hidden categories are dropped, items must be
// visible and published, and categories left without items are omitted.
func Compose(categories []content.Category, articles []content.Article, preview bool, now time.Time) *content.Payload {
	sorted := slices.Clone(categories)
	slices.SortStableFunc(sorted, func(a, b content.Category) int {
		return compareOrder(a.Order, b.Order)
	})

	groups := make([]content.Group, 0, len(sorted))
	for _, cat := range sorted {
		if !preview && !cat.Visible {
			continue
		}
		items := make([]content.Article, 0)
		for _, a := range articles {
			if !a.InCategory(cat.ID) {
				continue
			}
			if !preview && (!a.Visible || a.Status != content.StatusPublished) {
				continue
			}
			item := a
			item.CategoryIDs = nil
			items = append(items, item)
		}
		if len(items) == 0 && !preview {
			continue
		}
		slices.SortStableFunc(items, func(a, b content.Article) int {
			return compareOrder(a.Order, b.Order)
		})
		groups = append(groups, content.Group{
			ID:          cat.ID,
			Title:       cat.Title,
			Slug:        cat.Slug,
			Order:       cat.Order,
			Visible:     cat.Visible,
			Description: cat.Description,
			Items:       items,
		})
	}

	return &content.Payload{
		Version:   content.PayloadVersion,
		Source:    content.PayloadSource,
		UpdatedAt: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Groups:    groups,
	}
}

func compareOrder(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
