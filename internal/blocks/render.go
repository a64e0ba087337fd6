package blocks

import (
	"strings"

	"github.com/JakeFAU/notion-mirror/internal/notion"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Escape replaces the five HTML-significant characters with entities.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// PlainText concatenates the runs and trims surrounding whitespace.
func PlainText(runs []notion.RichText) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.PlainText)
	}
	return strings.TrimSpace(b.String())
}

// RenderRichText renders styled runs to inline HTML. Empty runs are skipped.
//
// Markers nest from the inside out in a fixed order: link, code, bold,
// italic, underline, strikethrough, then a color span.
func RenderRichText(runs []notion.RichText) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(renderRun(r))
	}
	return b.String()
}

func renderRun(r notion.RichText) string {
	text := strings.ReplaceAll(Escape(r.PlainText), "\n", "<br/>")
	if text == "" {
		return ""
	}
	if r.Href != "" {
		text = `<a href="` + Escape(r.Href) + `" target="_blank" rel="noreferrer noopener">` + text + `</a>`
	}
	a := r.Annotations
	if a.Code {
		text = wrap("code", text)
	}
	if a.Bold {
		text = wrap("strong", text)
	}
	if a.Italic {
		text = wrap("em", text)
	}
	if a.Underline {
		text = wrap("u", text)
	}
	if a.Strikethrough {
		text = wrap("s", text)
	}
	if a.HasColor() {
		text = `<span data-notion-color="` + Escape(a.Color) + `">` + text + `</span>`
	}
	return text
}

func wrap(tag, inner string) string {
	return "<" + tag + ">" + inner + "</" + tag + ">"
}
