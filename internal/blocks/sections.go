// Package blocks turns a page's block list into heading-delimited sections of HTML.
package blocks

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/notion"
)

const (
	defaultCalloutIcon = "💡"
	defaultToggleLabel = "토글"
)

// section accumulates the body of the section being built.
type section struct {
	content.Section
	html  strings.Builder
	lines []string
}

func (s *section) add(fragment, plain string) {
	s.html.WriteString(fragment)
	if plain != "" {
		s.lines = append(s.lines, plain)
	}
}

func (s *section) finish() content.Section {
	out := s.Section
	out.BodyHTML = s.html.String()
	out.Body = strings.Join(s.lines, "\n")
	return out
}

// ParseSections scans blocks left to right. Headings close the current section
// and open a new one; everything else is appended to the current section.
// Sections with no body are dropped, including a trailing heading with nothing
// under it.
func ParseSections(list []notion.Block, pageTitle string) []content.Section {
	sections := make([]content.Section, 0)
	index := 1
	current := &section{Section: content.Section{
		ID:       "sec_1",
		Subtitle: pageTitle + " 소개",
		Level:    2,
	}}
	flush := func() {
		if s := current.finish(); !s.Empty() {
			sections = append(sections, s)
		}
	}

	for i := 0; i < len(list); {
		b := list[i]
		if level, ok := headingLevel(b.Type); ok {
			flush()
			index++
			subtitle := PlainText(b.Content.RichText)
			if subtitle == "" {
				subtitle = fmt.Sprintf("소제목 %d", index)
			}
			current = &section{Section: content.Section{
				ID:       fmt.Sprintf("sec_%d", index),
				Subtitle: subtitle,
				Level:    level,
			}}
			i++
			continue
		}
		i = renderBlock(current, list, i, false)
	}
	flush()
	return sections
}

func headingLevel(blockType string) (int, bool) {
	switch blockType {
	case notion.BlockHeading1:
		return 2, true
	case notion.BlockHeading2:
		return 3, true
	case notion.BlockHeading3:
		return 4, true
	default:
		return 0, false
	}
}

// renderBlock appends list[i] (or the list run starting at i) to s and returns
// the index of the next unconsumed block. Nested rendering is used for toggle
// children: toggles inside toggles fall back to a plain paragraph.
func renderBlock(s *section, list []notion.Block, i int, nested bool) int {
	b := list[i]
	runs := b.Content.RichText
	html := RenderRichText(runs)
	plain := PlainText(runs)

	switch b.Type {
	case notion.BlockParagraph:
		if html != "" {
			s.add("<p>"+html+"</p>", plain)
		}
	case notion.BlockQuote:
		if html != "" {
			s.add(`<blockquote class="notion-quote">`+html+`</blockquote>`, plain)
		}
	case notion.BlockCallout:
		if html != "" {
			icon := defaultCalloutIcon
			if b.Content.Icon != nil && b.Content.Icon.Type == "emoji" && b.Content.Icon.Emoji != "" {
				icon = b.Content.Icon.Emoji
			}
			s.add(`<div class="notion-callout"><span class="notion-callout-icon">`+Escape(icon)+
				`</span><div class="notion-callout-content">`+html+`</div></div>`, plain)
		}
	case notion.BlockToDo:
		if html != "" {
			s.add(todoItem(b.Content.Checked, html), plain)
		}
	case notion.BlockCode:
		if html != "" {
			s.add(codeBlock(b.Content.Language, html), plain)
		}
	case notion.BlockDivider:
		s.add(`<hr class="notion-divider"/>`, "")
	case notion.BlockBulleted, notion.BlockNumbered:
		return renderList(s, list, i)
	case notion.BlockToggle:
		if nested {
			if plain != "" {
				s.add("<p>"+html+"</p>", plain)
			}
			break
		}
		renderToggle(s, b, html, plain)
	default:
		if plain != "" {
			s.add("<p>"+html+"</p>", plain)
		}
	}
	return i + 1
}

// renderList consumes the run of same-kind list items starting at i.
func renderList(s *section, list []notion.Block, i int) int {
	kind := list[i].Type
	tag, class := "ul", "notion-bulleted"
	if kind == notion.BlockNumbered {
		tag, class = "ol", "notion-numbered"
	}

	var (
		items strings.Builder
		plain []string
	)
	for ; i < len(list) && list[i].Type == kind; i++ {
		runs := list[i].Content.RichText
		items.WriteString("<li>" + RenderRichText(runs) + "</li>")
		if text := PlainText(runs); text != "" {
			plain = append(plain, text)
		}
	}
	s.add("<"+tag+` class="`+class+`">`+items.String()+"</"+tag+">", strings.Join(plain, "\n"))
	return i
}

func renderToggle(s *section, b notion.Block, summary, plain string) {
	if summary == "" {
		summary = defaultToggleLabel
	}
	if plain == "" {
		plain = defaultToggleLabel
	}
	body := &section{}
	for j := 0; j < len(b.Children); {
		j = renderBlock(body, b.Children, j, true)
	}
	lines := append([]string{plain}, body.lines...)
	s.add(`<details class="notion-toggle"><summary>`+summary+`</summary>`+body.html.String()+`</details>`,
		strings.Join(lines, "\n"))
}

func todoItem(checked bool, html string) string {
	return fmt.Sprintf(`<ul class="notion-todo"><li data-checked="%t">%s</li></ul>`, checked, html)
}

func codeBlock(language, html string) string {
	if language == "" {
		return `<pre class="notion-code"><code>` + html + `</code></pre>`
	}
	return `<pre class="notion-code" data-language="` + Escape(language) + `"><code>` + html + `</code></pre>`
}
