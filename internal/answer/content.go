package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/sitechat/internal/domain"
)

const (
	ellipsis      = "..."
	pageSeparator = "[END OF PAGE]\n"
)

// BuildSiteContent renders crawled pages into a single context string of at
// most budget characters (plus a trailing ellipsis when cut). Each page gets
// an equal share of the budget; pages without markdown are skipped but still
// count towards the share. Lengths are measured in runes.
func BuildSiteContent(pages domain.Bundle, budget int) string {
	if len(pages) == 0 || budget <= 0 {
		return ""
	}
	perPage := budget / len(pages)

	var sb strings.Builder
	total := 0
	for _, p := range pages {
		if p.Markdown == "" {
			continue
		}
		block := renderPageBlock(p, perPage) + pageSeparator
		n := utf8.RuneCountInString(block)

		if total+n > budget {
			sb.WriteString(truncateRunes(block, budget-total))
			sb.WriteString(ellipsis)
			break
		}
		sb.WriteString(block)
		total += n
		if total == budget {
			break
		}
	}
	return sb.String()
}

// renderPageBlock formats one page, cutting it to limit runes plus an
// ellipsis when it is longer.
func renderPageBlock(p domain.Page, limit int) string {
	title := p.Title
	if title == "" {
		title = "No Title"
	}
	url := p.SourceURL
	if url == "" {
		url = "No URL"
	}
	block := fmt.Sprintf("Page Title: %s\nURL: %s\nContent:\n%s\n\n", title, url, p.Markdown)
	if utf8.RuneCountInString(block) > limit {
		return truncateRunes(block, limit) + ellipsis
	}
	return block
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
