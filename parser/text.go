package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText reduces description markup to plain text. Every non-blank text
// node becomes one trimmed line, so label:value pairs separated by <br> or
// block elements stay on their own lines.
func HTMLToText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return strings.TrimSpace(markup)
	}

	var lines []string
	collectText(doc.Selection, &lines)
	return strings.Join(lines, "\n")
}

func collectText(sel *goquery.Selection, lines *[]string) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			if text := strings.TrimSpace(child.Text()); text != "" {
				*lines = append(*lines, text)
			}
		case "#comment", "script", "style":
		default:
			collectText(child, lines)
		}
	})
}
