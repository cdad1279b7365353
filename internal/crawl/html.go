package crawl

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// textSegments returns every non-empty text node under sel, whitespace
// collapsed, in document order.
func textSegments(sel *goquery.Selection) []string {
	var parts []string
	for _, node := range sel.Nodes {
		collectText(node, &parts)
	}
	return parts
}

func collectText(node *html.Node, parts *[]string) {
	if node.Type == html.TextNode {
		if s := strings.Join(strings.Fields(node.Data), " "); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, parts)
	}
}

// ownText returns sel's direct text content with child elements excluded.
// Result rows interleave plain text with <span> annotations in the same
// cell, so Text() alone would merge two distinct fields.
func ownText(sel *goquery.Selection) string {
	var parts []string
	for _, node := range sel.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.TextNode {
				continue
			}
			if s := strings.Join(strings.Fields(child.Data), " "); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// cellText flattens a table cell to one space-joined string.
func cellText(sel *goquery.Selection) string {
	return strings.Join(textSegments(sel), " ")
}
