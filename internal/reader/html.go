package reader

import (
	"bytes"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// minArticleChars guards against readability "succeeding" on a nav shell.
const minArticleChars = 200

// extractArticle turns raw HTML into (title, text). Readability runs first;
// when it errors or yields too little text, a plain DOM walk over the main
// content region takes over.
func extractArticle(body []byte, pageURL *url.URL) (string, string) {
	art, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		text := tidyText(art.TextContent)
		if len(text) >= minArticleChars {
			return strings.TrimSpace(art.Title), text
		}
	}
	return domExtract(body)
}

// domExtract walks the parsed tree, preferring <main>/<article> over <body>,
// keeping block structure as newlines and skipping script, style, and
// navigation chrome.
func domExtract(body []byte) (string, string) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil || root == nil {
		return "", ""
	}
	title := ""
	if t := firstElement(root, "title"); t != nil && t.FirstChild != nil {
		title = strings.TrimSpace(t.FirstChild.Data)
	}
	content := firstElement(root, "main")
	if content == nil {
		content = firstElement(root, "article")
	}
	if content == nil {
		content = firstElement(root, "body")
	}
	if content == nil {
		return title, ""
	}
	var b strings.Builder
	walkText(&b, content, false)
	return title, tidyText(b.String())
}

func firstElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := firstElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func walkText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "nav", "footer", "aside", "iframe", "template", "svg":
			return
		case "pre", "code":
			inPre = true
		case "br", "hr":
			b.WriteByte('\n')
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr", "blockquote", "ul", "ol":
			b.WriteByte('\n')
		}
	}
	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.ReplaceAll(data, "\t", " ")
			data = strings.ReplaceAll(data, "\r", " ")
		}
		b.WriteString(data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(b, c, inPre)
	}
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
			b.WriteString("\n\n")
		case "li", "tr", "pre", "code":
			b.WriteByte('\n')
		}
	}
}

// tidyText trims each line, collapses internal space runs, and squeezes
// consecutive blank lines down to one.
func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, trimmed)
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
