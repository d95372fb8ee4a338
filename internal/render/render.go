// Package render turns message bodies into plain wrapped lines for the
// pager, in both rendered and raw form.
package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	nethtml "golang.org/x/net/html"

	"github.com/glabrego/threadnews-cli/internal/source"
)

// RawWidth caps line length in raw mode regardless of terminal size.
const RawWidth = 120

var reQuotePrefix = regexp.MustCompile(`^((?:> ?)+)`)

// MessageLines builds the full pager view of a message: pseudo mail
// headers, a blank separator, then the body.
func MessageLines(msg source.Message, width int, raw bool) []string {
	lines := HeaderLines(msg)
	lines = append(lines, "")

	switch {
	case msg.Dead:
		lines = append(lines, "[deleted]")
	case raw:
		lines = append(lines, RawLines(msg.Body)...)
	default:
		lines = append(lines, BodyLines(msg.Body, width)...)
	}
	return lines
}

// HeaderLines renders the RFC-822-style pseudo headers shown above a
// message body.
func HeaderLines(msg source.Message) []string {
	return []string{
		"Content-Location: " + msg.URL,
		"Date: " + msg.Posted.Format(time.RFC1123),
		"From: " + msg.Author,
		"Subject: " + msg.Title,
	}
}

// BodyLines renders an HTML body fragment into wrapped plain text.
// Paragraphs separate with blank lines, emphasis renders as *stars*,
// preformatted blocks keep their own line breaks behind a two-space
// indent, and link targets collect into a reference list at the end.
func BodyLines(body string, width int) []string {
	raw := strings.TrimSpace(body)
	if raw == "" {
		return nil
	}

	doc, err := nethtml.Parse(strings.NewReader("<html><body>" + raw + "</body></html>"))
	if err != nil {
		return wrapText(strings.TrimSpace(html.UnescapeString(raw)), width)
	}
	bodyNode := findBodyNode(doc)
	if bodyNode == nil {
		return wrapText(strings.TrimSpace(html.UnescapeString(raw)), width)
	}

	r := &renderer{width: max(1, width)}
	for child := bodyNode.FirstChild; child != nil; child = child.NextSibling {
		r.renderNode(child)
	}
	r.flushParagraph()

	if len(r.links) > 0 {
		r.lines = append(r.lines, "")
		for i, link := range r.links {
			r.lines = append(r.lines, fmt.Sprintf("[%d] %s", i+1, link))
		}
	}
	return trimBlankLines(r.lines)
}

// RawLines shows the body as delivered, with only the handful of
// entities the sources actually emit replaced, wrapped at RawWidth.
func RawLines(body string) []string {
	replacer := strings.NewReplacer(
		"&gt;", ">",
		"&lt;", "<",
		"&quot;", `"`,
		"&#x27;", "'",
		"&#38;", "&",
		"&amp;", "&",
	)
	text := strings.TrimSpace(replacer.Replace(body))
	if text == "" {
		return nil
	}
	return wrapText(text, RawWidth)
}

type renderer struct {
	width int
	lines []string
	cur   strings.Builder
	links []string
}

func (r *renderer) renderNode(node *nethtml.Node) {
	switch node.Type {
	case nethtml.TextNode:
		r.cur.WriteString(collapseSpace(node.Data))
		return
	case nethtml.ElementNode:
	default:
		return
	}

	switch strings.ToLower(node.Data) {
	case "p", "div":
		r.flushParagraph()
		r.renderChildren(node)
		r.flushParagraph()
	case "br":
		r.cur.WriteString("\n")
	case "i", "em", "b", "strong":
		r.cur.WriteString("*")
		r.renderChildren(node)
		r.cur.WriteString("*")
	case "pre":
		r.flushParagraph()
		text := strings.TrimRight(collectRawText(node), "\n")
		text = strings.TrimPrefix(text, "\n")
		for _, line := range strings.Split(text, "\n") {
			r.lines = append(r.lines, "  "+strings.TrimRight(line, " \t"))
		}
		r.lines = append(r.lines, "")
	case "a":
		text := strings.TrimSpace(collectRawText(node))
		href := nodeAttr(node, "href")
		switch {
		case text == "" && href != "":
			r.cur.WriteString(href)
		case href != "" && href != text:
			r.links = append(r.links, href)
			r.cur.WriteString(fmt.Sprintf("%s [%d]", text, len(r.links)))
		default:
			r.cur.WriteString(text)
		}
	default:
		r.renderChildren(node)
	}
}

func (r *renderer) renderChildren(node *nethtml.Node) {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		r.renderNode(child)
	}
}

// flushParagraph wraps the pending inline text and emits it followed by
// a blank line. Quoted segments keep their "> " prefix on every wrapped
// line.
func (r *renderer) flushParagraph() {
	text := r.cur.String()
	r.cur.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}

	for _, segment := range strings.Split(text, "\n") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		r.lines = append(r.lines, wrapQuoted(segment, r.width)...)
	}
	r.lines = append(r.lines, "")
}

// wrapQuoted word-wraps one segment, re-applying its quote prefix to
// continuation lines.
func wrapQuoted(segment string, width int) []string {
	prefix := reQuotePrefix.FindString(segment)
	if prefix == "" {
		return wrapText(segment, width)
	}

	body := strings.TrimSpace(segment[len(prefix):])
	prefix = strings.TrimRight(prefix, " ") + " "
	inner := width - len(prefix)
	if inner < 1 {
		inner = 1
	}

	wrapped := wrapText(body, inner)
	out := make([]string, 0, len(wrapped))
	for _, line := range wrapped {
		out = append(out, prefix+line)
	}
	if len(out) == 0 {
		out = append(out, strings.TrimRight(prefix, " "))
	}
	return out
}

// wrapText word-wraps text at width, measuring in runes so multi-byte
// words neither wrap early nor get split mid-rune.
func wrapText(text string, width int) []string {
	if width < 1 {
		return []string{text}
	}
	paragraphs := strings.Split(text, "\n")
	out := make([]string, 0, len(paragraphs))

	for _, p := range paragraphs {
		words := strings.Fields(p)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := ""
		lineLen := 0
		for _, word := range words {
			wordLen := utf8.RuneCountInString(word)
			for wordLen > width {
				if line != "" {
					out = append(out, line)
					line, lineLen = "", 0
				}
				runes := []rune(word)
				out = append(out, string(runes[:width]))
				word = string(runes[width:])
				wordLen -= width
			}

			if line == "" {
				line, lineLen = word, wordLen
				continue
			}
			if lineLen+1+wordLen <= width {
				line += " " + word
				lineLen += 1 + wordLen
				continue
			}
			out = append(out, line)
			line, lineLen = word, wordLen
		}
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}

// collapseSpace squeezes runs of whitespace to single spaces while
// keeping one boundary space, so adjacent inline nodes stay separated.
func collapseSpace(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	if collapsed == "" {
		if s != "" {
			return " "
		}
		return ""
	}
	if strings.IndexFunc(s, func(r rune) bool { return r != ' ' && r != '\t' && r != '\r' && r != '\n' }) > 0 {
		collapsed = " " + collapsed
	}
	if strings.TrimRight(s, " \t\r\n") != s {
		collapsed += " "
	}
	return collapsed
}

func trimBlankLines(lines []string) []string {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines) - 1
	for end >= start && strings.TrimSpace(lines[end]) == "" {
		end--
	}
	if end < start {
		return nil
	}

	out := make([]string, 0, end-start+1)
	prevBlank := false
	for i := start; i <= end; i++ {
		blank := strings.TrimSpace(lines[i]) == ""
		if blank && prevBlank {
			continue
		}
		out = append(out, lines[i])
		prevBlank = blank
	}
	return out
}

func findBodyNode(node *nethtml.Node) *nethtml.Node {
	if node == nil {
		return nil
	}
	if node.Type == nethtml.ElementNode && strings.EqualFold(node.Data, "body") {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findBodyNode(child); found != nil {
			return found
		}
	}
	return nil
}

func nodeAttr(node *nethtml.Node, name string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, name) {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func collectRawText(node *nethtml.Node) string {
	if node == nil {
		return ""
	}
	if node.Type == nethtml.TextNode {
		return node.Data
	}
	var b strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		b.WriteString(collectRawText(child))
	}
	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
