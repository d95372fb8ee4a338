package render

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/glabrego/threadnews-cli/internal/source"
)

func TestBodyLines_ParagraphsAndEmphasis(t *testing.T) {
	body := "<p>First paragraph with <i>emphasis</i> inside.</p><p>Second one.</p>"
	lines := BodyLines(body, 80)

	want := []string{
		"First paragraph with *emphasis* inside.",
		"",
		"Second one.",
	}
	if len(lines) != len(want) {
		t.Fatalf("unexpected lines: %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestBodyLines_WrapsAtWidth(t *testing.T) {
	body := "<p>one two three four five six seven eight nine ten</p>"
	for _, line := range BodyLines(body, 20) {
		if len(line) > 20 {
			t.Fatalf("line exceeds width: %q", line)
		}
	}
}

func TestWrapText_MultiByteRunes(t *testing.T) {
	// An over-long CJK token splits on rune boundaries, never mid-rune.
	lines := wrapText("日本語のとても長い単語です", 4)
	var rebuilt strings.Builder
	for _, line := range lines {
		if !utf8.ValidString(line) {
			t.Fatalf("line is not valid UTF-8: %q", line)
		}
		if n := utf8.RuneCountInString(line); n > 4 {
			t.Fatalf("line exceeds width in runes (%d): %q", n, line)
		}
		rebuilt.WriteString(line)
	}
	if rebuilt.String() != "日本語のとても長い単語です" {
		t.Fatalf("split dropped content: %q", lines)
	}

	// Accented words measure in runes, not bytes: 11 runes fit width 11.
	lines = wrapText("héllo wörld", 11)
	if len(lines) != 1 || lines[0] != "héllo wörld" {
		t.Fatalf("accented text wrapped early: %q", lines)
	}
}

func TestBodyLines_QuotePrefixPreserved(t *testing.T) {
	body := "<p>&gt; a quoted remark that is certainly long enough to need wrapping somewhere</p><p>And the reply.</p>"
	lines := BodyLines(body, 30)

	sawQuote := false
	for _, line := range lines {
		if strings.HasPrefix(line, "> ") {
			sawQuote = true
		}
		if len(line) > 30 {
			t.Fatalf("line exceeds width: %q", line)
		}
	}
	if !sawQuote {
		t.Fatalf("quote prefix lost: %q", lines)
	}
	// Every wrapped continuation of the quote keeps the prefix.
	for i, line := range lines {
		if line == "" {
			if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "> ") {
				t.Fatalf("quote block split by blank line: %q", lines)
			}
			break
		}
		if !strings.HasPrefix(line, "> ") {
			t.Fatalf("continuation lost prefix: %q", lines)
		}
	}
}

func TestBodyLines_PreBlockKeptVerbatim(t *testing.T) {
	body := "<p>code:</p><pre><code>func main() {\n\tfmt.Println()\n}</code></pre>"
	lines := BodyLines(body, 10)

	found := false
	for _, line := range lines {
		if line == "  func main() {" {
			found = true
		}
	}
	if !found {
		t.Fatalf("pre block not indented verbatim: %q", lines)
	}
}

func TestBodyLines_LinkReferences(t *testing.T) {
	body := `<p>See <a href="https://example.org/a">the docs</a> and <a href="https://example.org/b">more</a>.</p>`
	lines := BodyLines(body, 80)

	text := strings.Join(lines, "\n")
	if !strings.Contains(text, "the docs [1]") || !strings.Contains(text, "more [2]") {
		t.Fatalf("inline link markers missing: %q", text)
	}
	if lines[len(lines)-2] != "[1] https://example.org/a" || lines[len(lines)-1] != "[2] https://example.org/b" {
		t.Fatalf("reference list wrong: %q", lines)
	}
}

func TestBodyLines_BareLinkPrintsTarget(t *testing.T) {
	body := `<p><a href="https://example.org">https://example.org</a></p>`
	lines := BodyLines(body, 80)
	if len(lines) != 1 || lines[0] != "https://example.org" {
		t.Fatalf("self-referencing link must not gain a marker: %q", lines)
	}
}

func TestBodyLines_EmptyBody(t *testing.T) {
	if lines := BodyLines("  ", 80); lines != nil {
		t.Fatalf("expected nil for blank body, got %q", lines)
	}
}

func TestRawLines_KeepsMarkup(t *testing.T) {
	lines := RawLines("<p>a &gt; b &amp; c</p>")
	if len(lines) != 1 || lines[0] != "<p>a > b & c</p>" {
		t.Fatalf("unexpected raw lines: %q", lines)
	}
}

func TestRawLines_CapsWidth(t *testing.T) {
	long := strings.Repeat("word ", 60)
	for _, line := range RawLines(long) {
		if len(line) > RawWidth {
			t.Fatalf("raw line exceeds %d columns: %d", RawWidth, len(line))
		}
	}
}

func TestHeaderLines(t *testing.T) {
	msg := source.Message{
		URL:    "https://news.ycombinator.com/item?id=42",
		Author: "alice",
		Title:  "Launch",
		Posted: time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC),
	}
	lines := HeaderLines(msg)

	want := []string{
		"Content-Location: https://news.ycombinator.com/item?id=42",
		"Date: Sun, 01 Feb 2026 10:30:00 UTC",
		"From: alice",
		"Subject: Launch",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("header %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestMessageLines_Tombstone(t *testing.T) {
	msg := source.Message{Author: "deleted", Title: "Re: Launch", Dead: true, Body: "ignored"}
	lines := MessageLines(msg, 80, false)
	if lines[len(lines)-1] != "[deleted]" {
		t.Fatalf("tombstone body must render as deleted: %q", lines)
	}
}

func TestMessageLines_RawToggle(t *testing.T) {
	msg := source.Message{Author: "alice", Title: "Launch", Body: "<p>hello</p>"}

	rendered := MessageLines(msg, 80, false)
	if rendered[len(rendered)-1] != "hello" {
		t.Fatalf("rendered body wrong: %q", rendered)
	}

	raw := MessageLines(msg, 80, true)
	if raw[len(raw)-1] != "<p>hello</p>" {
		t.Fatalf("raw body wrong: %q", raw)
	}
}
