package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/glabrego/threadnews-cli/internal/render"
	"github.com/glabrego/threadnews-cli/internal/session"
)

type theme struct {
	Title      lipgloss.Style
	TabActive  lipgloss.Style
	TabIdle    lipgloss.Style
	CursorLine lipgloss.Style
	Unread     lipgloss.Style
	ReadRow    lipgloss.Style
	Starred    lipgloss.Style
	Dead       lipgloss.Style
	Tree       lipgloss.Style
	Meta       lipgloss.Style
	Flash      lipgloss.Style
	Toolbar    lipgloss.Style
	Header     lipgloss.Style
}

func defaultTheme() theme {
	yellow := lipgloss.Color("11")
	blue := lipgloss.Color("12")
	grey := lipgloss.Color("8")
	surface := lipgloss.Color("0")

	return theme{
		Title:      lipgloss.NewStyle().Bold(true).Foreground(blue),
		TabActive:  lipgloss.NewStyle().Bold(true).Foreground(yellow),
		TabIdle:    lipgloss.NewStyle().Foreground(grey),
		CursorLine: lipgloss.NewStyle().Reverse(true),
		Unread:     lipgloss.NewStyle().Bold(true),
		ReadRow:    lipgloss.NewStyle().Foreground(grey),
		Starred:    lipgloss.NewStyle().Foreground(yellow),
		Dead:       lipgloss.NewStyle().Foreground(grey).Strikethrough(true),
		Tree:       lipgloss.NewStyle().Foreground(grey),
		Meta:       lipgloss.NewStyle().Foreground(grey),
		Flash:      lipgloss.NewStyle().Foreground(yellow),
		Toolbar:    lipgloss.NewStyle().Foreground(grey),
		Header:     lipgloss.NewStyle().Background(surface),
	}
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "starting..."
	}

	p := m.engine.Projection()

	var body string
	switch {
	case m.showHelp:
		body = m.helpView()
	case p.Pager != nil:
		body = m.pagerView(p)
	default:
		body = m.indexView(p)
	}

	return m.headerView(p) + "\n" + body + "\n" + m.footerView(p)
}

// bodyHeight is the rows available between the header line and the
// two-line footer.
func (m Model) bodyHeight() int {
	h := m.height - 3
	if h < 1 {
		return 1
	}
	return h
}

func (m Model) pagerHeight() int {
	return m.bodyHeight()
}

func (m Model) headerView(p session.Projection) string {
	parts := make([]string, 0, len(p.Tabs)+1)
	parts = append(parts, m.theme.Title.Render("threadnews"))
	for i, tab := range p.Tabs {
		label := fmt.Sprintf("%d:%s", i+1, tab.Label)
		if tab.Active {
			parts = append(parts, m.theme.TabActive.Render(label))
		} else {
			parts = append(parts, m.theme.TabIdle.Render(label))
		}
	}
	return m.theme.Header.Width(m.width).Render(truncate(strings.Join(parts, "  "), m.width))
}

// indexView renders the flattened listing, keeping the cursor row inside
// a window scrolled around it.
func (m Model) indexView(p session.Projection) string {
	height := m.bodyHeight()
	if len(p.Rows) == 0 {
		return padLines("(empty page)", height)
	}

	start := 0
	if p.Cursor >= 0 && len(p.Rows) > height {
		start = p.Cursor - height/2
		if start < 0 {
			start = 0
		}
		if start > len(p.Rows)-height {
			start = len(p.Rows) - height
		}
	}
	end := start + height
	if end > len(p.Rows) {
		end = len(p.Rows)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		line := m.rowLine(p.Rows[i])
		if i == p.Cursor {
			line = m.theme.CursorLine.Render(truncate(line, m.width))
		} else {
			line = truncate(line, m.width)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return padLines(b.String(), height)
}

// rowLine formats one index row: stories carry an unread/total badge,
// comments carry their tree prefix; starred rows get a star column.
func (m Model) rowLine(row session.Row) string {
	star := " "
	if row.Starred {
		star = m.theme.Starred.Render("*")
	}

	age := ""
	if !row.Posted.IsZero() {
		age = humanize.Time(row.Posted)
	}

	if row.IsStory {
		badge := fmt.Sprintf("[%d/%d]", row.Unread, row.Total)
		title := row.Title
		switch {
		case row.Dead:
			title = m.theme.Dead.Render(title)
		case row.Unread > 0 || !row.Read:
			title = m.theme.Unread.Render(title)
		default:
			title = m.theme.ReadRow.Render(title)
		}
		return fmt.Sprintf("%s %8s %s %s", star, badge, title, m.theme.Meta.Render("("+row.Author+", "+age+")"))
	}

	label := row.Author
	if row.Dead {
		label = m.theme.Dead.Render("[deleted]")
	} else if !row.Resolved {
		label = m.theme.Meta.Render(label + " (fetch)")
	} else if row.Read {
		label = m.theme.ReadRow.Render(label)
	} else {
		label = m.theme.Unread.Render(label)
	}

	meta := ""
	if row.Unread > 0 {
		meta = " " + m.theme.Meta.Render(fmt.Sprintf("(%d unread)", row.Unread))
	}
	return fmt.Sprintf("%s %s%s %s%s", star, m.theme.Tree.Render(row.Prefix), label, m.theme.Meta.Render(age), meta)
}

// pagerView shows the opened message through the render package, scrolled
// by pagerTop.
func (m Model) pagerView(p session.Projection) string {
	width := m.width - 2
	if width < 20 {
		width = 20
	}
	lines := render.MessageLines(p.Pager.Msg, width, p.Raw)

	height := m.bodyHeight()
	top := m.pagerTop
	if top > len(lines)-height {
		top = len(lines) - height
	}
	if top < 0 {
		top = 0
	}
	end := top + height
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := top; i < end; i++ {
		b.WriteString(truncate(lines[i], m.width))
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return padLines(b.String(), height)
}

func (m Model) helpView() string {
	lines := []string{
		m.theme.Title.Render("Keys"),
		"",
		"  enter/space  open story or comment (open story again to close)",
		"  x, esc       close the open thread / dismiss the pager",
		"  n/p, j/k     next / previous row",
		"  N, tab       jump to next unread",
		"  m ' ;        set mark / jump to mark / swap with mark",
		"  < >          previous / next page",
		"  g            go to page...",
		"  1-9          switch group tab",
		"  s / S        star message / star whole thread",
		"  r            toggle raw body",
		"  R            refresh page or open thread",
		"  ctrl+f/b     scroll pager",
		"  q            quit",
		"",
		m.theme.Meta.Render("press any key to close"),
	}
	return padLines(strings.Join(lines, "\n"), m.bodyHeight())
}

func (m Model) footerView(p session.Projection) string {
	status := fmt.Sprintf("%s  page %d", p.Group.Label, p.Page)
	if p.TotalPages > 0 {
		status = fmt.Sprintf("%s  page %d/%d", p.Group.Label, p.Page, p.TotalPages)
	}
	if p.Raw {
		status += "  [raw]"
	}

	right := ""
	switch {
	case m.prompting:
		right = "Go to page: " + m.promptInput + "_"
	case p.Flash != "":
		right = m.theme.Flash.Render(p.Flash)
	}

	line := m.theme.Meta.Render(status)
	if right != "" {
		line += "  " + right
	}

	toolbar := "enter open | x close | N unread | s star | r raw | R refresh | ? help | q quit"
	return truncate(line, m.width) + "\n" + m.theme.Toolbar.Render(truncate(toolbar, m.width))
}

func padLines(s string, height int) string {
	n := strings.Count(s, "\n") + 1
	if s == "" {
		n = 1
	}
	for ; n < height; n++ {
		s += "\n"
	}
	return s
}

// truncate cuts a possibly-styled line to the terminal width without
// splitting escape sequences.
func truncate(s string, width int) string {
	if width < 1 || lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width-1, "…")
}
