package session

import (
	"strings"
	"time"

	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/storage"
	"github.com/glabrego/threadnews-cli/internal/thread"
)

// Tab is one group entry of the bottom menu.
type Tab struct {
	Label  string
	Active bool
}

// Row is one visible line of the index: a listing story or, under an
// open story, a comment with its tree prefix.
type Row struct {
	ID     string
	Depth  int
	Prefix string
	Title  string
	Author string
	Posted time.Time

	Unread       int
	Total        int
	CommentCount int

	Read     bool
	Starred  bool
	Dead     bool
	IsStory  bool
	Open     bool
	Resolved bool
}

// PagerContent is the message currently shown in the pager pane.
type PagerContent struct {
	Msg   source.Message
	State storage.UserState
}

// Projection is a read-only, point-in-time view of the session, built
// fresh on every request so the presentation layer never sees a
// half-applied state.
type Projection struct {
	Tabs       []Tab
	Group      source.Group
	Page       int
	TotalPages int

	Rows []Row
	// Cursor indexes Rows; -1 when the page is empty.
	Cursor int

	Pager *PagerContent
	Flash string
	Raw   bool
}

// Projection renders the current session state.
func (e *Engine) Projection() Projection {
	rows := e.visibleRows()

	p := Projection{
		Tabs:       make([]Tab, 0, len(e.groups)),
		Group:      e.groups[e.active],
		Page:       e.currentPage(),
		TotalPages: e.totals[e.active],
		Rows:       rows,
		Cursor:     e.rowIndex(rows, e.cursor),
		Flash:      e.flash,
		Raw:        e.rawMode,
	}
	for i, g := range e.groups {
		p.Tabs = append(p.Tabs, Tab{Label: g.Label, Active: i == e.active})
	}

	if e.pagerID != "" {
		if t := e.threadContaining(e.pagerID); t != nil {
			if n, ok := t.Node(e.pagerID); ok {
				p.Pager = &PagerContent{Msg: n.Msg, State: n.State}
			}
		}
	}
	return p
}

// visibleRows flattens the current page: one row per listing story,
// with the resident tree inlined under each open story.
func (e *Engine) visibleRows() []Row {
	rows := make([]Row, 0, len(e.stories))
	for i := range e.stories {
		sr := &e.stories[i]

		t, resident := e.asm.Resident(sr.msg.ID)
		if e.isOpen(sr.msg.ID) && resident && t.Root != nil {
			t.Walk(func(n *thread.Node, depth int) {
				rows = append(rows, nodeRow(n, depth))
			})
			continue
		}

		rows = append(rows, e.listingRow(sr, t, resident))
	}
	return rows
}

func (e *Engine) listingRow(sr *storyRow, t *thread.Thread, resident bool) Row {
	row := Row{
		ID:           sr.msg.ID,
		Title:        sr.msg.Title,
		Author:       sr.msg.Author,
		Posted:       sr.msg.Posted,
		CommentCount: sr.msg.CommentCount,
		Read:         sr.state.Read,
		Starred:      sr.state.Starred,
		Dead:         sr.msg.Dead,
		IsStory:      true,
		Resolved:     sr.msg.Loaded,
	}
	if resident && t.Root != nil {
		row.Unread = t.Root.UnreadDescendants
		row.Total = t.Root.TotalDescendants
		row.Read = t.Root.State.Read
		row.Starred = t.Root.State.Starred
	} else {
		// Unresolved badge: listing count minus what the store has seen
		// read, best effort.
		row.Unread = sr.msg.CommentCount - sr.readCount
		if row.Unread < 0 {
			row.Unread = 0
		}
		row.Total = sr.msg.CommentCount
	}
	return row
}

func nodeRow(n *thread.Node, depth int) Row {
	return Row{
		ID:           n.Msg.ID,
		Depth:        depth,
		Prefix:       treePrefix(n),
		Title:        n.Msg.Title,
		Author:       n.Msg.Author,
		Posted:       n.Msg.Posted,
		Unread:       n.UnreadDescendants,
		Total:        n.TotalDescendants,
		CommentCount: n.Msg.CommentCount,
		Read:         n.State.Read,
		Starred:      n.State.Starred,
		Dead:         n.Msg.Dead,
		IsStory:      n.Msg.IsThread(),
		Open:         n.Msg.IsThread(),
		Resolved:     n.Resolved,
	}
}

// treePrefix draws the usenet-style branch for a comment row: vertical
// continuation bars for each ancestor with later siblings, then the
// branch arm for the node itself.
func treePrefix(n *thread.Node) string {
	if n.Parent == nil {
		return ""
	}

	var bars []string
	for p := n.Parent; p != nil && p.Parent != nil; p = p.Parent {
		if p.IsLastSibling() {
			bars = append(bars, "  ")
		} else {
			bars = append(bars, "│ ")
		}
	}

	var b strings.Builder
	for i := len(bars) - 1; i >= 0; i-- {
		b.WriteString(bars[i])
	}
	if n.IsLastSibling() {
		b.WriteString("└─>")
	} else {
		b.WriteString("├─>")
	}
	return b.String()
}
