// Package session is the navigation engine: a state machine over group,
// page, cursor, open threads, and a mark register, processing one
// command at a time and planning network fetches for the caller to run
// off the command loop.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/storage"
	"github.com/glabrego/threadnews-cli/internal/thread"
)

// StarScope picks what a star toggle covers.
type StarScope int

const (
	// StarMessage toggles the selected message only.
	StarMessage StarScope = iota
	// StarThread toggles every resident node of the open thread.
	StarThread
)

const starredPerPage = 30

type pageKey struct {
	group int
	page  int
}

// storyRow is one listing entry of the current page, with the user
// state and read count backing its unread badge.
type storyRow struct {
	msg       source.Message
	state     storage.UserState
	readCount int
}

// Engine owns all session state. Commands run on one goroutine; the
// only concurrency is fetch execution, whose completions come back
// through Apply on the same goroutine as commands.
type Engine struct {
	store   *storage.Store
	asm     *thread.Assembler
	sources map[string]source.Source
	logger  zerolog.Logger

	groups []source.Group
	active int
	pages  map[int]int
	totals map[int]int

	stories []storyRow

	openStack  []string
	cursor     string
	pagerID    string
	mark       string
	markThread string
	rawMode    bool
	flash      string

	pendingOpen string
	seq         map[pageKey]int
}

func NewEngine(store *storage.Store, asm *thread.Assembler, sources map[string]source.Source, groups []source.Group, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		asm:     asm,
		sources: sources,
		logger:  logger,
		groups:  groups,
		pages:   make(map[int]int),
		totals:  make(map[int]int),
		seq:     make(map[pageKey]int),
	}
}

// Init activates the first group, returning a fetch plan when its first
// page is not cached.
func (e *Engine) Init(ctx context.Context) (*Fetch, error) {
	return e.activateGroup(ctx, 0)
}

// Groups returns the fixed tab list.
func (e *Engine) Groups() []source.Group { return e.groups }

// RawMode reports the raw presentation flag.
func (e *Engine) RawMode() bool { return e.rawMode }

// ClearFlash drops the transient status line.
func (e *Engine) ClearFlash() { e.flash = "" }

// SelectNext moves the cursor one visible row down; no-op at the end.
func (e *Engine) SelectNext() { e.moveCursor(1) }

// SelectPrev moves the cursor one visible row up; no-op at the start.
func (e *Engine) SelectPrev() { e.moveCursor(-1) }

func (e *Engine) moveCursor(delta int) {
	rows := e.visibleRows()
	if len(rows) == 0 {
		return
	}
	idx := e.rowIndex(rows, e.cursor) + delta
	if idx < 0 || idx >= len(rows) {
		return
	}
	e.cursor = rows[idx].ID
}

// Open acts on the cursor row: a top-level story opens (or, if already
// open, closes) its thread; a comment is marked read and shown in the
// pager; an unresolved stub plans an expand fetch.
func (e *Engine) Open(ctx context.Context) (*Fetch, error) {
	rows := e.visibleRows()
	idx := e.rowIndex(rows, e.cursor)
	if idx < 0 {
		return nil, nil
	}
	row := rows[idx]

	if row.IsStory {
		if e.isOpen(row.ID) {
			e.closeThread()
			return nil, nil
		}
		return e.openStory(ctx, row.ID)
	}

	t := e.threadContaining(row.ID)
	if t == nil {
		return nil, nil
	}
	n, ok := t.Node(row.ID)
	if !ok {
		return nil, nil
	}
	if !n.Resolved && !n.Msg.Dead {
		e.pendingOpen = n.Msg.ID
		e.flash = "Fetching comment..."
		return &Fetch{Kind: FetchExpand, ID: n.Msg.ID, ThreadID: t.Root.Msg.ID, Depth: thread.ExpandDepth}, nil
	}
	if err := e.asm.MarkRead(ctx, t, n); err != nil {
		werr := &StoreWriteError{Op: "set read", Cause: err}
		e.flash = werr.Error()
		return nil, werr
	}
	e.pagerID = n.Msg.ID
	return nil, nil
}

func (e *Engine) openStory(ctx context.Context, id string) (*Fetch, error) {
	sr := e.storyRowFor(id)
	listingCount := 0
	if sr != nil {
		listingCount = sr.msg.CommentCount
	}

	t, fresh, err := e.asm.OpenCached(ctx, id, listingCount)
	if err != nil {
		return nil, fmt.Errorf("open thread %s: %w", id, err)
	}
	if fresh {
		return nil, e.openThread(ctx, t)
	}

	e.pendingOpen = id
	e.flash = "Fetching thread..."
	return &Fetch{Kind: FetchThread, ID: id, ThreadID: id, Depth: thread.DefaultFetchDepth}, nil
}

// openThread pushes a resident thread onto the open stack and marks its
// root read. A failed read write aborts the open so no partial state
// change sticks.
func (e *Engine) openThread(ctx context.Context, t *thread.Thread) error {
	if err := e.asm.MarkRead(ctx, t, t.Root); err != nil {
		werr := &StoreWriteError{Op: "set read", Cause: err}
		e.flash = werr.Error()
		return werr
	}

	id := t.Root.Msg.ID
	if !e.isOpen(id) {
		e.openStack = append(e.openStack, id)
	}
	e.cursor = id
	e.pagerID = id
	if sr := e.storyRowFor(id); sr != nil {
		sr.state.Read = true
	}
	return nil
}

// Close pops the top open thread, collapsing its subtree; the cursor
// lands on the collapsed story row. With nothing open it just dismisses
// the pager.
func (e *Engine) Close() {
	e.pendingOpen = ""
	if len(e.openStack) == 0 {
		e.pagerID = ""
		return
	}
	e.closeThread()
}

func (e *Engine) closeThread() {
	top := e.openStack[len(e.openStack)-1]
	e.openStack = e.openStack[:len(e.openStack)-1]
	e.cursor = top
	e.pagerID = ""
}

// JumpNextUnread moves the cursor to the next visible row with a
// nonzero unread count, scanning display order from the cursor down.
// Running out of unread rows is a reported outcome, not an error state.
func (e *Engine) JumpNextUnread() error {
	rows := e.visibleRows()
	start := e.rowIndex(rows, e.cursor) + 1
	for i := start; i < len(rows); i++ {
		if rows[i].Unread > 0 {
			e.cursor = rows[i].ID
			return nil
		}
	}
	e.flash = "No more unread"
	return ErrNoMoreUnread
}

// SetMark stores the cursor in the mark register, scoped to the thread
// currently open.
func (e *Engine) SetMark() {
	if e.cursor == "" {
		return
	}
	e.mark = e.cursor
	e.markThread = e.currentThread()
	e.flash = "Mark set"
}

// JumpToMark moves the cursor to the mark. A mark belonging to a
// different thread than the open one is reported and ignored.
func (e *Engine) JumpToMark() error {
	if err := e.validMark(); err != nil {
		return err
	}
	e.cursor = e.mark
	return nil
}

// SwapMark exchanges cursor and mark, under the same scoping rule as
// JumpToMark.
func (e *Engine) SwapMark() error {
	if err := e.validMark(); err != nil {
		return err
	}
	e.cursor, e.mark = e.mark, e.cursor
	return nil
}

func (e *Engine) validMark() error {
	var verr *ValidationError
	switch {
	case e.mark == "":
		verr = &ValidationError{Reason: "no mark set"}
	case e.markThread != e.currentThread():
		verr = &ValidationError{Reason: "mark is in another thread"}
	case e.rowIndex(e.visibleRows(), e.mark) < 0:
		verr = &ValidationError{Reason: "marked message is not visible"}
	default:
		return nil
	}
	e.flash = verr.Error()
	return verr
}

// ChangeGroup switches to the group tab at index n.
func (e *Engine) ChangeGroup(ctx context.Context, n int) (*Fetch, error) {
	if n < 0 || n >= len(e.groups) {
		verr := &ValidationError{Reason: fmt.Sprintf("no group %d", n+1)}
		e.flash = verr.Error()
		return nil, verr
	}
	if n == e.active && len(e.stories) > 0 {
		return nil, nil
	}
	return e.activateGroup(ctx, n)
}

// NextPage advances the active group's page; no-op past the last page.
func (e *Engine) NextPage(ctx context.Context) (*Fetch, error) {
	page := e.currentPage()
	if total := e.totals[e.active]; total > 0 && page >= total {
		return nil, nil
	}
	return e.gotoPage(ctx, page+1)
}

// PrevPage steps the active group's page back; no-op on page one.
func (e *Engine) PrevPage(ctx context.Context) (*Fetch, error) {
	page := e.currentPage()
	if page <= 1 {
		return nil, nil
	}
	return e.gotoPage(ctx, page-1)
}

// GotoPage jumps to page n of the active group, rejecting values
// outside [1, total].
func (e *Engine) GotoPage(ctx context.Context, n int) (*Fetch, error) {
	total := e.totals[e.active]
	if n < 1 || (total > 0 && n > total) {
		verr := &ValidationError{Reason: fmt.Sprintf("page %d out of range 1-%d", n, total)}
		e.flash = verr.Error()
		return nil, verr
	}
	return e.gotoPage(ctx, n)
}

func (e *Engine) gotoPage(ctx context.Context, n int) (*Fetch, error) {
	e.pages[e.active] = n
	e.resetView()
	return e.loadPage(ctx, e.active, n)
}

// Refresh refetches the open thread, or the current listing page when
// no thread is open. This is the only retry mechanism; it is a normal
// fetch, not a recovery path.
func (e *Engine) Refresh(ctx context.Context) (*Fetch, error) {
	if top := e.currentThread(); top != "" {
		e.pendingOpen = top
		e.flash = "Refreshing thread..."
		return &Fetch{Kind: FetchThread, ID: top, ThreadID: top, Depth: thread.DefaultFetchDepth}, nil
	}

	group := e.groups[e.active]
	page := e.currentPage()
	if group.Provider == source.ProviderStarred {
		ids := make([]string, 0, len(e.stories))
		for _, sr := range e.stories {
			ids = append(ids, sr.msg.ID)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		e.flash = "Refreshing starred..."
		return &Fetch{Kind: FetchStarred, GroupIndex: e.active, Page: page, IDs: ids, Seq: e.bumpSeq(e.active, page)}, nil
	}

	e.flash = "Refreshing page..."
	return e.planPage(e.active, page), nil
}

// ToggleStar flips starred state for the cursor message, or for every
// resident node of the open thread.
func (e *Engine) ToggleStar(ctx context.Context, scope StarScope) error {
	rows := e.visibleRows()
	idx := e.rowIndex(rows, e.cursor)
	if idx < 0 {
		return nil
	}
	row := rows[idx]

	if scope == StarThread {
		if t := e.threadContaining(row.ID); t != nil {
			target := !t.Root.State.Starred
			nodes := t.Nodes()
			ids := make([]string, 0, len(nodes))
			for _, n := range nodes {
				ids = append(ids, n.Msg.ID)
			}
			// One transaction for the whole thread; memory flips only
			// after the commit so a failure toggles nothing.
			if err := e.store.SetStarredAll(ctx, ids, t.Root.Msg.ID, target); err != nil {
				werr := &StoreWriteError{Op: "set starred", Cause: err}
				e.flash = werr.Error()
				return werr
			}
			for _, n := range nodes {
				n.State.Starred = target
			}
			if sr := e.storyRowFor(t.Root.Msg.ID); sr != nil {
				sr.state.Starred = target
			}
			return nil
		}
		// No open thread under the cursor: fall through to the single
		// message.
	}

	if t := e.threadContaining(row.ID); t != nil {
		if n, ok := t.Node(row.ID); ok {
			if err := e.asm.SetStarred(ctx, n, !n.State.Starred); err != nil {
				werr := &StoreWriteError{Op: "set starred", Cause: err}
				e.flash = werr.Error()
				return werr
			}
			if sr := e.storyRowFor(row.ID); sr != nil {
				sr.state.Starred = n.State.Starred
			}
			return nil
		}
	}

	sr := e.storyRowFor(row.ID)
	if sr == nil {
		return nil
	}
	next := !sr.state.Starred
	if err := e.store.SetStarred(ctx, sr.msg.ID, sr.msg.ThreadID, next); err != nil {
		werr := &StoreWriteError{Op: "set starred", Cause: err}
		e.flash = werr.Error()
		return werr
	}
	sr.state.Starred = next
	return nil
}

// ToggleRaw flips the raw presentation flag; no fetch, no store write.
func (e *Engine) ToggleRaw() {
	e.rawMode = !e.rawMode
}

// Apply folds a fetch completion into the store and, when its target is
// still what the user looks at, into the visible session state. Stale
// completions warm the cache and nothing else.
func (e *Engine) Apply(ctx context.Context, c Completion) {
	if c.Err != nil {
		e.applyError(c)
		return
	}

	switch c.Fetch.Kind {
	case FetchPage:
		if err := e.store.PutPage(ctx, c.Page); err != nil {
			e.flash = (&StoreWriteError{Op: "cache page", Cause: err}).Error()
			return
		}
		key := pageKey{c.Fetch.GroupIndex, c.Fetch.Page}
		if c.Fetch.Seq != e.seq[key] {
			return
		}
		if e.active != c.Fetch.GroupIndex || e.currentPage() != c.Fetch.Page {
			return
		}
		e.totals[e.active] = c.Page.TotalPages
		if err := e.setStories(ctx, c.Page.Stories); err != nil {
			e.flash = err.Error()
			return
		}
		e.flash = ""

	case FetchThread:
		t, err := e.asm.Merge(ctx, c.Fetch.ThreadID, c.Records)
		if err != nil {
			e.flash = (&StoreWriteError{Op: "merge thread", Cause: err}).Error()
			if e.pendingOpen == c.Fetch.ThreadID {
				e.pendingOpen = ""
			}
			return
		}
		if e.pendingOpen != c.Fetch.ThreadID {
			return
		}
		e.pendingOpen = ""
		if err := e.openThread(ctx, t); err == nil {
			e.flash = ""
		}

	case FetchExpand:
		t, err := e.asm.Merge(ctx, c.Fetch.ThreadID, c.Records)
		if err != nil {
			e.flash = (&StoreWriteError{Op: "merge subtree", Cause: err}).Error()
			if e.pendingOpen == c.Fetch.ID {
				e.pendingOpen = ""
			}
			return
		}
		if e.pendingOpen != c.Fetch.ID {
			return
		}
		e.pendingOpen = ""
		if n, ok := t.Node(c.Fetch.ID); ok {
			if err := e.asm.MarkRead(ctx, t, n); err != nil {
				e.flash = (&StoreWriteError{Op: "set read", Cause: err}).Error()
				return
			}
			e.cursor = n.Msg.ID
			e.pagerID = n.Msg.ID
		}
		e.flash = ""

	case FetchStarred:
		if err := e.store.PutMessages(ctx, c.Records); err != nil {
			e.flash = (&StoreWriteError{Op: "cache starred stories", Cause: err}).Error()
			return
		}
		key := pageKey{c.Fetch.GroupIndex, c.Fetch.Page}
		if c.Fetch.Seq != e.seq[key] {
			return
		}
		if e.active != c.Fetch.GroupIndex || e.currentPage() != c.Fetch.Page {
			return
		}
		if _, err := e.loadPage(ctx, e.active, c.Fetch.Page); err != nil {
			e.flash = err.Error()
			return
		}
		e.flash = ""
	}
}

func (e *Engine) applyError(c Completion) {
	target := "page"
	relevant := false
	switch c.Fetch.Kind {
	case FetchPage:
		target = fmt.Sprintf("%s page %d", c.Fetch.Group.Label, c.Fetch.Page)
		relevant = e.active == c.Fetch.GroupIndex && e.currentPage() == c.Fetch.Page
	case FetchThread, FetchExpand:
		target = c.Fetch.ID
		relevant = e.pendingOpen == c.Fetch.ID || e.pendingOpen == c.Fetch.ThreadID
		if relevant {
			e.pendingOpen = ""
		}
	case FetchStarred:
		target = "starred stories"
		relevant = e.active == c.Fetch.GroupIndex
	}

	ferr := &FetchFailedError{Target: target, Cause: c.Err}
	e.logger.Warn().Err(c.Err).Str("target", target).Msg("fetch failed")
	if relevant {
		e.flash = ferr.Error()
	}
}

func (e *Engine) activateGroup(ctx context.Context, n int) (*Fetch, error) {
	e.active = n
	page := e.pages[n]
	if page == 0 {
		page = 1
		e.pages[n] = 1
	}
	e.resetView()
	return e.loadPage(ctx, n, page)
}

// resetView collapses open threads and drops view-local state when the
// listing underneath changes.
func (e *Engine) resetView() {
	e.openStack = e.openStack[:0]
	e.pagerID = ""
	e.pendingOpen = ""
	e.flash = ""
}

// loadPage serves the requested page from the store when cached,
// otherwise plans a fetch. Starred pages always come from the store;
// only an explicit refresh reaches the network for them.
func (e *Engine) loadPage(ctx context.Context, groupIdx, page int) (*Fetch, error) {
	group := e.groups[groupIdx]

	if group.Provider == source.ProviderStarred {
		ids, totalPages, err := e.store.StarredThreadIDs(ctx, page, starredPerPage)
		if err != nil {
			return nil, fmt.Errorf("list starred threads: %w", err)
		}
		e.totals[groupIdx] = totalPages

		byID, err := e.store.GetMessages(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load starred stories: %w", err)
		}
		stories := make([]source.Message, 0, len(ids))
		for _, id := range ids {
			msg, ok := byID[id]
			if !ok {
				msg = source.Message{ID: id, ThreadID: id, Author: "unknown", Title: id}
			}
			stories = append(stories, msg)
		}
		return nil, e.setStories(ctx, stories)
	}

	cached, err := e.store.GetPage(ctx, group, page)
	if err != nil {
		return nil, fmt.Errorf("read cached page: %w", err)
	}
	if cached != nil && len(cached.Stories) > 0 {
		e.totals[groupIdx] = cached.TotalPages
		return nil, e.setStories(ctx, cached.Stories)
	}

	e.flash = "Fetching page..."
	return e.planPage(groupIdx, page), nil
}

func (e *Engine) planPage(groupIdx, page int) *Fetch {
	return &Fetch{
		Kind:       FetchPage,
		Group:      e.groups[groupIdx],
		GroupIndex: groupIdx,
		Page:       page,
		Seq:        e.bumpSeq(groupIdx, page),
	}
}

func (e *Engine) bumpSeq(groupIdx, page int) int {
	key := pageKey{groupIdx, page}
	e.seq[key]++
	return e.seq[key]
}

// setStories replaces the listing rows, attaching user state and read
// counts from the store, and rests the cursor on the first row.
func (e *Engine) setStories(ctx context.Context, stories []source.Message) error {
	ids := make([]string, 0, len(stories))
	for _, msg := range stories {
		ids = append(ids, msg.ID)
	}

	states, err := e.store.GetUserStates(ctx, ids)
	if err != nil {
		return fmt.Errorf("load story states: %w", err)
	}
	counts, err := e.store.ReadCounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("load read counts: %w", err)
	}

	e.stories = e.stories[:0]
	for _, msg := range stories {
		e.stories = append(e.stories, storyRow{
			msg:       msg,
			state:     states[msg.ID],
			readCount: counts[msg.ID],
		})
	}

	if len(e.stories) > 0 {
		e.cursor = e.stories[0].msg.ID
	} else {
		e.cursor = ""
	}
	return nil
}

func (e *Engine) currentPage() int {
	if page := e.pages[e.active]; page > 0 {
		return page
	}
	return 1
}

func (e *Engine) currentThread() string {
	if len(e.openStack) == 0 {
		return ""
	}
	return e.openStack[len(e.openStack)-1]
}

func (e *Engine) isOpen(id string) bool {
	for _, open := range e.openStack {
		if open == id {
			return true
		}
	}
	return false
}

// threadContaining finds the resident open thread holding id, searching
// the innermost thread first.
func (e *Engine) threadContaining(id string) *thread.Thread {
	for i := len(e.openStack) - 1; i >= 0; i-- {
		t, ok := e.asm.Resident(e.openStack[i])
		if !ok {
			continue
		}
		if _, ok := t.Node(id); ok {
			return t
		}
	}
	return nil
}

func (e *Engine) storyRowFor(id string) *storyRow {
	for i := range e.stories {
		if e.stories[i].msg.ID == id {
			return &e.stories[i]
		}
	}
	return nil
}

func (e *Engine) rowIndex(rows []Row, id string) int {
	for i := range rows {
		if rows[i].ID == id {
			return i
		}
	}
	return -1
}
