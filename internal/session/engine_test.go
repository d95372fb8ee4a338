package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/storage"
	"github.com/glabrego/threadnews-cli/internal/thread"
)

type fakeSource struct {
	pages   map[string]map[int]source.Page
	items   map[string][]source.Message
	stories map[string]source.Message

	pageCalls  int
	itemCalls  int
	storyCalls int
}

func (f *fakeSource) FetchPage(_ context.Context, g source.Group, page int) (source.Page, error) {
	f.pageCalls++
	p, ok := f.pages[g.Name][page]
	if !ok {
		return source.Page{}, fmt.Errorf("no page %d for %s", page, g.Name)
	}
	return p, nil
}

func (f *fakeSource) FetchMessage(_ context.Context, id string, _ int) ([]source.Message, error) {
	f.itemCalls++
	recs, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("no item %s", id)
	}
	return recs, nil
}

func (f *fakeSource) FetchStories(_ context.Context, ids []string) ([]source.Message, error) {
	f.storyCalls++
	out := make([]source.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := f.stories[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

var testGroups = []source.Group{
	{Provider: source.ProviderHN, Name: "front", Label: "Front Page"},
	{Provider: source.ProviderHN, Name: "new", Label: "New"},
	{Provider: source.ProviderStarred, Name: "starred", Label: "Starred"},
}

func listing(id string, count int) source.Message {
	return source.Message{
		ID: id, ThreadID: id, Author: "submitter", Title: "Story " + id,
		Posted: time.Unix(1700000000, 0), CommentCount: count,
	}
}

func frontPage1() source.Page {
	return source.Page{
		Group:      testGroups[0],
		Number:     1,
		TotalPages: 12,
		Stories: []source.Message{
			listing("42@hn", 5),
			listing("43@hn", 1),
			listing("44@hn", 0),
			listing("45@hn", 0),
			listing("46@hn", 0),
		},
	}
}

// story42 is a story with three top-level comments, the first of which
// has two children.
func story42() []source.Message {
	posted := time.Unix(1700000000, 0)
	return []source.Message{
		{ID: "42@hn", ThreadID: "42@hn", Author: "alice", Title: "Story 42@hn", Body: "<p>intro</p>", Loaded: true, Posted: posted, Kids: []string{"c1@hn", "c2@hn", "c3@hn"}, CommentCount: 5},
		{ID: "c1@hn", ThreadID: "42@hn", ParentID: "42@hn", Author: "bob", Title: "Re: Story", Body: "first", Loaded: true, Posted: posted, Kids: []string{"g1@hn", "g2@hn"}},
		{ID: "g1@hn", ThreadID: "42@hn", ParentID: "c1@hn", Author: "carol", Title: "Re: Story", Body: "nested", Loaded: true, Posted: posted},
		{ID: "g2@hn", ThreadID: "42@hn", ParentID: "c1@hn", Author: "dave", Title: "Re: Story", Body: "nested too", Loaded: true, Posted: posted},
		{ID: "c2@hn", ThreadID: "42@hn", ParentID: "42@hn", Author: "erin", Title: "Re: Story", Body: "second", Loaded: true, Posted: posted},
		{ID: "c3@hn", ThreadID: "42@hn", ParentID: "42@hn", Author: "frank", Title: "Re: Story", Body: "third", Loaded: true, Posted: posted},
	}
}

func story43() []source.Message {
	posted := time.Unix(1700000000, 0)
	return []source.Message{
		{ID: "43@hn", ThreadID: "43@hn", Author: "gail", Title: "Story 43@hn", Body: "<p>other</p>", Loaded: true, Posted: posted, Kids: []string{"d1@hn"}, CommentCount: 1},
		{ID: "d1@hn", ThreadID: "43@hn", ParentID: "43@hn", Author: "hank", Title: "Re: Story", Body: "only", Loaded: true, Posted: posted},
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeSource, *storage.Store) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))

	fake := &fakeSource{
		pages: map[string]map[int]source.Page{
			"front": {1: frontPage1()},
		},
		items: map[string][]source.Message{
			"42@hn": story42(),
			"43@hn": story43(),
		},
		stories: map[string]source.Message{},
	}

	asm := thread.NewAssembler(store, zerolog.Nop())
	sources := map[string]source.Source{source.ProviderHN: fake}
	return NewEngine(store, asm, sources, testGroups, zerolog.Nop()), fake, store
}

// run executes and applies a planned fetch, if any.
func run(t *testing.T, e *Engine, f *Fetch) {
	t.Helper()
	if f == nil {
		return
	}
	ctx := context.Background()
	e.Apply(ctx, e.Execute(ctx, *f))
}

func start(t *testing.T, e *Engine) {
	t.Helper()
	f, err := e.Init(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f, "first page must need a fetch")
	run(t, e, f)
}

func openAt(t *testing.T, e *Engine, id string) {
	t.Helper()
	e.cursor = id
	f, err := e.Open(context.Background())
	require.NoError(t, err)
	run(t, e, f)
}

func TestOpenStoryAndReadComment(t *testing.T) {
	e, _, _ := newTestEngine(t)
	start(t, e)

	p := e.Projection()
	require.Len(t, p.Rows, 5)
	require.Equal(t, 0, p.Cursor)
	require.Equal(t, 5, p.Rows[0].Unread, "unopened badge comes from the listing count")

	openAt(t, e, "42@hn")

	p = e.Projection()
	require.Len(t, p.Rows, 10, "open thread inlines its six rows")
	require.True(t, p.Rows[0].Open)
	require.Equal(t, 5, p.Rows[0].Unread)
	require.Equal(t, 5, p.Rows[0].Total)
	require.NotNil(t, p.Pager)
	require.Equal(t, "42@hn", p.Pager.Msg.ID)
	require.True(t, p.Rows[0].Read, "opening marks the story read")

	openAt(t, e, "c1@hn")
	p = e.Projection()
	require.Equal(t, 4, p.Rows[0].Unread, "reading a comment drops the story badge")
	require.Equal(t, "c1@hn", p.Pager.Msg.ID)

	// Rows under an open story carry tree prefixes.
	require.Equal(t, "├─>", p.Rows[1].Prefix)
	require.Equal(t, "│ ├─>", p.Rows[2].Prefix)
	require.Equal(t, "│ └─>", p.Rows[3].Prefix)
	require.Equal(t, "├─>", p.Rows[4].Prefix)
	require.Equal(t, "└─>", p.Rows[5].Prefix)
}

func TestReopenServesFromCache(t *testing.T) {
	e, fake, _ := newTestEngine(t)
	start(t, e)

	openAt(t, e, "42@hn")
	require.Equal(t, 1, fake.itemCalls)
	before := e.Projection()

	e.Close()
	p := e.Projection()
	require.Len(t, p.Rows, 5, "closing collapses the subtree")
	require.Equal(t, "42@hn", p.Rows[p.Cursor].ID)

	openAt(t, e, "42@hn")
	require.Equal(t, 1, fake.itemCalls, "a cached thread must not refetch")

	after := e.Projection()
	require.Equal(t, len(before.Rows), len(after.Rows))
	for i := range before.Rows {
		require.Equal(t, before.Rows[i].ID, after.Rows[i].ID)
		require.Equal(t, before.Rows[i].Unread, after.Rows[i].Unread)
	}
}

func TestReadStateSurvivesCloseAndReopen(t *testing.T) {
	e, _, store := newTestEngine(t)
	start(t, e)

	openAt(t, e, "42@hn")
	openAt(t, e, "c1@hn")
	e.Close()
	openAt(t, e, "42@hn")

	p := e.Projection()
	require.Equal(t, 4, p.Rows[0].Unread)
	for _, row := range p.Rows {
		if row.ID == "c1@hn" {
			require.True(t, row.Read)
		}
	}

	state, err := store.GetUserState(context.Background(), "c1@hn")
	require.NoError(t, err)
	require.True(t, state.Read, "read flag must be durable")
}

func TestToggleStarThreadScope(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	start(t, e)
	openAt(t, e, "42@hn")

	require.NoError(t, e.ToggleStar(ctx, StarThread))

	wantIDs := []string{"42@hn", "c1@hn", "c2@hn", "c3@hn", "g1@hn", "g2@hn"}
	for _, id := range wantIDs {
		state, err := store.GetUserState(ctx, id)
		require.NoError(t, err)
		require.True(t, state.Starred, "id %s must be starred", id)
	}

	require.NoError(t, e.ToggleStar(ctx, StarThread))
	for _, id := range wantIDs {
		state, err := store.GetUserState(ctx, id)
		require.NoError(t, err)
		require.False(t, state.Starred, "id %s must be unstarred", id)
	}
}

func TestUnreadBadgeExcludesStoryRootAfterRestart(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(ctx))

	fake := &fakeSource{
		pages:   map[string]map[int]source.Page{"front": {1: frontPage1()}},
		items:   map[string][]source.Message{"42@hn": story42()},
		stories: map[string]source.Message{},
	}
	newSession := func() *Engine {
		asm := thread.NewAssembler(store, zerolog.Nop())
		sources := map[string]source.Source{source.ProviderHN: fake}
		return NewEngine(store, asm, sources, testGroups, zerolog.Nop())
	}

	e := newSession()
	start(t, e)
	openAt(t, e, "42@hn")
	e.Close()

	// A fresh session over the same database has no resident thread and
	// derives the badge from the stored read count. The root's own read
	// flag is not a comment and must not shrink it.
	e2 := newSession()
	f, err := e2.Init(ctx)
	require.NoError(t, err)
	require.Nil(t, f, "the cached page needs no fetch")
	p := e2.Projection()
	require.Equal(t, 5, p.Rows[0].Unread, "only comments count toward the badge")
	require.Equal(t, 5, p.Rows[0].Total)

	// Reading one comment does shrink it.
	openAt(t, e, "42@hn")
	openAt(t, e, "c1@hn")
	e3 := newSession()
	f, err = e3.Init(ctx)
	require.NoError(t, err)
	require.Nil(t, f)
	p = e3.Projection()
	require.Equal(t, 4, p.Rows[0].Unread)
}

func TestToggleStarThreadAllOrNothing(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	start(t, e)
	openAt(t, e, "42@hn")

	// With the store gone every write fails; nothing may stick.
	require.NoError(t, store.Close())
	err := e.ToggleStar(ctx, StarThread)
	var werr *StoreWriteError
	require.ErrorAs(t, err, &werr)

	p := e.Projection()
	for _, row := range p.Rows {
		require.False(t, row.Starred, "a failed thread star must leave %s untouched", row.ID)
	}
	require.NotEmpty(t, p.Flash)
}

func TestStaleGroupFetchWarmsCacheOnly(t *testing.T) {
	e, fake, store := newTestEngine(t)
	ctx := context.Background()
	start(t, e)

	fake.pages["front"][2] = source.Page{
		Group: testGroups[0], Number: 2, TotalPages: 12,
		Stories: []source.Message{listing("50@hn", 0)},
	}
	fake.pages["new"] = map[int]source.Page{1: {
		Group: testGroups[1], Number: 1, TotalPages: 3,
		Stories: []source.Message{listing("60@hn", 0)},
	}}

	// Plan page 2 of the front group, but switch tabs before it lands.
	pageFetch, err := e.NextPage(ctx)
	require.NoError(t, err)
	require.NotNil(t, pageFetch)
	pending := e.Execute(ctx, *pageFetch)

	groupFetch, err := e.ChangeGroup(ctx, 1)
	require.NoError(t, err)
	run(t, e, groupFetch)

	p := e.Projection()
	require.Equal(t, "New", p.Group.Label)
	require.Equal(t, "60@hn", p.Rows[p.Cursor].ID)

	e.Apply(ctx, pending)

	// The cache gained the page; the visible state did not move.
	cached, err := store.GetPage(ctx, testGroups[0], 2)
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, "50@hn", cached.Stories[0].ID)

	p = e.Projection()
	require.Equal(t, "New", p.Group.Label)
	require.Equal(t, 1, p.Page)
	require.Equal(t, "60@hn", p.Rows[p.Cursor].ID)
}

func TestSupersededPageFetchIsIgnored(t *testing.T) {
	e, fake, _ := newTestEngine(t)
	ctx := context.Background()
	start(t, e)

	stale, err := e.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, stale)
	staleDone := e.Execute(ctx, *stale)

	fake.pages["front"][1] = source.Page{
		Group: testGroups[0], Number: 1, TotalPages: 12,
		Stories: []source.Message{listing("99@hn", 0)},
	}
	fresh, err := e.Refresh(ctx)
	require.NoError(t, err)
	run(t, e, fresh)

	p := e.Projection()
	require.Equal(t, "99@hn", p.Rows[0].ID)

	// The older completion arrives last; display keeps the newer result.
	e.Apply(ctx, staleDone)
	p = e.Projection()
	require.Equal(t, "99@hn", p.Rows[0].ID)
}

func TestGotoPageValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	start(t, e)

	_, err := e.GotoPage(ctx, 99)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 1, e.Projection().Page)

	_, err = e.GotoPage(ctx, 0)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 1, e.Projection().Page)
}

func TestMarkScopedToThread(t *testing.T) {
	e, _, _ := newTestEngine(t)
	start(t, e)

	openAt(t, e, "42@hn")
	e.cursor = "c2@hn"
	e.SetMark()

	e.Close()
	openAt(t, e, "43@hn")
	cursorBefore := e.Projection().Cursor

	err := e.JumpToMark()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, cursorBefore, e.Projection().Cursor, "failed jump must not move the cursor")

	// Back in the original thread the mark is valid again.
	e.Close()
	openAt(t, e, "42@hn")
	require.NoError(t, e.JumpToMark())
	p := e.Projection()
	require.Equal(t, "c2@hn", p.Rows[p.Cursor].ID)

	e.cursor = "g1@hn"
	require.NoError(t, e.SwapMark())
	p = e.Projection()
	require.Equal(t, "g1@hn", e.mark)
	require.Equal(t, "c2@hn", p.Rows[p.Cursor].ID)
}

func TestJumpNextUnread(t *testing.T) {
	e, _, _ := newTestEngine(t)
	start(t, e)
	openAt(t, e, "42@hn")

	require.NoError(t, e.JumpNextUnread())
	p := e.Projection()
	require.Equal(t, "c1@hn", p.Rows[p.Cursor].ID)

	// From the last zero-unread story there is nothing left below.
	e.cursor = "46@hn"
	err := e.JumpNextUnread()
	require.ErrorIs(t, err, ErrNoMoreUnread)
	p = e.Projection()
	require.Equal(t, "46@hn", p.Rows[p.Cursor].ID)
}

func TestExpandStubResolvesOneLevel(t *testing.T) {
	e, fake, _ := newTestEngine(t)
	start(t, e)

	// The thread fetch was depth-pruned: c1's children arrive as ids only.
	fake.items["42@hn"] = story42()[:2]
	fake.items["g1@hn"] = []source.Message{story42()[2]}

	openAt(t, e, "42@hn")
	p := e.Projection()
	require.Len(t, p.Rows, 10, "pruned kids still occupy rows as stubs")

	openAt(t, e, "g1@hn")
	require.Equal(t, 2, fake.itemCalls, "opening a stub fetches it")

	p = e.Projection()
	require.Equal(t, "g1@hn", p.Pager.Msg.ID)
	require.Equal(t, "carol", p.Pager.Msg.Author)
	for _, row := range p.Rows {
		if row.ID == "g1@hn" {
			require.True(t, row.Resolved)
			require.True(t, row.Read)
		}
	}
}

func TestStarredGroupListsFromStore(t *testing.T) {
	e, fake, _ := newTestEngine(t)
	ctx := context.Background()
	start(t, e)

	// Star a listing story without opening it.
	e.cursor = "42@hn"
	require.NoError(t, e.ToggleStar(ctx, StarMessage))

	f, err := e.ChangeGroup(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, f, "the starred tab is served offline")

	p := e.Projection()
	require.Len(t, p.Rows, 1)
	require.Equal(t, "42@hn", p.Rows[0].ID)
	require.True(t, p.Rows[0].Starred)

	// An explicit refresh re-resolves the stories upstream.
	updated := listing("42@hn", 7)
	fake.stories["42@hn"] = updated
	refresh, err := e.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, refresh)
	run(t, e, refresh)

	require.Equal(t, 1, fake.storyCalls)
	p = e.Projection()
	require.Equal(t, 7, p.Rows[0].CommentCount)
}

func TestFetchFailureLeavesStateUnchanged(t *testing.T) {
	e, fake, _ := newTestEngine(t)
	ctx := context.Background()
	start(t, e)

	delete(fake.items, "43@hn")
	e.cursor = "43@hn"
	f, err := e.Open(ctx)
	require.NoError(t, err)
	require.NotNil(t, f)
	e.Apply(ctx, e.Execute(ctx, *f))

	p := e.Projection()
	require.Len(t, p.Rows, 5, "a failed open must not open anything")
	require.Nil(t, p.Pager)
	require.NotEmpty(t, p.Flash)
	require.Equal(t, "43@hn", p.Rows[p.Cursor].ID)
}

func TestStaleThreadFetchDoesNotReopen(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()
	start(t, e)

	e.cursor = "42@hn"
	f, err := e.Open(ctx)
	require.NoError(t, err)
	require.NotNil(t, f)
	done := e.Execute(ctx, *f)

	// The user gives up before the fetch lands.
	e.Close()
	e.Apply(ctx, done)

	p := e.Projection()
	require.Len(t, p.Rows, 5, "a closed thread must stay closed")
	require.Nil(t, p.Pager)

	// The records still reached the cache.
	msg, err := store.GetMessage(ctx, "c1@hn")
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.True(t, msg.Loaded)
}

func TestSelectBoundaries(t *testing.T) {
	e, _, _ := newTestEngine(t)
	start(t, e)

	e.SelectPrev()
	p := e.Projection()
	require.Equal(t, 0, p.Cursor, "select before the first row is a no-op")

	e.cursor = "46@hn"
	e.SelectNext()
	p = e.Projection()
	require.Equal(t, "46@hn", p.Rows[p.Cursor].ID, "select past the last row is a no-op")

	e.cursor = "42@hn"
	e.SelectNext()
	p = e.Projection()
	require.Equal(t, "43@hn", p.Rows[p.Cursor].ID)
}

func TestChangeGroupValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	start(t, e)

	_, err := e.ChangeGroup(context.Background(), 9)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Front Page", e.Projection().Group.Label)
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	cause := errors.New("boom")
	var err error = &FetchFailedError{Target: "front page 1", Cause: cause}
	require.ErrorIs(t, err, cause)

	err = &StoreWriteError{Op: "set read", Cause: cause}
	require.ErrorIs(t, err, cause)
}
