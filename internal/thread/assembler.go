package thread

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/storage"
)

// DefaultFetchDepth is how many child levels a thread open resolves in
// one call; deeper replies stay stubs until expanded.
const DefaultFetchDepth = 4

// ExpandDepth resolves one more level below an unresolved node.
const ExpandDepth = 1

// Assembler owns the resident threads of a session. It merges fetched
// records into them, persists every record through the store, and keeps
// the unread/total aggregates current. It never talks to the network;
// fetching is the caller's concern.
type Assembler struct {
	store   *storage.Store
	logger  zerolog.Logger
	threads map[string]*Thread
}

func NewAssembler(store *storage.Store, logger zerolog.Logger) *Assembler {
	return &Assembler{
		store:   store,
		logger:  logger,
		threads: make(map[string]*Thread),
	}
}

// Resident returns the in-memory thread, if any.
func (a *Assembler) Resident(threadID string) (*Thread, bool) {
	t, ok := a.threads[threadID]
	return t, ok
}

// OpenCached loads threadID from memory or the store and reports
// whether the cached copy is complete enough to serve without a fetch.
// listingCount is the comment total the listing most recently reported;
// fewer loaded comment records than that means new replies exist
// upstream. The comparison is count-based best effort: deletions
// upstream can mask an equal number of new replies.
func (a *Assembler) OpenCached(ctx context.Context, threadID string, listingCount int) (*Thread, bool, error) {
	t, ok := a.threads[threadID]
	if !ok {
		var err error
		t, err = a.loadFromStore(ctx, threadID)
		if err != nil {
			return nil, false, err
		}
		if t.Root != nil {
			a.threads[threadID] = t
		}
	}

	fresh := t.Root != nil && t.Root.Msg.Loaded && t.loadedComments() >= listingCount
	if fresh {
		a.logger.Debug().Str("thread", threadID).Int("nodes", t.Len()).Msg("serving thread from cache")
	}
	return t, fresh, nil
}

// Merge folds a fetched record batch into the resident thread, creating
// it from the store first if needed. records[0] must be the root of the
// fetched subtree (the story for an open, an interior node for an
// expand). Records are persisted before any in-memory state changes, so
// a store failure leaves the forest untouched.
//
// Merging is idempotent: existing user state and already-resolved
// children survive, content fields are backfilled only when previously
// unknown, and new kid ids append after the order already on screen.
func (a *Assembler) Merge(ctx context.Context, threadID string, records []source.Message) (*Thread, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("merge thread %s: empty record batch", threadID)
	}

	t, ok := a.threads[threadID]
	if !ok {
		var err error
		t, err = a.loadFromStore(ctx, threadID)
		if err != nil {
			return nil, err
		}
	}
	if t.Root == nil && records[0].ID != threadID {
		return nil, fmt.Errorf("merge thread %s: subtree root %s arrived before the thread root", threadID, records[0].ID)
	}

	if err := a.store.PutMessages(ctx, records); err != nil {
		return nil, err
	}

	var newIDs []string
	for _, rec := range records {
		n, ok := t.nodes[rec.ID]
		if !ok {
			n = &Node{Msg: rec}
			t.nodes[rec.ID] = n
			newIDs = append(newIDs, rec.ID)
		} else {
			n.Msg = storage.MergeRecord(n.Msg, rec)
		}
		if n.Msg.Loaded {
			n.Resolved = true
		}
	}
	newIDs = append(newIDs, a.addStubs(t, threadID)...)

	if len(newIDs) > 0 {
		states, err := a.store.GetUserStates(ctx, newIDs)
		if err != nil {
			return nil, err
		}
		for id, state := range states {
			t.nodes[id].State = state
		}
	}

	if t.Root == nil {
		t.Root = t.nodes[threadID]
	}
	t.relink()

	sub, ok := t.nodes[records[0].ID]
	if !ok {
		return nil, fmt.Errorf("merge thread %s: subtree root %s missing after merge", threadID, records[0].ID)
	}
	oldUnread, oldTotal := sub.UnreadDescendants, sub.TotalDescendants
	recompute(sub)
	for p := sub.Parent; p != nil; p = p.Parent {
		p.UnreadDescendants += sub.UnreadDescendants - oldUnread
		p.TotalDescendants += sub.TotalDescendants - oldTotal
	}

	a.threads[threadID] = t
	a.logger.Debug().
		Str("thread", threadID).
		Int("records", len(records)).
		Int("nodes", t.Len()).
		Int("unread", t.Root.UnreadDescendants).
		Msg("merged subtree")
	return t, nil
}

// addStubs creates placeholder nodes for kid ids whose records have not
// been fetched yet, so depth-pruned replies stay visible and count as
// unread.
func (a *Assembler) addStubs(t *Thread, threadID string) []string {
	var added []string
	for _, n := range t.nodes {
		for _, kid := range n.Msg.Kids {
			if _, ok := t.nodes[kid]; ok {
				continue
			}
			t.nodes[kid] = &Node{Msg: source.Message{
				ID:       kid,
				ThreadID: threadID,
				ParentID: n.Msg.ID,
				Author:   "unknown",
			}}
			added = append(added, kid)
		}
	}
	return added
}

// MarkRead flags the node read, durably, and walks the unread delta up
// to every resident ancestor. Already-read nodes are a no-op.
func (a *Assembler) MarkRead(ctx context.Context, t *Thread, n *Node) error {
	if n.State.Read {
		return nil
	}
	if err := a.store.SetRead(ctx, n.Msg.ID, n.Msg.ThreadID, true); err != nil {
		return err
	}
	wasUnread := n.countsUnread()
	n.State.Read = true
	if wasUnread {
		for p := n; p != nil; p = p.Parent {
			p.UnreadDescendants--
		}
	}
	return nil
}

// SetStarred flags the node, durably. Star state never affects unread
// aggregates.
func (a *Assembler) SetStarred(ctx context.Context, n *Node, starred bool) error {
	if n.State.Starred == starred {
		return nil
	}
	if err := a.store.SetStarred(ctx, n.Msg.ID, n.Msg.ThreadID, starred); err != nil {
		return err
	}
	n.State.Starred = starred
	return nil
}

// loadFromStore rebuilds a thread from cached records by walking kid
// ids from the root. Missing records become stub nodes.
func (a *Assembler) loadFromStore(ctx context.Context, threadID string) (*Thread, error) {
	t := newThread()

	root, err := a.store.GetMessage(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return t, nil
	}

	queue := []source.Message{*root}
	var ids []string
	for len(queue) > 0 {
		msg := queue[0]
		queue = queue[1:]
		if _, ok := t.nodes[msg.ID]; ok {
			continue
		}
		t.nodes[msg.ID] = &Node{Msg: msg, Resolved: msg.Loaded}
		ids = append(ids, msg.ID)

		for _, kid := range msg.Kids {
			if _, ok := t.nodes[kid]; ok {
				continue
			}
			child, err := a.store.GetMessage(ctx, kid)
			if err != nil {
				return nil, err
			}
			if child == nil {
				queue = append(queue, source.Message{
					ID:       kid,
					ThreadID: threadID,
					ParentID: msg.ID,
					Author:   "unknown",
				})
				continue
			}
			queue = append(queue, *child)
		}
	}

	states, err := a.store.GetUserStates(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, state := range states {
		t.nodes[id].State = state
	}

	t.Root = t.nodes[threadID]
	t.relink()
	recompute(t.Root)
	return t, nil
}
