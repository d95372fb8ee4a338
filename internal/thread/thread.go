// Package thread assembles flat message records into ordered reply
// trees and maintains unread/total descendant aggregates.
package thread

import (
	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/storage"
)

// Node wraps one message inside an assembled thread.
type Node struct {
	Msg      source.Message
	Parent   *Node
	Children []*Node
	State    storage.UserState

	// Resolved reports whether the node's own body and children have
	// been fetched; unresolved nodes render as expandable stubs.
	Resolved bool

	// UnreadDescendants counts unread, non-tombstone comments in this
	// node's subtree, the node itself included when it is a comment.
	UnreadDescendants int
	// TotalDescendants counts every node strictly below this one,
	// tombstones included.
	TotalDescendants int
}

// countsUnread reports whether the node contributes to unread badges:
// comments only, tombstones never.
func (n *Node) countsUnread() bool {
	return !n.Msg.IsThread() && !n.Msg.Dead && !n.State.Read
}

// IsLastSibling reports whether the node is its parent's final child.
func (n *Node) IsLastSibling() bool {
	if n.Parent == nil {
		return true
	}
	siblings := n.Parent.Children
	return len(siblings) > 0 && siblings[len(siblings)-1] == n
}

// Thread is the assembled forest rooted at one top-level story.
type Thread struct {
	Root  *Node
	nodes map[string]*Node
}

func newThread() *Thread {
	return &Thread{nodes: make(map[string]*Node)}
}

// Node looks up a resident node by message id.
func (t *Thread) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Len is the number of resident nodes, the root included.
func (t *Thread) Len() int {
	return len(t.nodes)
}

// Walk visits resident nodes in display order (pre-order, sibling order
// as reported by the source) with their depth below the root.
func (t *Thread) Walk(fn func(n *Node, depth int)) {
	if t.Root == nil {
		return
	}
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(t.Root, 0)
}

// Nodes returns every resident node in display order.
func (t *Thread) Nodes() []*Node {
	out := make([]*Node, 0, len(t.nodes))
	t.Walk(func(n *Node, _ int) { out = append(out, n) })
	return out
}

// loadedComments counts comment records whose body has been fetched,
// the staleness signal compared against listing comment totals.
func (t *Thread) loadedComments() int {
	count := 0
	for _, n := range t.nodes {
		if !n.Msg.IsThread() && n.Msg.Loaded {
			count++
		}
	}
	return count
}

// relink rebuilds every node's child slice from its merged kid-id list.
// Kid ids merge append-only, so sibling order the user has already seen
// never changes.
func (t *Thread) relink() {
	for _, n := range t.nodes {
		n.Children = n.Children[:0]
		for _, kid := range n.Msg.Kids {
			c, ok := t.nodes[kid]
			if !ok {
				continue
			}
			c.Parent = n
			n.Children = append(n.Children, c)
		}
	}
}

// recompute rebuilds the aggregates of n's subtree post-order.
func recompute(n *Node) {
	n.UnreadDescendants = 0
	n.TotalDescendants = 0
	for _, c := range n.Children {
		recompute(c)
		n.TotalDescendants += c.TotalDescendants + 1
		n.UnreadDescendants += c.UnreadDescendants
	}
	if n.countsUnread() {
		n.UnreadDescendants++
	}
}
