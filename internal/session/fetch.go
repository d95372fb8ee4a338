package session

import (
	"context"
	"fmt"

	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/thread"
)

// FetchKind names what a planned fetch resolves.
type FetchKind int

const (
	// FetchPage resolves one listing page of a group.
	FetchPage FetchKind = iota
	// FetchThread resolves a story and its comment tree.
	FetchThread
	// FetchExpand resolves one more child level below a stub node.
	FetchExpand
	// FetchStarred refreshes the story records backing a starred page.
	FetchStarred
)

// Fetch is a network plan produced by an engine command. Execute runs
// it off the command loop; the resulting Completion must be handed back
// to Apply on the command loop.
type Fetch struct {
	Kind       FetchKind
	Group      source.Group
	GroupIndex int
	Page       int
	// ID is the thread or node to resolve for thread/expand fetches.
	ID       string
	ThreadID string
	Depth    int
	// IDs are the story ids a starred refresh resolves.
	IDs []string
	// Seq orders fetches per (group, page) key; stale completions merge
	// into the store but never touch session state.
	Seq int
}

// Completion is the result of executing one Fetch.
type Completion struct {
	Fetch   Fetch
	Page    source.Page
	Records []source.Message
	Err     error
}

// Execute runs the planned fetch against the remote sources. It only
// talks to the network; every durable or in-memory mutation happens
// later in Apply, on the command loop.
func (e *Engine) Execute(ctx context.Context, f Fetch) Completion {
	c := Completion{Fetch: f}

	switch f.Kind {
	case FetchPage:
		src, ok := e.sources[f.Group.Provider]
		if !ok {
			c.Err = fmt.Errorf("no source for provider %s", f.Group.Provider)
			return c
		}
		c.Page, c.Err = src.FetchPage(ctx, f.Group, f.Page)

	case FetchThread, FetchExpand:
		_, provider := source.SplitID(f.ID)
		src, ok := e.sources[provider]
		if !ok {
			c.Err = fmt.Errorf("no source for provider %s", provider)
			return c
		}
		depth := f.Depth
		if depth <= 0 {
			depth = thread.DefaultFetchDepth
		}
		c.Records, c.Err = src.FetchMessage(ctx, f.ID, depth)

	case FetchStarred:
		byProvider := make(map[string][]string)
		var order []string
		for _, id := range f.IDs {
			_, provider := source.SplitID(id)
			if _, ok := byProvider[provider]; !ok {
				order = append(order, provider)
			}
			byProvider[provider] = append(byProvider[provider], id)
		}
		for _, provider := range order {
			src, ok := e.sources[provider]
			if !ok {
				continue
			}
			stories, err := src.FetchStories(ctx, byProvider[provider])
			if err != nil {
				c.Err = err
				return c
			}
			c.Records = append(c.Records, stories...)
		}
	}
	return c
}
