// Package source fetches story listings and message trees from the
// supported discussion sites and normalizes them into flat records.
package source

import (
	"context"
	"strings"
	"time"
)

const (
	ProviderHN       = "hn"
	ProviderLobsters = "lobsters"
	ProviderStarred  = "starred"
)

// Group is a named remote listing of top-level stories.
type Group struct {
	Provider string
	Name     string
	Label    string
}

// Message is the normalized record for one story or comment. IDs are
// namespaced as "<native id>@<provider>" so entries from different sites
// never collide in the store.
type Message struct {
	ID       string
	ThreadID string
	// ParentID is empty for top-level stories.
	ParentID string
	Author   string
	Title    string
	Body     string
	// Loaded reports whether Body has actually been fetched; listing
	// records carry metadata only.
	Loaded bool
	// URL is the canonical web location of the message.
	URL    string
	Posted time.Time
	// Kids holds child ids in the order the source reports them.
	Kids []string
	Dead bool
	// CommentCount is the source-reported comment total for stories,
	// zero for comments.
	CommentCount int
}

// IsThread reports whether the message is a top-level story.
func (m Message) IsThread() bool {
	return m.ParentID == ""
}

// Page is one fetched batch of a group's top-level stories.
type Page struct {
	Group      Group
	Number     int
	TotalPages int
	Stories    []Message
}

// Source is the uniform interface over one upstream site.
//
// FetchMessage returns the requested message followed by its descendants
// in pre-order, resolving at most depth levels of children; deeper
// messages appear only as ids in their parent's Kids list. Adapters do
// not retry; retry policy belongs to the caller.
type Source interface {
	FetchPage(ctx context.Context, group Group, page int) (Page, error)
	FetchMessage(ctx context.Context, id string, depth int) ([]Message, error)
	FetchStories(ctx context.Context, ids []string) ([]Message, error)
}

// JoinID builds a provider-namespaced message id.
func JoinID(native, provider string) string {
	return native + "@" + provider
}

// SplitID splits a namespaced id into its native id and provider tag.
func SplitID(id string) (native, provider string) {
	if i := strings.LastIndex(id, "@"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

// DefaultGroups returns the fixed tab list, in display order.
func DefaultGroups() []Group {
	return []Group{
		{Provider: ProviderHN, Name: "front", Label: "Front Page"},
		{Provider: ProviderHN, Name: "new", Label: "New"},
		{Provider: ProviderHN, Name: "ask", Label: "Ask HN"},
		{Provider: ProviderHN, Name: "show", Label: "Show HN"},
		{Provider: ProviderLobsters, Name: "hottest", Label: "Lobsters"},
		{Provider: ProviderLobsters, Name: "newest", Label: "Lobsters New"},
		{Provider: ProviderStarred, Name: "starred", Label: "Starred"},
	}
}
