package source

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const hnItemURL = "https://news.ycombinator.com/item?id="

// HN fetches listings and items from the Algolia Hacker News API.
type HN struct {
	baseURL string
	http    *http.Client
}

func NewHN(baseURL string, httpClient *http.Client) *HN {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HN{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type hnHit struct {
	ObjectID    string `json:"objectID"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	CreatedAtI  int64  `json:"created_at_i"`
	URL         string `json:"url"`
	NumComments int    `json:"num_comments"`
}

type hnSearchResponse struct {
	Hits    []hnHit `json:"hits"`
	NbPages int     `json:"nbPages"`
}

type hnItem struct {
	ID         int64    `json:"id"`
	Author     string   `json:"author"`
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	URL        string   `json:"url"`
	CreatedAtI int64    `json:"created_at_i"`
	Children   []hnItem `json:"children"`
}

func (c *HN) FetchPage(ctx context.Context, group Group, page int) (Page, error) {
	if page < 1 {
		page = 1
	}

	endpoint, tags := "/search_by_date", ""
	switch group.Name {
	case "front":
		// Relevance-ordered search keeps the front page in rank order.
		endpoint, tags = "/search", "front_page"
	case "new":
		tags = "story"
	case "ask":
		tags = "ask_hn"
	case "show":
		tags = "show_hn"
	default:
		return Page{}, fmt.Errorf("unknown hn group: %s", group.Name)
	}

	q := make(url.Values)
	q.Set("tags", tags)
	q.Set("hitsPerPage", "30")
	// Algolia pages are zero-based.
	q.Set("page", strconv.Itoa(page-1))

	var resp hnSearchResponse
	if err := c.getJSON(ctx, endpoint+"?"+q.Encode(), &resp); err != nil {
		return Page{}, fmt.Errorf("list %s stories: %w", group.Name, err)
	}

	stories := make([]Message, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		stories = append(stories, hit.message())
	}

	return Page{
		Group:      group,
		Number:     page,
		TotalPages: resp.NbPages,
		Stories:    stories,
	}, nil
}

func (c *HN) FetchMessage(ctx context.Context, id string, depth int) ([]Message, error) {
	native, _ := SplitID(id)

	var item hnItem
	if err := c.getJSON(ctx, "/items/"+url.PathEscape(native), &item); err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", native, err)
	}

	out := make([]Message, 0, 16)
	flattenHNItem(item, id, "", "", depth, &out)
	return out, nil
}

func (c *HN) FetchStories(ctx context.Context, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	storyTags := make([]string, 0, len(ids))
	for _, id := range ids {
		native, _ := SplitID(id)
		storyTags = append(storyTags, "story_"+native)
	}

	q := make(url.Values)
	q.Set("hitsPerPage", strconv.Itoa(len(ids)))
	q.Set("tags", "story,("+strings.Join(storyTags, ",")+")")

	var resp hnSearchResponse
	if err := c.getJSON(ctx, "/search_by_date?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch stories by id: %w", err)
	}

	stories := make([]Message, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		stories = append(stories, hit.message())
	}
	return stories, nil
}

func (h hnHit) message() Message {
	author := h.Author
	if author == "" {
		author = "unknown"
	}
	return Message{
		ID:           JoinID(h.ObjectID, ProviderHN),
		ThreadID:     JoinID(h.ObjectID, ProviderHN),
		Author:       author,
		Title:        html.UnescapeString(h.Title),
		URL:          hnItemURL + h.ObjectID,
		Posted:       time.Unix(h.CreatedAtI, 0),
		CommentCount: h.NumComments,
	}
}

// flattenHNItem emits item and up to depth levels of its children in
// pre-order. Pruned children stay visible as ids in Kids so they can be
// resolved later by an expand.
func flattenHNItem(item hnItem, threadID, parentID, parentTitle string, depth int, out *[]Message) {
	native := strconv.FormatInt(item.ID, 10)
	id := JoinID(native, ProviderHN)

	title := html.UnescapeString(item.Title)
	if title == "" && parentTitle != "" {
		title = "Re: " + strings.TrimPrefix(parentTitle, "Re: ")
	}

	var body strings.Builder
	if item.URL != "" {
		body.WriteString("<p>" + item.URL + "</p>")
	}
	body.WriteString(item.Text)

	author := item.Author
	dead := false
	if author == "" && item.Text == "" && item.Title == "" {
		// The item API keeps deleted comments as empty husks.
		author = "deleted"
		dead = true
	}
	if author == "" {
		author = "unknown"
	}

	msg := Message{
		ID:       id,
		ThreadID: threadID,
		ParentID: parentID,
		Author:   author,
		Title:    title,
		Body:     body.String(),
		Loaded:   true,
		URL:      hnItemURL + native,
		Posted:   time.Unix(item.CreatedAtI, 0),
		Kids:     make([]string, 0, len(item.Children)),
		Dead:     dead,
	}
	for _, child := range item.Children {
		msg.Kids = append(msg.Kids, JoinID(strconv.FormatInt(child.ID, 10), ProviderHN))
	}
	*out = append(*out, msg)

	if depth <= 0 {
		return
	}
	for _, child := range item.Children {
		flattenHNItem(child, threadID, id, title, depth-1, out)
	}
}

func (c *HN) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "threadnews")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
