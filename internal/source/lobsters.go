package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// lobstersPageHorizon stands in for a total-page count: the listing
// endpoints report none, and the site keeps roughly this many pages
// reachable.
const lobstersPageHorizon = 25

// Lobsters fetches listings and stories from the lobste.rs JSON API.
type Lobsters struct {
	baseURL string
	http    *http.Client
}

func NewLobsters(baseURL string, httpClient *http.Client) *Lobsters {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Lobsters{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// lobstersUser decodes both current payloads (a plain login string) and
// older ones (an object with a username field).
type lobstersUser string

func (u *lobstersUser) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = lobstersUser(s)
		return nil
	}
	var obj struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*u = lobstersUser(obj.Username)
	return nil
}

type lobstersStory struct {
	ShortID       string            `json:"short_id"`
	ShortIDURL    string            `json:"short_id_url"`
	Title         string            `json:"title"`
	URL           string            `json:"url"`
	Description   string            `json:"description"`
	CreatedAt     string            `json:"created_at"`
	CommentCount  int               `json:"comment_count"`
	SubmitterUser lobstersUser      `json:"submitter_user"`
	Comments      []lobstersComment `json:"comments"`
}

type lobstersComment struct {
	ShortID        string       `json:"short_id"`
	Comment        string       `json:"comment"`
	CreatedAt      string       `json:"created_at"`
	CommentingUser lobstersUser `json:"commenting_user"`
	ParentComment  *string      `json:"parent_comment"`
	IsDeleted      bool         `json:"is_deleted"`
	IsModerated    bool         `json:"is_moderated"`
}

func (c *Lobsters) FetchPage(ctx context.Context, group Group, page int) (Page, error) {
	if page < 1 {
		page = 1
	}

	var endpoint string
	switch group.Name {
	case "hottest":
		endpoint = "/hottest.json"
	case "newest":
		endpoint = "/newest.json"
	default:
		return Page{}, fmt.Errorf("unknown lobsters group: %s", group.Name)
	}

	var listing []lobstersStory
	if err := c.getJSON(ctx, endpoint+"?page="+strconv.Itoa(page), &listing); err != nil {
		return Page{}, fmt.Errorf("list %s stories: %w", group.Name, err)
	}

	stories := make([]Message, 0, len(listing))
	for _, story := range listing {
		stories = append(stories, c.storyMessage(story, false))
	}

	return Page{
		Group:      group,
		Number:     page,
		TotalPages: lobstersPageHorizon,
		Stories:    stories,
	}, nil
}

// FetchMessage resolves a story and its full comment set in one call:
// the story endpoint always returns every comment, so the depth limit
// never prunes anything here.
func (c *Lobsters) FetchMessage(ctx context.Context, id string, depth int) ([]Message, error) {
	native, _ := SplitID(id)

	var story lobstersStory
	if err := c.getJSON(ctx, "/s/"+url.PathEscape(native)+".json", &story); err != nil {
		return nil, fmt.Errorf("fetch story %s: %w", native, err)
	}

	threadID := JoinID(story.ShortID, ProviderLobsters)
	root := c.storyMessage(story, true)

	out := make([]Message, 0, len(story.Comments)+1)
	out = append(out, root)
	kidsByParent := make(map[string][]string, len(story.Comments))

	for _, comment := range story.Comments {
		commentID := JoinID(comment.ShortID, ProviderLobsters)
		parentID := threadID
		if comment.ParentComment != nil && *comment.ParentComment != "" {
			parentID = JoinID(*comment.ParentComment, ProviderLobsters)
		}
		kidsByParent[parentID] = append(kidsByParent[parentID], commentID)

		author := string(comment.CommentingUser)
		if author == "" {
			author = "unknown"
		}
		out = append(out, Message{
			ID:       commentID,
			ThreadID: threadID,
			ParentID: parentID,
			Author:   author,
			Title:    "Re: " + story.Title,
			Body:     comment.Comment,
			Loaded:   true,
			URL:      c.baseURL + "/s/" + story.ShortID + "#c_" + comment.ShortID,
			Posted:   parseLobstersTime(comment.CreatedAt),
			Dead:     comment.IsDeleted || comment.IsModerated,
		})
	}

	for i := range out {
		out[i].Kids = kidsByParent[out[i].ID]
	}
	return out, nil
}

// FetchStories resolves starred story ids one by one; the API has no
// batch lookup.
func (c *Lobsters) FetchStories(ctx context.Context, ids []string) ([]Message, error) {
	stories := make([]Message, 0, len(ids))
	for _, id := range ids {
		native, _ := SplitID(id)
		var story lobstersStory
		if err := c.getJSON(ctx, "/s/"+url.PathEscape(native)+".json", &story); err != nil {
			return nil, fmt.Errorf("fetch story %s: %w", native, err)
		}
		stories = append(stories, c.storyMessage(story, false))
	}
	return stories, nil
}

func (c *Lobsters) storyMessage(story lobstersStory, loaded bool) Message {
	author := string(story.SubmitterUser)
	if author == "" {
		author = "unknown"
	}

	location := story.ShortIDURL
	if location == "" {
		location = c.baseURL + "/s/" + story.ShortID
	}

	var body strings.Builder
	if story.URL != "" {
		body.WriteString("<p>" + story.URL + "</p>")
	}
	body.WriteString(story.Description)

	return Message{
		ID:           JoinID(story.ShortID, ProviderLobsters),
		ThreadID:     JoinID(story.ShortID, ProviderLobsters),
		Author:       author,
		Title:        story.Title,
		Body:         body.String(),
		Loaded:       loaded,
		URL:          location,
		Posted:       parseLobstersTime(story.CreatedAt),
		CommentCount: story.CommentCount,
	}
}

func parseLobstersTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *Lobsters) getJSON(ctx context.Context, path string, dst any) error {
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
