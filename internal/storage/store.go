// Package storage persists messages, cached pages and per-message user
// state in a local sqlite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glabrego/threadnews-cli/internal/source"
)

// schemaVersion tags the on-disk format; newer engine versions must keep
// reading databases carrying this tag.
const schemaVersion = 1

// UserState is the persisted per-message user state. The zero value is
// the default for ids never seen before.
type UserState struct {
	Read    bool
	Starred bool
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single session owns the database; writes must be durable before
	// the call returns so read/starred state survives crashes.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	const schema = `
PRAGMA synchronous = FULL;

CREATE TABLE IF NOT EXISTS messages (
  id TEXT NOT NULL PRIMARY KEY,
  thread_id TEXT NOT NULL,
  parent_id TEXT,
  author TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT,
  url TEXT NOT NULL,
  posted_at INTEGER NOT NULL,
  kids TEXT NOT NULL,
  dead INTEGER NOT NULL DEFAULT 0,
  comment_count INTEGER NOT NULL DEFAULT 0,
  fetched_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_thread ON messages (thread_id);

CREATE TABLE IF NOT EXISTS user_state (
  message_id TEXT NOT NULL PRIMARY KEY,
  thread_id TEXT NOT NULL,
  read INTEGER NOT NULL DEFAULT 0,
  starred INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS user_state_starred ON user_state (starred, thread_id);

CREATE TABLE IF NOT EXISTS pages (
  provider TEXT NOT NULL,
  grp TEXT NOT NULL,
  page INTEGER NOT NULL,
  story_ids TEXT NOT NULL,
  total_pages INTEGER NOT NULL,
  fetched_at TEXT NOT NULL,
  PRIMARY KEY (provider, grp, page)
);

CREATE TABLE IF NOT EXISTS schema_info (
  version INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version.Int64 > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", version.Int64, schemaVersion)
	}
	return nil
}

// PutMessages upserts a batch of records. Existing rows keep their body
// and author when the incoming record is an unloaded listing entry, and
// child ids are extended append-only so sibling order never changes for
// ids the user has already seen.
func (s *Store) PutMessages(ctx context.Context, msgs []source.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	get, err := tx.PrepareContext(ctx, `
SELECT thread_id, parent_id, author, title, body, url, posted_at, kids, dead, comment_count
FROM messages WHERE id = ?
`)
	if err != nil {
		return fmt.Errorf("prepare lookup statement: %w", err)
	}
	defer get.Close()

	put, err := tx.PrepareContext(ctx, `
INSERT INTO messages (id, thread_id, parent_id, author, title, body, url, posted_at, kids, dead, comment_count, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  thread_id=excluded.thread_id,
  parent_id=excluded.parent_id,
  author=excluded.author,
  title=excluded.title,
  body=excluded.body,
  url=excluded.url,
  posted_at=excluded.posted_at,
  kids=excluded.kids,
  dead=excluded.dead,
  comment_count=excluded.comment_count,
  fetched_at=excluded.fetched_at
`)
	if err != nil {
		return fmt.Errorf("prepare save statement: %w", err)
	}
	defer put.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, msg := range msgs {
		existing, ok, err := scanMessage(get.QueryRowContext(ctx, msg.ID), msg.ID)
		if err != nil {
			return fmt.Errorf("lookup message %s: %w", msg.ID, err)
		}
		if ok {
			msg = MergeRecord(existing, msg)
		}

		kids, err := json.Marshal(msg.Kids)
		if err != nil {
			return fmt.Errorf("encode kids for %s: %w", msg.ID, err)
		}
		var body sql.NullString
		if msg.Loaded {
			body = sql.NullString{String: msg.Body, Valid: true}
		}
		var parent sql.NullString
		if msg.ParentID != "" {
			parent = sql.NullString{String: msg.ParentID, Valid: true}
		}

		_, err = put.ExecContext(
			ctx,
			msg.ID,
			msg.ThreadID,
			parent,
			msg.Author,
			msg.Title,
			body,
			msg.URL,
			msg.Posted.Unix(),
			string(kids),
			boolToInt(msg.Dead),
			msg.CommentCount,
			now,
		)
		if err != nil {
			return fmt.Errorf("save message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MergeRecord folds an incoming record into an existing one: content
// fields win only when actually known, and new child ids append after
// the existing order.
func MergeRecord(existing, incoming source.Message) source.Message {
	merged := existing
	merged.ThreadID = incoming.ThreadID
	merged.Posted = incoming.Posted
	merged.Dead = incoming.Dead
	if incoming.ParentID != "" {
		merged.ParentID = incoming.ParentID
	}
	if incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if incoming.URL != "" {
		merged.URL = incoming.URL
	}
	if incoming.Author != "" && incoming.Author != "unknown" || existing.Author == "" {
		merged.Author = incoming.Author
	}
	if incoming.Loaded {
		merged.Body = incoming.Body
		merged.Loaded = true
	}
	if incoming.CommentCount > 0 || existing.CommentCount == 0 {
		merged.CommentCount = incoming.CommentCount
	}
	merged.Kids = AppendNewKids(existing.Kids, incoming.Kids)
	return merged
}

// AppendNewKids keeps the existing child order and appends ids the
// source newly reports, in the source's order.
func AppendNewKids(existing, incoming []string) []string {
	if len(existing) == 0 {
		return append([]string(nil), incoming...)
	}
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range incoming {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Store) GetMessage(ctx context.Context, id string) (*source.Message, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT thread_id, parent_id, author, title, body, url, posted_at, kids, dead, comment_count
FROM messages WHERE id = ?
`, id)
	msg, ok, err := scanMessage(row, id)
	if err != nil {
		return nil, fmt.Errorf("query message %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// GetMessages returns every requested record found in the store, keyed
// by id; absent ids are simply missing from the result.
func (s *Store) GetMessages(ctx context.Context, ids []string) (map[string]source.Message, error) {
	out := make(map[string]source.Message, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			out[id] = *msg
		}
	}
	return out, nil
}

func scanMessage(row *sql.Row, id string) (source.Message, bool, error) {
	var (
		msg      source.Message
		parent   sql.NullString
		body     sql.NullString
		posted   int64
		kidsJSON string
		dead     int
	)
	err := row.Scan(&msg.ThreadID, &parent, &msg.Author, &msg.Title, &body, &msg.URL, &posted, &kidsJSON, &dead, &msg.CommentCount)
	if err == sql.ErrNoRows {
		return source.Message{}, false, nil
	}
	if err != nil {
		return source.Message{}, false, err
	}

	msg.ID = id
	msg.ParentID = parent.String
	if body.Valid {
		msg.Body = body.String
		msg.Loaded = true
	}
	msg.Posted = time.Unix(posted, 0)
	msg.Dead = dead != 0
	if err := json.Unmarshal([]byte(kidsJSON), &msg.Kids); err != nil {
		return source.Message{}, false, fmt.Errorf("decode kids: %w", err)
	}
	return msg, true, nil
}

func (s *Store) GetUserState(ctx context.Context, id string) (UserState, error) {
	var read, starred int
	err := s.db.QueryRowContext(ctx, `SELECT read, starred FROM user_state WHERE message_id = ?`, id).Scan(&read, &starred)
	if err == sql.ErrNoRows {
		return UserState{}, nil
	}
	if err != nil {
		return UserState{}, fmt.Errorf("query user state %s: %w", id, err)
	}
	return UserState{Read: read != 0, Starred: starred != 0}, nil
}

func (s *Store) GetUserStates(ctx context.Context, ids []string) (map[string]UserState, error) {
	out := make(map[string]UserState, len(ids))
	for _, id := range ids {
		state, err := s.GetUserState(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = state
	}
	return out, nil
}

func (s *Store) SetRead(ctx context.Context, id, threadID string, read bool) error {
	return s.setState(ctx, id, threadID, "read", read)
}

func (s *Store) SetStarred(ctx context.Context, id, threadID string, starred bool) error {
	return s.setState(ctx, id, threadID, "starred", starred)
}

// SetStarredAll sets the starred flag for every id in one transaction: a
// failed write rolls back the whole batch, leaving no id half-toggled.
func (s *Store) SetStarredAll(ctx context.Context, ids []string, threadID string, starred bool) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO user_state (message_id, thread_id, starred, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(message_id) DO UPDATE SET
  thread_id=excluded.thread_id,
  starred=excluded.starred,
  updated_at=excluded.updated_at
`)
	if err != nil {
		return fmt.Errorf("prepare star statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, threadID, boolToInt(starred), now); err != nil {
			return fmt.Errorf("set starred for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) setState(ctx context.Context, id, threadID, column string, value bool) error {
	// column is one of the two fixed flag names, never user input.
	stmt := fmt.Sprintf(`
INSERT INTO user_state (message_id, thread_id, %[1]s, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(message_id) DO UPDATE SET
  thread_id=excluded.thread_id,
  %[1]s=excluded.%[1]s,
  updated_at=excluded.updated_at
`, column)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, stmt, id, threadID, boolToInt(value), now); err != nil {
		return fmt.Errorf("set %s for %s: %w", column, id, err)
	}
	return nil
}

// ReadCounts reports how many comments are marked read per thread, for
// the unread badge of threads that are not resident in memory. The story
// root is excluded: badges count comments, and opening a story marks the
// root itself read.
func (s *Store) ReadCounts(ctx context.Context, threadIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(threadIDs))
	for _, threadID := range threadIDs {
		var count int
		err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM user_state WHERE thread_id = ? AND read = 1 AND message_id != thread_id
`, threadID).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("count read messages for %s: %w", threadID, err)
		}
		out[threadID] = count
	}
	return out, nil
}

func (s *Store) PutPage(ctx context.Context, page source.Page) error {
	if err := s.PutMessages(ctx, page.Stories); err != nil {
		return err
	}

	ids := make([]string, 0, len(page.Stories))
	for _, story := range page.Stories {
		ids = append(ids, story.ID)
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode page story ids: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO pages (provider, grp, page, story_ids, total_pages, fetched_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, grp, page) DO UPDATE SET
  story_ids=excluded.story_ids,
  total_pages=excluded.total_pages,
  fetched_at=excluded.fetched_at
`, page.Group.Provider, page.Group.Name, page.Number, string(encoded), page.TotalPages, now)
	if err != nil {
		return fmt.Errorf("save page %s/%s/%d: %w", page.Group.Provider, page.Group.Name, page.Number, err)
	}
	return nil
}

// GetPage returns the cached page, or nil when it was never fetched.
func (s *Store) GetPage(ctx context.Context, group source.Group, number int) (*source.Page, error) {
	var (
		idsJSON    string
		totalPages int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT story_ids, total_pages FROM pages WHERE provider = ? AND grp = ? AND page = ?
`, group.Provider, group.Name, number).Scan(&idsJSON, &totalPages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query page %s/%s/%d: %w", group.Provider, group.Name, number, err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return nil, fmt.Errorf("decode page story ids: %w", err)
	}

	page := source.Page{Group: group, Number: number, TotalPages: totalPages}
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			page.Stories = append(page.Stories, *msg)
		}
	}
	return &page, nil
}

// StarredThreadIDs lists threads containing at least one starred
// message, newest thread first, paginated. The second result is the
// total page count for the given page size.
func (s *Store) StarredThreadIDs(ctx context.Context, page, perPage int) ([]string, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 30
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT thread_id) FROM user_state WHERE starred = 1
`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count starred threads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT us.thread_id
FROM user_state us
LEFT JOIN messages m ON m.id = us.thread_id
WHERE us.starred = 1
GROUP BY us.thread_id
ORDER BY MAX(m.posted_at) DESC
LIMIT ? OFFSET ?
`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("query starred threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("scan starred thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	return ids, totalPages, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
