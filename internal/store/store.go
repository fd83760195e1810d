// Package store is the durability layer: SQLite with WAL, an FTS5 mirror of
// chunk text kept in sync by triggers, and short single-purpose
// transactions. No transaction ever spans external I/O.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/citeseek/citeseek/internal/ids"
)

// Thread is one research run.
type Thread struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	VisitorID string `json:"visitorId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Message belongs to a thread; ordering is by created_at.
type Message struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	Role      string `json:"role"`
	ContentMD string `json:"contentMd"`
	CreatedAt int64  `json:"createdAt"`
}

// Source is one canonical URL that was read successfully.
type Source struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Title       string `json:"title,omitempty"`
	PublishedAt string `json:"publishedAt,omitempty"`
	CrawledAt   int64  `json:"crawledAt,omitempty"`
	Lang        string `json:"lang,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Status      string `json:"status"`
	HTTPStatus  int    `json:"httpStatus,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Chunk is an immutable span of a source's sanitized text.
type Chunk struct {
	ID        string `json:"id"`
	SourceID  string `json:"sourceId"`
	Pos       int    `json:"pos"`
	CharStart int    `json:"charStart"`
	CharEnd   int    `json:"charEnd"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
	CreatedAt int64  `json:"createdAt"`
}

// Citation links an assistant message to a quoted source span.
type Citation struct {
	ID        string   `json:"id"`
	MessageID string   `json:"messageId"`
	SourceID  string   `json:"sourceId"`
	ChunkID   string   `json:"chunkId,omitempty"`
	Quote     string   `json:"quote"`
	CharStart *int     `json:"charStart,omitempty"`
	CharEnd   *int     `json:"charEnd,omitempty"`
	RankScore *float64 `json:"rankScore,omitempty"`
}

// Claim is an atomic verified statement extracted from an answer.
type Claim struct {
	ID                string     `json:"id"`
	MessageID         string     `json:"messageId"`
	Text              string     `json:"text"`
	ClaimType         string     `json:"claimType,omitempty"`
	SupportScore      float64    `json:"supportScore"`
	Contradicted      bool       `json:"contradicted"`
	UncertaintyReason string     `json:"uncertaintyReason,omitempty"`
	Evidence          []Evidence `json:"evidence,omitempty"`
}

// Evidence is a verbatim quote bound to a chunk with offsets relative to the
// chunk text. ChunkID is empty and the offsets nil when the quote names only
// a source or could not be located.
type Evidence struct {
	ID        string   `json:"id"`
	ClaimID   string   `json:"claimId"`
	SourceID  string   `json:"sourceId"`
	ChunkID   string   `json:"chunkId,omitempty"`
	Quote     string   `json:"quote"`
	CharStart *int     `json:"charStart,omitempty"`
	CharEnd   *int     `json:"charEnd,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "no such module: fts5") {
			return nil, fmt.Errorf("creating schema: %w (build with -tags sqlite_fts5)", err)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	// SQLite tolerates few writers; keep the pool small.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for advanced queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func now() int64 { return time.Now().Unix() }

// --- Threads and messages ---

// CreateThread inserts a new thread and returns it.
func (s *Store) CreateThread(ctx context.Context, title, visitorID string) (Thread, error) {
	t := Thread{ID: ids.New(), Title: title, VisitorID: visitorID, CreatedAt: now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, title, visitor_id, created_at) VALUES (?, ?, NULLIF(?, ''), ?)`,
		t.ID, t.Title, t.VisitorID, t.CreatedAt)
	if err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return t, nil
}

// AddMessage appends a message to a thread.
func (s *Store) AddMessage(ctx context.Context, threadID, role, contentMD string) (Message, error) {
	m := Message{ID: ids.New(), ThreadID: threadID, Role: role, ContentMD: contentMD, CreatedAt: now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content_md, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.Role, m.ContentMD, m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns a thread's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content_md, created_at FROM messages WHERE thread_id = ? ORDER BY created_at, id`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.ContentMD, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessage removes a message; claims, evidence, and citations cascade.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

// --- Sources and chunks ---

// Fingerprint derives the content hash stored on sources.fingerprint.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// UpsertSource inserts a source row, its content, and its chunks in one
// transaction. Writes are idempotent against the canonical URL: when the URL
// (or the content fingerprint) already exists, nothing is written and the
// existing source id is returned with existed=true.
func (s *Store) UpsertSource(ctx context.Context, src Source, text, html string, chunks []Chunk) (id string, existed bool, err error) {
	if cur, err := s.GetSourceByURL(ctx, src.URL); err == nil && cur != nil {
		return cur.ID, true, nil
	}
	if src.Fingerprint != "" {
		var curID string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE fingerprint = ?`, src.Fingerprint).Scan(&curID)
		if err == nil {
			return curID, true, nil
		}
		if err != sql.ErrNoRows {
			return "", false, err
		}
	}
	if src.ID == "" {
		src.ID = ids.New()
	}
	if src.CreatedAt == 0 {
		src.CreatedAt = now()
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sources (id, url, domain, title, published_at, crawled_at, lang, fingerprint, status, http_status, created_at)
			VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
			ON CONFLICT(url) DO NOTHING`,
			src.ID, src.URL, src.Domain, src.Title, src.PublishedAt, src.CrawledAt,
			src.Lang, src.Fingerprint, src.Status, src.HTTPStatus, src.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			existed = true
			return tx.QueryRowContext(ctx, `SELECT id FROM sources WHERE url = ?`, src.URL).Scan(&src.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_content (source_id, text, html) VALUES (?, ?, NULLIF(?, ''))`,
			src.ID, text, html); err != nil {
			return fmt.Errorf("insert content: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, source_id, pos, char_start, char_end, text, tokens, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := range chunks {
			c := &chunks[i]
			if c.ID == "" {
				c.ID = ids.New()
			}
			c.SourceID = src.ID
			if c.CreatedAt == 0 {
				c.CreatedAt = src.CreatedAt
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.SourceID, c.Pos, c.CharStart, c.CharEnd, c.Text, c.Tokens, c.CreatedAt); err != nil {
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return src.ID, existed, nil
}

// GetSourceByURL resolves a canonical URL to its source row, or nil.
func (s *Store) GetSourceByURL(ctx context.Context, url string) (*Source, error) {
	return s.scanSource(s.db.QueryRowContext(ctx, sourceSelect+` WHERE url = ?`, url))
}

// GetSource returns a source by id, or nil when absent.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	return s.scanSource(s.db.QueryRowContext(ctx, sourceSelect+` WHERE id = ?`, id))
}

const sourceSelect = `SELECT id, url, domain, COALESCE(title, ''), COALESCE(published_at, ''),
	COALESCE(crawled_at, 0), COALESCE(lang, ''), COALESCE(fingerprint, ''), status,
	COALESCE(http_status, 0), created_at FROM sources`

func (s *Store) scanSource(row *sql.Row) (*Source, error) {
	var src Source
	err := row.Scan(&src.ID, &src.URL, &src.Domain, &src.Title, &src.PublishedAt,
		&src.CrawledAt, &src.Lang, &src.Fingerprint, &src.Status, &src.HTTPStatus, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetContent returns the stored text (and html when kept) for a source.
func (s *Store) GetContent(ctx context.Context, sourceID string) (text, html string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT text, COALESCE(html, '') FROM source_content WHERE source_id = ?`, sourceID).
		Scan(&text, &html)
	return text, html, err
}

// GetChunks returns up to limit chunks of a source in position order;
// limit <= 0 returns all.
func (s *Store) GetChunks(ctx context.Context, sourceID string, limit int) ([]Chunk, error) {
	q := `SELECT id, source_id, pos, char_start, char_end, text, tokens, created_at
		FROM chunks WHERE source_id = ? ORDER BY pos`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+` LIMIT ?`, sourceID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q, sourceID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Pos, &c.CharStart, &c.CharEnd, &c.Text, &c.Tokens, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunk returns a chunk by id, or sql.ErrNoRows.
func (s *Store) GetChunk(ctx context.Context, id string) (Chunk, error) {
	var c Chunk
	err := s.db.QueryRowContext(ctx, `SELECT id, source_id, pos, char_start, char_end, text, tokens, created_at
		FROM chunks WHERE id = ?`, id).
		Scan(&c.ID, &c.SourceID, &c.Pos, &c.CharStart, &c.CharEnd, &c.Text, &c.Tokens, &c.CreatedAt)
	return c, err
}

// --- Audit ---

// LogSearchEvent records a search call for auditability.
func (s *Store) LogSearchEvent(ctx context.Context, threadID, query, resultsJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_events (id, thread_id, query, results_json, created_at) VALUES (?, NULLIF(?, ''), ?, ?, ?)`,
		ids.New(), threadID, query, resultsJSON, now())
	return err
}

// Stats summarizes table sizes for the health endpoint.
type Stats struct {
	Sources  int64 `json:"sources"`
	Chunks   int64 `json:"chunks"`
	Threads  int64 `json:"threads"`
	Queued   int64 `json:"queued"`
	FTSRows  int64 `json:"ftsRows"`
	Messages int64 `json:"messages"`
}

// DBStats counts rows in the main tables.
func (s *Store) DBStats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, q := range []struct {
		sql string
		dst *int64
	}{
		{`SELECT COUNT(*) FROM sources`, &st.Sources},
		{`SELECT COUNT(*) FROM chunks`, &st.Chunks},
		{`SELECT COUNT(*) FROM threads`, &st.Threads},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
		{`SELECT COUNT(*) FROM ingest_queue WHERE status = 'queued'`, &st.Queued},
		{`SELECT COUNT(*) FROM chunks_fts`, &st.FTSRows},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return st, err
		}
	}
	return st, nil
}
