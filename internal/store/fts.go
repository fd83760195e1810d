package store

import (
	"context"
	"fmt"
	"strings"
)

// ChunkHit is one full-text search result. Score is already normalized to
// (0,1] from the raw bm25 value; BM25 keeps the raw value for debugging.
type ChunkHit struct {
	ChunkID  string  `json:"id"`
	SourceID string  `json:"sourceId"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	BM25     float64 `json:"bm25,omitempty"`
	Snippet  string  `json:"snippet,omitempty"`
}

// FTSSearch runs an FTS5 MATCH query over chunk text and returns hits in
// bm25 order (best first). The match expression must already be escaped; see
// rank.MatchExpr.
func (s *Store) FTSSearch(ctx context.Context, match string, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.source_id, c.text, bm25(chunks_fts),
			snippet(chunks_fts, 0, '', '', '…', 12)
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()
	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.SourceID, &h.Text, &h.BM25, &h.Snippet); err != nil {
			return nil, err
		}
		// SQLite bm25 is lower-is-better and non-negative in practice;
		// 1/(1+bm25) compresses it into (0,1]. Zero or negative raw values
		// fall back to a neutral 0.5.
		if h.BM25 > 0 {
			h.Score = 1.0 / (1.0 + h.BM25)
		} else {
			h.Score = 0.5
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FTSCount returns the number of rows in the FTS mirror. chunks_fts is an
// external-content table, so scanning it would read the chunks table itself;
// the docsize shadow table holds one row per indexed document.
func (s *Store) FTSCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts_docsize`).Scan(&n)
	return n, err
}

// RebuildFTS rebuilds the whole FTS index from the chunks table. Needed
// after restoring a database created without the triggers.
func (s *Store) RebuildFTS(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES ('rebuild')`)
	if err != nil {
		return fmt.Errorf("fts rebuild: %w", err)
	}
	return nil
}

// BackfillFTS inserts any chunks missing from the FTS mirror and returns the
// number of rows added. Cheaper than a full rebuild when only a few rows
// were written outside the triggers. Missing rows are detected through the
// docsize shadow table; a plain SELECT on chunks_fts would echo the content
// table and report nothing missing.
func (s *Store) BackfillFTS(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks_fts(rowid, text)
		SELECT c.rowid, c.text FROM chunks c
		WHERE c.rowid NOT IN (SELECT id FROM chunks_fts_docsize)`)
	if err != nil {
		return 0, fmt.Errorf("fts backfill: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LikeSearch is the last-resort retrieval path when the FTS index is
// unusable: a LIKE scan over recent chunks using pre-tokenized terms.
// Results are ordered by chunk token count, largest first.
func (s *Store) LikeSearch(ctx context.Context, terms []string, limit int) ([]ChunkHit, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	var conds []string
	var args []any
	for _, t := range terms {
		conds = append(conds, `c.text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(t)+"%")
	}
	args = append(args, limit)
	q := fmt.Sprintf(`
		SELECT c.id, c.source_id, c.text
		FROM chunks c
		WHERE %s
		ORDER BY c.tokens DESC, c.created_at DESC
		LIMIT ?`, strings.Join(conds, " OR "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	defer rows.Close()
	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.SourceID, &h.Text); err != nil {
			return nil, err
		}
		h.Score = 0.3 // flat score: LIKE has no ranking signal
		out = append(out, h)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
