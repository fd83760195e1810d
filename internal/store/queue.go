package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/citeseek/citeseek/internal/ids"
)

// Queue statuses.
const (
	QueueStatusQueued     = "queued"
	QueueStatusProcessing = "processing"
	QueueStatusDone       = "done"
	QueueStatusError      = "error"
)

// maxQueueErrorLen truncates stored error text so one failing URL cannot
// bloat the table.
const maxQueueErrorLen = 500

// QueueItem is one durable ingest request.
type QueueItem struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Priority  int    `json:"priority"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Enqueue adds a URL to the ingest queue. Duplicate queued/processing URLs
// are not re-added; inserted is false in that case.
func (s *Store) Enqueue(ctx context.Context, url string, priority int) (inserted bool, err error) {
	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM ingest_queue WHERE url = ? AND status IN ('queued','processing')`, url).
		Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_queue (id, url, priority, status, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, 'queued', 0, ?, ?)`,
		ids.New(), url, priority, ts, ts)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	return true, nil
}

// ReviveStale moves processing rows older than olderThanSec back to queued
// so crashed workers do not strand work. Returns the number revived.
func (s *Store) ReviveStale(ctx context.Context, olderThanSec int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_queue SET status = 'queued', updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`,
		now(), now()-olderThanSec)
	if err != nil {
		return 0, fmt.Errorf("revive stale: %w", err)
	}
	return res.RowsAffected()
}

// ClaimBatch atomically claims up to limit queued rows, marking them
// processing. Order: priority desc, attempts asc, created_at asc.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []QueueItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, url, priority, status, attempts, COALESCE(error, ''), created_at, updated_at
			FROM ingest_queue
			WHERE status = 'queued'
			ORDER BY priority DESC, attempts ASC, created_at ASC
			LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var it QueueItem
			if err := rows.Scan(&it.ID, &it.URL, &it.Priority, &it.Status, &it.Attempts, &it.Error, &it.CreatedAt, &it.UpdatedAt); err != nil {
				return err
			}
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range items {
			if _, err := tx.ExecContext(ctx,
				`UPDATE ingest_queue SET status = 'processing', updated_at = ? WHERE id = ?`,
				now(), items[i].ID); err != nil {
				return err
			}
			items[i].Status = QueueStatusProcessing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return items, nil
}

// MarkDone finalizes a queue item after a successful ingest.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_queue SET status = 'done', error = NULL, updated_at = ? WHERE id = ?`,
		now(), id)
	return err
}

// Requeue sends a failed item back for another attempt with the error kept
// (truncated) for observability.
func (s *Store) Requeue(ctx context.Context, id string, errText string) error {
	if len(errText) > maxQueueErrorLen {
		errText = errText[:maxQueueErrorLen]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_queue SET status = 'queued', attempts = attempts + 1, error = ?, updated_at = ? WHERE id = ?`,
		errText, now(), id)
	return err
}

// MarkError finalizes a queue item that exhausted its attempts.
func (s *Store) MarkError(ctx context.Context, id string, errText string) error {
	if len(errText) > maxQueueErrorLen {
		errText = errText[:maxQueueErrorLen]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_queue SET status = 'error', attempts = attempts + 1, error = ?, updated_at = ? WHERE id = ?`,
		errText, now(), id)
	return err
}

// QueueRemaining counts rows still queued.
func (s *Store) QueueRemaining(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_queue WHERE status = 'queued'`).Scan(&n)
	return n, err
}
