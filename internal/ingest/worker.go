package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/asyncx"
	"github.com/citeseek/citeseek/internal/store"
)

// RunStats summarizes one worker pass.
type RunStats struct {
	Revived   int64 `json:"revived"`
	Claimed   int64 `json:"claimed"`
	Processed int64 `json:"processed"`
	OK        int64 `json:"ok"`
	Exists    int64 `json:"exists"`
	Requeued  int64 `json:"requeued"`
	Errors    int64 `json:"errors"`
	Remaining int64 `json:"remaining"`
}

// Worker drains the durable ingest queue in batches: revive stale claims,
// claim a batch, ingest each URL with a bounded pool, and settle every row.
type Worker struct {
	Store    *store.Store
	Ingestor *Ingestor

	// BatchLimit caps rows claimed per run; 0 means 10.
	BatchLimit int
	// Concurrency bounds the processing pool; 0 means 4.
	Concurrency int
	// ReviveStaleSec revives processing rows older than this; 0 means 300.
	ReviveStaleSec int64
	// MaxAttempts before a row is marked error; 0 means 3.
	MaxAttempts int
	// DryRun revives and counts but claims nothing.
	DryRun bool
}

func (w *Worker) batchLimit() int {
	if w.BatchLimit > 0 {
		return w.BatchLimit
	}
	return 10
}

func (w *Worker) concurrency() int {
	if w.Concurrency > 0 {
		return w.Concurrency
	}
	return 4
}

func (w *Worker) reviveStaleSec() int64 {
	if w.ReviveStaleSec > 0 {
		return w.ReviveStaleSec
	}
	return 300
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return 3
}

// Run executes one worker pass and returns its stats.
func (w *Worker) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats

	revived, err := w.Store.ReviveStale(ctx, w.reviveStaleSec())
	if err != nil {
		return stats, fmt.Errorf("revive stale: %w", err)
	}
	stats.Revived = revived

	if !w.DryRun {
		items, err := w.Store.ClaimBatch(ctx, w.batchLimit())
		if err != nil {
			return stats, fmt.Errorf("claim batch: %w", err)
		}
		stats.Claimed = int64(len(items))

		var ok, exists, requeued, failed atomic.Int64
		_, err = asyncx.MapLimit(ctx, items, w.concurrency(), func(ctx context.Context, it store.QueueItem) (struct{}, error) {
			out := w.Ingestor.Ingest(ctx, it.URL, true, it.Priority)
			switch out.Status {
			case StatusOK:
				ok.Add(1)
				return struct{}{}, w.Store.MarkDone(ctx, it.ID)
			case StatusExists:
				exists.Add(1)
				return struct{}{}, w.Store.MarkDone(ctx, it.ID)
			default:
				if it.Attempts+1 < w.maxAttempts() {
					requeued.Add(1)
					return struct{}{}, w.Store.Requeue(ctx, it.ID, out.Message)
				}
				failed.Add(1)
				log.Warn().Str("url", it.URL).Int("attempts", it.Attempts+1).Str("error", out.Message).
					Msg("ingest queue item exhausted")
				return struct{}{}, w.Store.MarkError(ctx, it.ID, out.Message)
			}
		})
		if err != nil {
			return stats, fmt.Errorf("process batch: %w", err)
		}
		stats.OK = ok.Load()
		stats.Exists = exists.Load()
		stats.Requeued = requeued.Load()
		stats.Errors = failed.Load()
		stats.Processed = stats.OK + stats.Exists + stats.Requeued + stats.Errors
	}

	remaining, err := w.Store.QueueRemaining(ctx)
	if err != nil {
		return stats, fmt.Errorf("queue remaining: %w", err)
	}
	stats.Remaining = remaining
	return stats, nil
}
