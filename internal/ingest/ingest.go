package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/asyncx"
	"github.com/citeseek/citeseek/internal/reader"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/textkit"
	"github.com/citeseek/citeseek/internal/urlnorm"
)

// Per-URL ingest outcomes.
const (
	StatusOK     = "ok"
	StatusExists = "exists"
	StatusQueued = "queued"
	StatusError  = "error"
)

// Outcome reports what happened to one URL.
type Outcome struct {
	URL      string `json:"url"`
	Status   string `json:"status"`
	SourceID string `json:"sourceId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PageReader abstracts the reader service so tests can stub fetching.
type PageReader interface {
	Read(ctx context.Context, url string) (*reader.Result, error)
}

// Ingestor turns URLs into stored, chunked sources. Immediate ingests fetch
// and persist inline; queued ones land in the durable queue for the worker.
type Ingestor struct {
	Store  *store.Store
	Reader PageReader
	// Concurrency bounds IngestAll's pool; 0 means 4.
	Concurrency int
	// WindowTokens overrides the chunk window target; 0 uses the
	// textkit default.
	WindowTokens int
}

func (g *Ingestor) concurrency() int {
	if g.Concurrency > 0 {
		return g.Concurrency
	}
	return 4
}

// Ingest processes one URL. It never returns a Go error for per-URL
// failures; those surface as StatusError outcomes so a batch can continue.
func (g *Ingestor) Ingest(ctx context.Context, rawURL string, immediate bool, priority int) Outcome {
	canon, err := urlnorm.Canonicalize(rawURL)
	if err != nil {
		return Outcome{URL: rawURL, Status: StatusError, Message: err.Error()}
	}
	existing, err := g.Store.GetSourceByURL(ctx, canon)
	if err != nil {
		return Outcome{URL: canon, Status: StatusError, Message: err.Error()}
	}
	if existing != nil {
		return Outcome{URL: canon, Status: StatusExists, SourceID: existing.ID}
	}

	if !immediate {
		if _, err := g.Store.Enqueue(ctx, canon, priority); err != nil {
			return Outcome{URL: canon, Status: StatusError, Message: err.Error()}
		}
		return Outcome{URL: canon, Status: StatusQueued}
	}

	res, err := g.Reader.Read(ctx, canon)
	if err != nil {
		if errors.Is(err, reader.ErrBinaryContent) {
			return Outcome{URL: canon, Status: StatusError, Message: "binary content"}
		}
		return Outcome{URL: canon, Status: StatusError, Message: err.Error()}
	}
	text := textkit.Sanitize(res.Text, textkit.SanitizeOptions{})
	if text == "" {
		return Outcome{URL: canon, Status: StatusError, Message: "no readable text"}
	}

	windows := textkit.SplitIntoWindows(text, textkit.WindowOptions{TargetTokens: g.WindowTokens})
	chunks := make([]store.Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, store.Chunk{
			Pos:       i,
			CharStart: w.CharStart,
			CharEnd:   w.CharEnd,
			Text:      w.Text,
			Tokens:    w.ApproxTokens,
		})
	}
	src := store.Source{
		URL:         canon,
		Domain:      urlnorm.Domain(canon),
		Title:       res.Title,
		Lang:        res.Lang,
		Status:      "ok",
		HTTPStatus:  res.HTTPStatus,
		Fingerprint: store.Fingerprint(text),
	}
	id, existed, err := g.Store.UpsertSource(ctx, src, text, res.HTML, chunks)
	if err != nil {
		return Outcome{URL: canon, Status: StatusError, Message: fmt.Sprintf("persist: %v", err)}
	}
	if existed {
		return Outcome{URL: canon, Status: StatusExists, SourceID: id}
	}
	log.Debug().Str("url", canon).Str("source", id).Int("chunks", len(chunks)).Msg("ingested")
	return Outcome{URL: canon, Status: StatusOK, SourceID: id}
}

// IngestAll runs Ingest over urls with a bounded pool, preserving input
// order in the outcomes.
func (g *Ingestor) IngestAll(ctx context.Context, urls []string, immediate bool, priority int) []Outcome {
	out, err := asyncx.MapLimit(ctx, urls, g.concurrency(), func(ctx context.Context, u string) (Outcome, error) {
		return g.Ingest(ctx, u, immediate, priority), nil
	})
	if err != nil {
		// Only context cancellation can get here; report what we have.
		res := make([]Outcome, len(urls))
		for i, u := range urls {
			res[i] = Outcome{URL: u, Status: StatusError, Message: err.Error()}
		}
		return res
	}
	return out
}
