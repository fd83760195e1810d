// Package rank retrieves and orders chunk hits for a set of queries: BM25
// over the FTS index, optional cross-encoder rerank, score fusion across
// queries, and per-source diversification.
package rank

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/store"
)

// Options tune one ranking pass. Zero values get defaults.
type Options struct {
	// Cap bounds the final hit list; 0 means 24.
	Cap int
	// PerQueryTake bounds each query's candidate list; 0 means Cap.
	PerQueryTake int
	// PerSourceLimit caps hits per source during diversification; 0 means 3.
	PerSourceLimit int
	// Reranker, when set, reorders per-query candidates; failures fall back
	// to BM25 order.
	Reranker Reranker
	// RerankTimeout bounds one rerank call; 0 means 10s.
	RerankTimeout time.Duration
}

func (o Options) cap() int {
	if o.Cap > 0 {
		return o.Cap
	}
	return 24
}

func (o Options) perQueryTake() int {
	if o.PerQueryTake > 0 {
		return o.PerQueryTake
	}
	return o.cap()
}

func (o Options) perSourceLimit() int {
	if o.PerSourceLimit > 0 {
		return o.PerSourceLimit
	}
	return 3
}

// maxMatchTokens caps the FTS match expression length.
const maxMatchTokens = 12

// MatchExpr builds a tolerant FTS5 match expression: lowercase the query,
// keep letter/digit tokens, conjoin up to maxMatchTokens as quoted terms.
// A query with no usable tokens is quoted whole.
func MatchExpr(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	if len(tokens) == 0 {
		return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	}
	if len(tokens) > maxMatchTokens {
		tokens = tokens[:maxMatchTokens]
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " AND ")
}

// Ranker runs retrieval against the store.
type Ranker struct {
	Store *store.Store
}

// RankForQueries retrieves candidates per query, optionally reranks them,
// merges by max score per chunk, and diversifies by source. An empty FTS
// index triggers a backfill retry, then the LIKE fallback.
func (r *Ranker) RankForQueries(ctx context.Context, queries []string, opts Options) ([]store.ChunkHit, error) {
	merged, err := r.collect(ctx, queries, opts)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		added, err := r.Store.BackfillFTS(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("fts backfill failed")
		}
		if added > 0 {
			if merged, err = r.collect(ctx, queries, opts); err != nil {
				return nil, err
			}
		}
	}
	if len(merged) == 0 {
		likeHits, err := r.likeFallback(ctx, queries, opts)
		if err != nil {
			return nil, err
		}
		merged = likeHits
	}
	return diversify(merged, opts.cap(), opts.perSourceLimit()), nil
}

func (r *Ranker) collect(ctx context.Context, queries []string, opts Options) ([]store.ChunkHit, error) {
	best := make(map[string]store.ChunkHit)
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		hits, err := r.Store.FTSSearch(ctx, MatchExpr(q), opts.perQueryTake())
		if err != nil {
			return nil, err
		}
		hits = r.maybeRerank(ctx, q, hits, opts)
		for _, h := range hits {
			if prev, ok := best[h.ChunkID]; !ok || h.Score > prev.Score {
				best[h.ChunkID] = h
			}
		}
	}
	out := make([]store.ChunkHit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sortHits(out)
	return out, nil
}

func (r *Ranker) maybeRerank(ctx context.Context, query string, hits []store.ChunkHit, opts Options) []store.ChunkHit {
	if opts.Reranker == nil || len(hits) < 2 {
		return hits
	}
	timeout := opts.RerankTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Text
	}
	scores, err := opts.Reranker.Rerank(rctx, query, docs)
	if err != nil || len(scores) != len(hits) {
		log.Warn().Err(err).Str("query", query).Msg("rerank failed, keeping bm25 order")
		return hits
	}
	out := make([]store.ChunkHit, len(hits))
	copy(out, hits)
	for i := range out {
		out[i].Score = clamp01(scores[i])
	}
	sortHits(out)
	return out
}

// likeFallback retrieves via LIKE when FTS has nothing: stopword-filtered
// tokens of length >= 3, at most 8 of them.
func (r *Ranker) likeFallback(ctx context.Context, queries []string, opts Options) ([]store.ChunkHit, error) {
	terms := likeTerms(queries)
	if len(terms) == 0 {
		return nil, nil
	}
	return r.Store.LikeSearch(ctx, terms, opts.cap())
}

func likeTerms(queries []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, q := range queries {
		var b strings.Builder
		for _, r := range strings.ToLower(q) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			} else {
				b.WriteByte(' ')
			}
		}
		for _, tok := range strings.Fields(b.String()) {
			if len(tok) < 3 || isStopword(tok) {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
			if len(out) >= 8 {
				return out
			}
		}
	}
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "with": {}, "this": {}, "that": {}, "from": {},
	"how": {}, "why": {}, "who": {}, "does": {}, "did": {}, "has": {},
	"have": {}, "his": {}, "her": {}, "its": {}, "their": {}, "about": {},
}

func isStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// diversify walks hits in score order capping each source at perSource, then
// backfills from the remainder until cap is reached.
func diversify(hits []store.ChunkHit, cap, perSource int) []store.ChunkHit {
	if len(hits) == 0 {
		return nil
	}
	perSourceCount := make(map[string]int)
	chosen := make([]store.ChunkHit, 0, cap)
	var rest []store.ChunkHit
	for _, h := range hits {
		if len(chosen) >= cap {
			break
		}
		if perSourceCount[h.SourceID] < perSource {
			perSourceCount[h.SourceID]++
			chosen = append(chosen, h)
		} else {
			rest = append(rest, h)
		}
	}
	for _, h := range rest {
		if len(chosen) >= cap {
			break
		}
		chosen = append(chosen, h)
	}
	return chosen
}

func sortHits(hits []store.ChunkHit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
