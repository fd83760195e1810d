// Package pipeline drives a research run through its stages: plan the
// subqueries, search the web, read and ingest pages, rank chunks, stream a
// cited answer, and verify its claims. One context cancels everything; one
// emit sink carries events out.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/asyncx"
	"github.com/citeseek/citeseek/internal/budget"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/llm"
	"github.com/citeseek/citeseek/internal/prompts"
	"github.com/citeseek/citeseek/internal/rank"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/textkit"
	"github.com/citeseek/citeseek/internal/verify"
)

// noSourcesMessage is persisted as the assistant reply when nothing usable
// was found. Tests and clients match on its prefix.
const noSourcesMessage = "I could not find suitable sources for this question. Try rephrasing it, broadening the time range, or removing domain restrictions."

// Settings carry the tunables of a run. Zero values get the documented
// defaults.
type Settings struct {
	MaxSourcesInline       int  // 12
	SearchConcurrency      int  // 3
	SearchSize             int  // per-subquery result size; 8
	ReadConcurrency        int  // 3
	RankCap                int  // 24
	PerSourceLimit         int  // 3
	AnswerInputBudget      int  // 3200
	AnswerPromptOverhead   int  // 800
	AnswerMaxCharsPerChunk int  // 900
	VerifyInputBudget      int  // 1500
	VerifyPromptOverhead   int  // 500
	VerifyMaxCharsPerChunk int  // 400
	VerifyHardCeiling      int  // 5000
	SkipVerifyOnTPM        bool // set by config; default true there
	NLICheck               bool
	Reranker               rank.Reranker
}

func (s Settings) maxInline() int        { return orDefault(s.MaxSourcesInline, 12) }
func (s Settings) searchConc() int       { return orDefault(s.SearchConcurrency, 3) }
func (s Settings) searchSize() int       { return orDefault(s.SearchSize, 8) }
func (s Settings) readConc() int         { return orDefault(s.ReadConcurrency, 3) }
func (s Settings) rankCap() int          { return orDefault(s.RankCap, 24) }
func (s Settings) perSource() int        { return orDefault(s.PerSourceLimit, 3) }
func (s Settings) answerBudget() int     { return orDefault(s.AnswerInputBudget, 3200) }
func (s Settings) answerOverhead() int   { return orDefault(s.AnswerPromptOverhead, 800) }
func (s Settings) answerChunkChars() int { return orDefault(s.AnswerMaxCharsPerChunk, 900) }
func (s Settings) verifyBudget() int     { return orDefault(s.VerifyInputBudget, 1500) }
func (s Settings) verifyOverhead() int   { return orDefault(s.VerifyPromptOverhead, 500) }
func (s Settings) verifyChunkChars() int { return orDefault(s.VerifyMaxCharsPerChunk, 400) }
func (s Settings) verifyCeiling() int    { return orDefault(s.VerifyHardCeiling, 5000) }

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Request is one research question with its constraints.
type Request struct {
	Question          string
	Depth             string // quick, normal, deep
	TimeFrom          string
	TimeTo            string
	Region            string
	AllowedDomains    []string
	DisallowedDomains []string
	VisitorID         string
}

// Searcher abstracts the search adapter for tests.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Orchestrator wires the stages together. All fields are required except
// Settings.
type Orchestrator struct {
	Store    *store.Store
	Search   Searcher
	Ingestor *ingest.Ingestor
	Ranker   *rank.Ranker
	Gateway  *llm.Gateway
	Verifier *verify.Verifier
	Settings Settings
}

// Run executes the pipeline, emitting events until exactly one done or
// error event has been sent. Context cancellation stops the run silently:
// no further events, no partial claim writes. The returned error is for
// logging; it has already been reported to the client where appropriate.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emit) error {
	r := &run{o: o, emit: emit, req: req}
	err := r.execute(ctx)
	if err != nil && ctx.Err() == nil && !r.terminal {
		_ = emit(EventError, ErrorPayload{Message: err.Error()})
	}
	return err
}

// run holds one execution's state.
type run struct {
	o        *Orchestrator
	emit     Emit
	req      Request
	threadID string
	// terminal records that done or error was already emitted.
	terminal bool
}

func (r *run) progress(stage, message string, meta map[string]any) error {
	return r.emit(EventProgress, Progress{Stage: stage, Message: message, Meta: meta})
}

func (r *run) finish() error {
	r.terminal = true
	return r.emit(EventDone, DonePayload{ThreadID: r.threadID})
}

func (r *run) execute(ctx context.Context) error {
	o := r.o

	thread, err := o.Store.CreateThread(ctx, r.req.Question, r.req.VisitorID)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	r.threadID = thread.ID
	if _, err := o.Store.AddMessage(ctx, thread.ID, "user", r.req.Question); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	subqueries, err := r.plan(ctx)
	if err != nil {
		return err
	}
	urls, err := r.search(ctx, subqueries)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return r.emptyOutcome(ctx)
	}

	sourceIDs, err := r.read(ctx, urls)
	if err != nil {
		return err
	}
	if len(sourceIDs) == 0 {
		return r.emptyOutcome(ctx)
	}
	items, err := r.sources(ctx, sourceIDs)
	if err != nil {
		return err
	}
	hits, err := r.rank(ctx, subqueries, items)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return r.noEvidence(ctx)
	}

	answerText, snippets, tpmHit, err := r.answer(ctx, items, hits)
	if err != nil {
		return err
	}
	msg, err := o.Store.AddMessage(ctx, r.threadID, "assistant", answerText)
	if err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	r.persistCitations(ctx, msg.ID, snippets, hits)

	if err := r.verify(ctx, msg.ID, answerText, snippets, tpmHit); err != nil {
		return err
	}
	return r.finish()
}

// emptyOutcome handles the nothing-found paths: empty sources list, canned
// assistant message, empty claims, done.
func (r *run) emptyOutcome(ctx context.Context) error {
	if err := r.emit(EventSources, []SourceItem{}); err != nil {
		return err
	}
	return r.noEvidence(ctx)
}

// noEvidence ends a run that produced sources but no usable snippets. The
// sources event has already been sent.
func (r *run) noEvidence(ctx context.Context) error {
	if _, err := r.o.Store.AddMessage(ctx, r.threadID, "assistant", noSourcesMessage); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	if err := r.emit(EventClaims, ClaimsPayload{Claims: []verify.Claim{}}); err != nil {
		return err
	}
	return r.finish()
}

// planReply is the JSON shape the plan model call must return.
type planReply struct {
	Intent      string   `json:"intent"`
	Subqueries  []string `json:"subqueries"`
	Focus       []string `json:"focus"`
	Constraints struct {
		TimeRange string `json:"timeRange"`
		Region    string `json:"region"`
	} `json:"constraints"`
}

func depthCap(depth string) int {
	switch depth {
	case "deep":
		return 6
	case "quick":
		return 3
	default:
		return 4
	}
}

func (r *run) plan(ctx context.Context) ([]string, error) {
	if err := r.progress(StagePlan, "Planning subqueries", nil); err != nil {
		return nil, err
	}
	p := prompts.Plan(r.req.Question, r.req.Depth, prompts.PlanConstraints{
		TimeFrom: r.req.TimeFrom, TimeTo: r.req.TimeTo, Region: r.req.Region,
		Allowed: r.req.AllowedDomains, Denied: r.req.DisallowedDomains,
	})
	subqueries := []string{r.req.Question}
	raw, err := r.o.Gateway.Generate(ctx, llm.Request{Alias: llm.AliasPlan, System: p.System, Prompt: p.User})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("plan call failed, using naive plan")
		if perr := r.progress(StagePlan, "Plan unavailable, searching the question directly", nil); perr != nil {
			return nil, perr
		}
		return subqueries, nil
	}
	var reply planReply
	if err := verify.DecodeLoose(raw, &reply); err != nil || len(reply.Subqueries) == 0 {
		log.Warn().Err(err).Msg("plan reply unparsable, using naive plan")
		if perr := r.progress(StagePlan, "Plan unavailable, searching the question directly", nil); perr != nil {
			return nil, perr
		}
		return subqueries, nil
	}
	subqueries = subqueries[:0]
	for _, q := range reply.Subqueries {
		if q = strings.TrimSpace(q); q != "" {
			subqueries = append(subqueries, q)
		}
	}
	if limit := depthCap(r.req.Depth); len(subqueries) > limit {
		subqueries = subqueries[:limit]
	}
	if len(subqueries) == 0 {
		subqueries = []string{r.req.Question}
	}
	return subqueries, nil
}

func (r *run) search(ctx context.Context, subqueries []string) ([]string, error) {
	opts := search.Options{
		Size:     r.o.Settings.searchSize(),
		TimeFrom: r.req.TimeFrom,
		TimeTo:   r.req.TimeTo,
		Region:   r.req.Region,
		Allowed:  r.req.AllowedDomains,
		Denied:   r.req.DisallowedDomains,
	}
	perQuery, err := asyncx.MapLimit(ctx, subqueries, r.o.Settings.searchConc(),
		func(ctx context.Context, q string) ([]search.Result, error) {
			results, err := r.o.Search.Search(ctx, q, opts)
			if err != nil {
				// A dead subquery degrades the run, it does not end it.
				log.Warn().Err(err).Str("query", q).Msg("subquery search failed")
				return nil, nil
			}
			if b, jerr := json.Marshal(results); jerr == nil {
				if serr := r.o.Store.LogSearchEvent(ctx, r.threadID, q, string(b)); serr != nil {
					log.Warn().Err(serr).Msg("search audit write failed")
				}
			}
			return results, nil
		})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var urls []string
	for _, results := range perQuery {
		for _, res := range results {
			if _, dup := seen[res.URL]; dup {
				continue
			}
			seen[res.URL] = struct{}{}
			urls = append(urls, res.URL)
		}
	}
	if err := r.progress(StageSearch, fmt.Sprintf("Found %d unique URLs", len(urls)), nil); err != nil {
		return nil, err
	}
	return urls, nil
}

func (r *run) read(ctx context.Context, urls []string) ([]string, error) {
	n := r.o.Settings.maxInline()
	if len(urls) < n {
		n = len(urls)
	}
	urls = urls[:n]

	var done atomic.Int64
	outcomes, err := asyncx.MapLimit(ctx, urls, r.o.Settings.readConc(),
		func(ctx context.Context, u string) (ingest.Outcome, error) {
			out := r.o.Ingestor.Ingest(ctx, u, true, 0)
			i := done.Add(1)
			if i%2 == 0 || i == int64(len(urls)) {
				if perr := r.progress(StageRead, fmt.Sprintf("Read %d/%d", i, len(urls)), nil); perr != nil {
					return out, perr
				}
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}

	var sourceIDs []string
	for _, out := range outcomes {
		if out.Status == ingest.StatusOK || out.Status == ingest.StatusExists {
			sourceIDs = append(sourceIDs, out.SourceID)
		}
	}
	return sourceIDs, nil
}

// sources builds the numbered source list in read order and emits it.
// Emitted exactly once per run, before any token.
func (r *run) sources(ctx context.Context, sourceIDs []string) ([]SourceItem, error) {
	items := make([]SourceItem, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		src, err := r.o.Store.GetSource(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load source %s: %w", id, err)
		}
		if src == nil {
			continue
		}
		items = append(items, SourceItem{
			ID: src.ID, URL: src.URL, Title: src.Title, Domain: src.Domain, Index: len(items) + 1,
		})
	}
	if err := r.emit(EventSources, items); err != nil {
		return nil, err
	}
	return items, nil
}

// rank retrieves and orders the snippet candidates across the question and
// its subqueries. Hits from sources outside this run's list are dropped so
// every snippet maps to a numbered source.
func (r *run) rank(ctx context.Context, subqueries []string, items []SourceItem) ([]store.ChunkHit, error) {
	queries := append([]string{r.req.Question}, subqueries...)
	hits, err := r.o.Ranker.RankForQueries(ctx, queries, rank.Options{
		Cap:            r.o.Settings.rankCap(),
		PerSourceLimit: r.o.Settings.perSource(),
		Reranker:       r.o.Settings.Reranker,
	})
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}
	inRun := make(map[string]struct{}, len(items))
	for _, it := range items {
		inRun[it.ID] = struct{}{}
	}
	kept := hits[:0]
	for _, h := range hits {
		if _, ok := inRun[h.SourceID]; ok {
			kept = append(kept, h)
		}
	}
	hits = kept
	if err := r.progress(StageRank, fmt.Sprintf("Selected %d snippets", len(hits)), nil); err != nil {
		return nil, err
	}
	return hits, nil
}

// buildSnippets shrinks hit texts and trims the list to the token budget.
func buildSnippets(hits []store.ChunkHit, items []SourceItem, maxChars, budgetTokens, overhead int) []prompts.Snippet {
	indexBySource := make(map[string]int, len(items))
	for _, it := range items {
		indexBySource[it.ID] = it.Index
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = budget.ShrinkText(h.Text, maxChars)
	}
	n := budget.TrimCount(texts, budgetTokens, overhead)
	snippets := make([]prompts.Snippet, 0, n)
	for i := 0; i < n; i++ {
		snippets = append(snippets, prompts.Snippet{
			SourceID:    hits[i].SourceID,
			ChunkID:     hits[i].ChunkID,
			SourceIndex: indexBySource[hits[i].SourceID],
			Text:        texts[i],
		})
	}
	return snippets
}

func (r *run) answer(ctx context.Context, items []SourceItem, hits []store.ChunkHit) (string, []prompts.Snippet, bool, error) {
	s := r.o.Settings
	if err := r.progress(StageAnswer, "Writing answer", nil); err != nil {
		return "", nil, false, err
	}

	stream := func(budgetTokens int) (string, []prompts.Snippet, error) {
		snippets := buildSnippets(hits, items, s.answerChunkChars(), budgetTokens, s.answerOverhead())
		refs := usedRefs(items, snippets)
		p := prompts.Answer(r.req.Question, refs, snippets)
		text, err := r.o.Gateway.Stream(ctx, llm.Request{
			Alias: llm.AliasAnswer, System: p.System, Prompt: p.User,
		}, func(delta string) error {
			return r.emit(EventToken, delta)
		})
		return text, snippets, err
	}

	text, snippets, err := stream(s.answerBudget())
	tpmHit := false
	if err != nil && llm.IsTokenBudget(err) {
		tpmHit = true
		if perr := r.progress(StageAnswer, "Context too large; retrying with smaller context", nil); perr != nil {
			return "", nil, tpmHit, perr
		}
		text, snippets, err = stream(s.answerBudget() / 2)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, tpmHit, ctx.Err()
		}
		return "", nil, tpmHit, fmt.Errorf("answer stream: %w", err)
	}
	if err := r.emit(EventAnswer, AnswerPayload{Text: text}); err != nil {
		return "", nil, tpmHit, err
	}
	return text, snippets, tpmHit, nil
}

// usedRefs keeps only the sources that appear in the trimmed snippet list.
func usedRefs(items []SourceItem, snippets []prompts.Snippet) []prompts.SourceRef {
	used := make(map[string]struct{}, len(snippets))
	for _, sn := range snippets {
		used[sn.SourceID] = struct{}{}
	}
	refs := make([]prompts.SourceRef, 0, len(used))
	for _, it := range items {
		if _, ok := used[it.ID]; !ok {
			continue
		}
		refs = append(refs, prompts.SourceRef{
			Index: it.Index, ID: it.ID, URL: it.URL, Title: it.Title, Domain: it.Domain,
		})
	}
	return refs
}

// persistCitations records which snippets backed the answer. Best-effort:
// a failure here degrades observability, not the run.
func (r *run) persistCitations(ctx context.Context, messageID string, snippets []prompts.Snippet, hits []store.ChunkHit) {
	scoreByChunk := make(map[string]float64, len(hits))
	for _, h := range hits {
		scoreByChunk[h.ChunkID] = h.Score
	}
	cits := make([]store.Citation, 0, len(snippets))
	for _, sn := range snippets {
		score := scoreByChunk[sn.ChunkID]
		cits = append(cits, store.Citation{
			MessageID: messageID,
			SourceID:  sn.SourceID,
			ChunkID:   sn.ChunkID,
			Quote:     budget.ShrinkText(sn.Text, 300),
			RankScore: &score,
		})
	}
	if err := r.o.Store.InsertCitations(ctx, cits); err != nil {
		log.Warn().Err(err).Msg("citation write failed")
	}
}

func (r *run) verify(ctx context.Context, messageID, answerText string, snippets []prompts.Snippet, tpmHit bool) error {
	s := r.o.Settings
	if err := r.progress(StageVerify, "Verifying claims", nil); err != nil {
		return err
	}
	emitEmpty := func() error {
		return r.emit(EventClaims, ClaimsPayload{Claims: []verify.Claim{}})
	}
	if tpmHit && s.SkipVerifyOnTPM {
		log.Info().Msg("verify skipped after token budget recovery")
		return emitEmpty()
	}

	// Re-trim the answer context more aggressively for the verify call.
	vsnips := make([]verify.Snippet, 0, len(snippets))
	total := textkit.EstimateTokens(answerText) + s.verifyOverhead()
	budgetTokens := s.verifyBudget()
	for _, sn := range snippets {
		text := budget.ShrinkText(sn.Text, s.verifyChunkChars())
		cost := textkit.EstimateTokens(text)
		if len(vsnips) > 0 && total+cost > budgetTokens {
			break
		}
		total += cost
		vsnips = append(vsnips, verify.Snippet{SourceID: sn.SourceID, ChunkID: sn.ChunkID, Text: text})
	}
	if total > s.verifyCeiling() {
		log.Info().Int("tokens", total).Msg("verify skipped, prompt over hard ceiling")
		return emitEmpty()
	}

	claims, err := r.o.Verifier.Verify(ctx, answerText, vsnips, verify.Options{NLICheck: s.NLICheck})
	if err != nil {
		return err
	}
	if len(claims) > 0 {
		// The answer already streamed; a persistence failure must not turn
		// the run into an error, the client still gets claims and done.
		if err := r.o.Store.SaveClaims(ctx, messageID, toStoreClaims(claims)); err != nil {
			log.Warn().Err(err).Msg("persisting claims failed")
		}
	}
	if claims == nil {
		claims = []verify.Claim{}
	}
	return r.emit(EventClaims, ClaimsPayload{Claims: claims})
}

func toStoreClaims(claims []verify.Claim) []store.Claim {
	out := make([]store.Claim, 0, len(claims))
	for _, c := range claims {
		sc := store.Claim{
			Text:              c.Text,
			ClaimType:         c.ClaimType,
			SupportScore:      c.SupportScore,
			Contradicted:      c.Contradicted,
			UncertaintyReason: c.UncertaintyReason,
		}
		for _, e := range c.Evidence {
			sc.Evidence = append(sc.Evidence, store.Evidence{
				SourceID:  e.SourceID,
				ChunkID:   e.ChunkID,
				Quote:     e.Quote,
				CharStart: e.CharStart,
				CharEnd:   e.CharEnd,
				Score:     e.Score,
			})
		}
		out = append(out, sc)
	}
	return out
}
