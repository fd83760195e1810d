package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/budget"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/pipeline"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/sse"
	"github.com/citeseek/citeseek/internal/verify"
)

type timeRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type researchRequest struct {
	Question          string     `json:"question"`
	Depth             string     `json:"depth,omitempty"`
	TimeRange         *timeRange `json:"timeRange,omitempty"`
	Region            string     `json:"region,omitempty"`
	AllowedDomains    []string   `json:"allowedDomains,omitempty"`
	DisallowedDomains []string   `json:"disallowedDomains,omitempty"`
	VisitorID         string     `json:"visitorId,omitempty"`
}

// handleResearch runs the full pipeline over an SSE stream. The client
// closing the connection cancels the run.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(strings.TrimSpace(req.Question)) < 8 {
		writeError(w, http.StatusBadRequest, "question must be at least 8 characters")
		return
	}
	switch req.Depth {
	case "", "quick", "normal", "deep":
	default:
		writeError(w, http.StatusBadRequest, "depth must be quick, normal, or deep")
		return
	}

	sw, err := sse.NewWriter(w, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer sw.Close("")

	emit := func(event string, data any) error {
		if event == pipeline.EventToken {
			return sw.Send(data.(string), sse.SendOptions{Event: event, Raw: true})
		}
		return sw.Send(data, sse.SendOptions{Event: event})
	}

	preq := pipeline.Request{
		Question:          strings.TrimSpace(req.Question),
		Depth:             req.Depth,
		Region:            req.Region,
		AllowedDomains:    req.AllowedDomains,
		DisallowedDomains: req.DisallowedDomains,
		VisitorID:         req.VisitorID,
	}
	if req.TimeRange != nil {
		preq.TimeFrom = req.TimeRange.From
		preq.TimeTo = req.TimeRange.To
	}
	if err := s.Orchestrator.Run(r.Context(), preq, emit); err != nil && r.Context().Err() == nil {
		log.Error().Err(err).Msg("research run failed")
	}
}

type searchRequest struct {
	Query             string     `json:"query"`
	Size              int        `json:"size,omitempty"`
	TimeRange         *timeRange `json:"timeRange,omitempty"`
	Region            string     `json:"region,omitempty"`
	AllowedDomains    []string   `json:"allowedDomains,omitempty"`
	DisallowedDomains []string   `json:"disallowedDomains,omitempty"`
	ThreadID          string     `json:"threadId,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(strings.TrimSpace(req.Query)) < 2 {
		writeError(w, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}
	if req.Size < 0 || req.Size > 50 {
		writeError(w, http.StatusBadRequest, "size out of range [0,50]")
		return
	}

	opts := search.Options{
		Size:    req.Size,
		Region:  req.Region,
		Allowed: req.AllowedDomains,
		Denied:  req.DisallowedDomains,
	}
	if req.TimeRange != nil {
		opts.TimeFrom = req.TimeRange.From
		opts.TimeTo = req.TimeRange.To
	}
	results, err := s.Search.Search(ctx, req.Query, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, "search failed")
		log.Error().Err(err).Str("query", req.Query).Msg("search error")
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	if b, jerr := json.Marshal(results); jerr == nil {
		if serr := s.Store.LogSearchEvent(ctx, req.ThreadID, req.Query, string(b)); serr != nil {
			log.Warn().Err(serr).Msg("search audit write failed")
		}
	}
	writeJSON(w, http.StatusOK, results)
}

type ingestRequest struct {
	URLs      []string `json:"urls"`
	Immediate *bool    `json:"immediate,omitempty"`
	Priority  int      `json:"priority,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) < 1 || len(req.URLs) > 32 {
		writeError(w, http.StatusBadRequest, "urls must contain 1 to 32 entries")
		return
	}
	if req.Priority < -10 || req.Priority > 10 {
		writeError(w, http.StatusBadRequest, "priority out of range [-10,10]")
		return
	}
	immediate := true
	if req.Immediate != nil {
		immediate = *req.Immediate
	}

	outcomes := s.Ingestor.IngestAll(ctx, req.URLs, immediate, req.Priority)
	var sourceIDs []string
	seen := make(map[string]struct{})
	for _, out := range outcomes {
		if out.SourceID == "" {
			continue
		}
		if _, dup := seen[out.SourceID]; dup {
			continue
		}
		seen[out.SourceID] = struct{}{}
		sourceIDs = append(sourceIDs, out.SourceID)
	}
	if sourceIDs == nil {
		sourceIDs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   outcomes,
		"sourceIds": sourceIDs,
	})
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	id := r.PathValue("id")
	src, err := s.Store.GetSource(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "source lookup failed")
		log.Error().Err(err).Str("source", id).Msg("source lookup")
		return
	}
	if src == nil {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	include := map[string]bool{}
	for _, part := range strings.Split(r.URL.Query().Get("include"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			include[part] = true
		}
	}
	chunkLimit, err := intParam(r, "chunkLimit", 5, 1, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snippetChars, err := intParam(r, "snippetChars", 600, 100, 8000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fullContent := r.URL.Query().Get("fullContent") == "1"

	resp := map[string]any{"source": src}
	if include["content"] {
		text, _, err := s.Store.GetContent(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "content lookup failed")
			return
		}
		if fullContent {
			resp["content"] = text
		} else {
			resp["content"] = budget.ShrinkText(text, snippetChars)
		}
	}
	if include["chunks"] {
		chunks, err := s.Store.GetChunks(ctx, id, chunkLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "chunk lookup failed")
			return
		}
		previews := make([]map[string]any, 0, len(chunks))
		for _, c := range chunks {
			previews = append(previews, map[string]any{
				"id":        c.ID,
				"pos":       c.Pos,
				"charStart": c.CharStart,
				"charEnd":   c.CharEnd,
				"tokens":    c.Tokens,
				"text":      budget.ShrinkText(c.Text, snippetChars),
			})
		}
		resp["chunks"] = previews
	}
	writeJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	AnswerMarkdown        string          `json:"answerMarkdown"`
	Snippets              []verifySnippet `json:"snippets"`
	MaxClaims             int             `json:"maxClaims,omitempty"`
	BindOffsets           *bool           `json:"bindOffsets,omitempty"`
	NLIContradictionCheck bool            `json:"nliContradictionCheck,omitempty"`
}

type verifySnippet struct {
	SourceID string `json:"sourceId"`
	ChunkID  string `json:"chunkId,omitempty"`
	Text     string `json:"text"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.AnswerMarkdown) == "" {
		writeError(w, http.StatusBadRequest, "answerMarkdown is required")
		return
	}
	if len(req.Snippets) == 0 {
		writeError(w, http.StatusBadRequest, "snippets must not be empty")
		return
	}
	if req.MaxClaims < 0 || req.MaxClaims > 32 {
		writeError(w, http.StatusBadRequest, "maxClaims out of range [0,32]")
		return
	}
	snippets := make([]verify.Snippet, 0, len(req.Snippets))
	for i, sn := range req.Snippets {
		if strings.TrimSpace(sn.SourceID) == "" || strings.TrimSpace(sn.Text) == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("snippet %d missing sourceId or text", i))
			return
		}
		snippets = append(snippets, verify.Snippet{SourceID: sn.SourceID, ChunkID: sn.ChunkID, Text: sn.Text})
	}

	opts := verify.Options{
		MaxClaims: req.MaxClaims,
		NLICheck:  req.NLIContradictionCheck,
	}
	if req.BindOffsets != nil && !*req.BindOffsets {
		opts.SkipOffsets = true
	}
	claims, err := s.Verifier.Verify(ctx, req.AnswerMarkdown, snippets, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed")
		log.Error().Err(err).Msg("verify error")
		return
	}
	if claims == nil {
		claims = []verify.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// handleIngestJob runs one queue-draining pass with per-request knobs.
func (s *Server) handleIngestJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	limit, err := intParam(r, "limit", 10, 1, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	concurrency, err := intParam(r, "concurrency", 4, 1, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviveStaleSec, err := intParam(r, "reviveStaleSec", 300, 60, 3600)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	worker := &ingest.Worker{
		Store:          s.Store,
		Ingestor:       s.Ingestor,
		BatchLimit:     limit,
		Concurrency:    concurrency,
		ReviveStaleSec: int64(reviveStaleSec),
		DryRun:         r.URL.Query().Get("dryRun") == "1",
	}
	stats, err := worker.Run(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest job failed")
		log.Error().Err(err).Msg("ingest job error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	stats, err := s.Store.DBStats(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "db": stats})
}

// intParam reads an integer query parameter, returning def when absent and
// an error when present but out of [min,max].
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("%s out of range [%d,%d]", name, min, max)
	}
	return n, nil
}
