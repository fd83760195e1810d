package rank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Reranker scores documents against a query with a cross-encoder. Scores
// are in [0,1], one per input document, in input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}

// HTTPReranker calls a Jina/Cohere-style rerank endpoint:
// POST {model, query, documents} -> {results:[{index, relevance_score}]}.
type HTTPReranker struct {
	URL        string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (h *HTTPReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if h.URL == "" {
		return nil, fmt.Errorf("reranker url not configured")
	}
	payload, err := json.Marshal(rerankRequest{Model: h.Model, Query: query, Documents: docs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	hc := h.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("rerank status: %d", resp.StatusCode)
	}
	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("rerank decode: %w", err)
	}
	scores := make([]float64, len(docs))
	seen := 0
	for _, r := range rr.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			continue
		}
		scores[r.Index] = r.RelevanceScore
		seen++
	}
	if seen != len(docs) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", seen, len(docs))
	}
	return scores, nil
}
