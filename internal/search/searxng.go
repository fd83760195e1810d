package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearxNG implements Provider against a SearxNG instance's /search endpoint.
type SearxNG struct {
	BaseURL    string
	APIKey     string // optional
	HTTPClient *http.Client
	UserAgent  string // optional custom UA
}

func (s *SearxNG) Name() string { return "searxng" }

func (s *SearxNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("missing searxng base url")
	}
	limit := opts.Size
	if limit <= 0 {
		limit = 10
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/search") {
		u.Path = strings.TrimRight(u.Path, "/") + "/search"
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("safesearch", "1")
	q.Set("categories", "general")
	q.Set("count", fmt.Sprintf("%d", limit))
	if opts.Region != "" {
		q.Set("language", opts.Region)
	} else {
		q.Set("language", "auto")
	}
	if tr := timeRangeBucket(opts.TimeFrom, opts.TimeTo); tr != "" {
		q.Set("time_range", tr)
	}
	if s.APIKey != "" {
		q.Set("apikey", s.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: s.Name(), Code: resp.StatusCode}
	}
	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(sr.Results))
	for _, r := range sr.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		if publishedAfter(r.PublishedDate, opts.TimeTo) {
			continue
		}
		out = append(out, Result{
			Title:       strings.TrimSpace(r.Title),
			URL:         strings.TrimSpace(r.URL),
			Snippet:     strings.TrimSpace(r.Content),
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
			Provider:    s.Name(),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// timeRangeBucket maps an ISO date window to SearxNG's coarse time_range
// values. The buckets only express "within the last X", so a window that
// ends more than a year ago fits none of them and gets no restriction; the
// publishedDate post-filter applies the upper bound. Unparsable or empty
// dates mean no restriction.
func timeRangeBucket(fromISO, toISO string) string {
	if fromISO == "" {
		return ""
	}
	from, err := time.Parse("2006-01-02", fromISO)
	if err != nil {
		return ""
	}
	if toISO != "" {
		if to, err := time.Parse("2006-01-02", toISO); err == nil && time.Since(to) > 366*24*time.Hour {
			return ""
		}
	}
	age := time.Since(from)
	switch {
	case age <= 24*time.Hour:
		return "day"
	case age <= 7*24*time.Hour:
		return "week"
	case age <= 31*24*time.Hour:
		return "month"
	case age <= 366*24*time.Hour:
		return "year"
	default:
		return ""
	}
}

// publishedAfter reports whether a result's published date falls past the
// inclusive upper bound. Results without a parsable date are kept.
func publishedAfter(published, toISO string) bool {
	if published == "" || toISO == "" {
		return false
	}
	to, err := time.Parse("2006-01-02", toISO)
	if err != nil {
		return false
	}
	if len(published) < 10 {
		return false
	}
	p, err := time.Parse("2006-01-02", published[:10])
	if err != nil {
		return false
	}
	return p.After(to)
}

type searxResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"publishedDate"`
	} `json:"results"`
}
