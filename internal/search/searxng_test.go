package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearxNG_Search_ParsesResults(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		if r.URL.Query().Get("language") != "de" {
			t.Errorf("language = %q, want de", r.URL.Query().Get("language"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Doc", "url": "https://example.com", "content": "snippet", "score": 1.5},
				{"title": "Bad", "url": "", "content": "no url"},
			},
		})
	}))
	defer srv.Close()

	s := &SearxNG{BaseURL: srv.URL, HTTPClient: srv.Client()}
	got, err := s.Search(context.Background(), "query", Options{Size: 5, Region: "de"})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if gotQuery != "query" {
		t.Fatalf("sent query %q", gotQuery)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 valid result, got %d", len(got))
	}
	if got[0].URL != "https://example.com" || got[0].Score != 1.5 {
		t.Fatalf("unexpected result: %+v", got[0])
	}
}

func TestSearxNG_Search_TimeWindow(t *testing.T) {
	var gotTimeRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTimeRange = r.URL.Query().Get("time_range")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "In window", "url": "https://example.com/old", "publishedDate": "2023-06-01"},
				{"title": "Too new", "url": "https://example.com/new", "publishedDate": "2024-02-01"},
				{"title": "Undated", "url": "https://example.com/undated"},
			},
		})
	}))
	defer srv.Close()

	s := &SearxNG{BaseURL: srv.URL, HTTPClient: srv.Client()}
	got, err := s.Search(context.Background(), "q", Options{TimeFrom: "2023-01-01", TimeTo: "2023-12-31"})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	// The window ends over a year ago; no coarse bucket covers it.
	if gotTimeRange != "" {
		t.Fatalf("time_range = %q, want none for an old window", gotTimeRange)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want the too-new one filtered: %+v", len(got), got)
	}
	for _, r := range got {
		if r.URL == "https://example.com/new" {
			t.Fatalf("result past the upper bound kept: %+v", r)
		}
	}
}

func TestSearxNG_Search_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := &SearxNG{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := s.Search(context.Background(), "query", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("429 should be retryable: %v", err)
	}
}
