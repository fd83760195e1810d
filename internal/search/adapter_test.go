package search

import (
	"context"
	"testing"
	"time"
)

// scriptedProvider returns each response slice in order, one per call.
type scriptedProvider struct {
	name    string
	replies [][]Result
	errs    []error
	calls   int
	queries []string
	opts    []Options
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Search(_ context.Context, query string, opts Options) ([]Result, error) {
	i := p.calls
	p.calls++
	p.queries = append(p.queries, query)
	p.opts = append(p.opts, opts)
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	var res []Result
	if i < len(p.replies) {
		res = p.replies[i]
	}
	return res, err
}

func TestLoosen(t *testing.T) {
	got := Loosen(`"curie temperature" (iron)  alloys`)
	if got != "curie temperature iron alloys" {
		t.Fatalf("got %q", got)
	}
}

func TestAdapter_PrimaryHit(t *testing.T) {
	p := &scriptedProvider{name: "p", replies: [][]Result{{
		{URL: "https://Example.com/a?utm_source=x", Title: "A"},
		{URL: "https://example.com/a", Title: "A dup"},
	}}}
	a := &Adapter{Primary: p, Backoff: time.Millisecond}
	got, err := a.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want canonical dedupe to 1", len(got))
	}
	if got[0].URL != "https://example.com/a" {
		t.Fatalf("url not canonicalized: %q", got[0].URL)
	}
	if got[0].Title != "A" {
		t.Fatalf("first-seen title lost: %q", got[0].Title)
	}
}

func TestAdapter_LoosensOnEmpty(t *testing.T) {
	p := &scriptedProvider{name: "p", replies: [][]Result{
		nil,
		{{URL: "https://example.com/b", Title: "B"}},
	}}
	a := &Adapter{Primary: p, Backoff: time.Millisecond}
	got, err := a.Search(context.Background(), `"strict phrase"`, Options{Size: 5, Allowed: []string{"example.com"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	if p.queries[1] != "strict phrase" {
		t.Fatalf("second query = %q, want loosened", p.queries[1])
	}
	// Loosened retry drops domain filters and widens size.
	if len(p.opts[1].Allowed) != 0 || p.opts[1].Size != 10 {
		t.Fatalf("loosened opts = %+v", p.opts[1])
	}
}

func TestAdapter_FallbackProvider(t *testing.T) {
	primary := &scriptedProvider{name: "p"}
	fallback := &scriptedProvider{name: "f", replies: [][]Result{{{URL: "https://alt.example/x", Title: "X"}}}}
	a := &Adapter{Primary: primary, Fallback: fallback, Backoff: time.Millisecond}
	got, err := a.Search(context.Background(), "plain words", Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://alt.example/x" {
		t.Fatalf("fallback result missing: %+v", got)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d", fallback.calls)
	}
}

func TestAdapter_RetriesTransient(t *testing.T) {
	p := &scriptedProvider{
		name:    "p",
		errs:    []error{&StatusError{Provider: "p", Code: 503}, nil},
		replies: [][]Result{nil, {{URL: "https://example.com/ok", Title: "OK"}}},
	}
	a := &Adapter{Primary: p, Backoff: time.Millisecond}
	got, err := a.Search(context.Background(), "plain words", Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results after retry", len(got))
	}
}

func TestAdapter_NonRetryableClientError(t *testing.T) {
	p := &scriptedProvider{name: "p", errs: []error{&StatusError{Provider: "p", Code: 401}}}
	a := &Adapter{Primary: p, Backoff: time.Millisecond}
	if _, err := a.Search(context.Background(), "plain words", Options{}); err == nil {
		t.Fatal("expected error surfaced")
	}
	// 401 must not be retried against the same provider.
	if p.calls > 2 { // original + loosened attempt, no backoff retries
		t.Fatalf("calls = %d", p.calls)
	}
}

func TestAdapter_DomainFilters(t *testing.T) {
	p := &scriptedProvider{name: "p", replies: [][]Result{{
		{URL: "https://good.example.org/a", Title: "keep"},
		{URL: "https://spam.net/b", Title: "drop"},
	}}}
	a := &Adapter{Primary: p, Backoff: time.Millisecond}
	got, err := a.Search(context.Background(), "q", Options{
		Allowed: []string{"example.org"}, Denied: []string{"spam.net"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "keep" {
		t.Fatalf("filter result: %+v", got)
	}
}
