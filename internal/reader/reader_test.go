package reader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head><title>Sample Page</title></head>
<body>
<nav>Home | About | Contact</nav>
<main>
<h1>Sample Page</h1>
<p>The Curie temperature of iron is 770 degrees Celsius, above which it loses its permanent magnetism.</p>
<p>This second paragraph exists so the article body is long enough to count as real content rather than a navigation shell for extraction.</p>
</main>
<footer>Copyright notice</footer>
</body>
</html>`

func TestReadRaw_ExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	s := &Service{HTTPClient: srv.Client(), Prefer: PreferRaw}
	res, err := s.Read(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.From != "raw" {
		t.Fatalf("from = %q", res.From)
	}
	if !strings.Contains(res.Text, "Curie temperature of iron") {
		t.Fatalf("article text missing:\n%s", res.Text)
	}
	if strings.Contains(res.Text, "Home | About") || strings.Contains(res.Text, "Copyright notice") {
		t.Fatalf("chrome leaked into text:\n%s", res.Text)
	}
	if res.Title != "Sample Page" {
		t.Fatalf("title = %q", res.Title)
	}
	if res.Lang != "en" {
		t.Fatalf("lang = %q", res.Lang)
	}
	if res.HTTPStatus != 200 {
		t.Fatalf("status = %d", res.HTTPStatus)
	}
	if res.Truncated {
		t.Fatal("small body flagged as truncated")
	}
}

func TestReadRaw_RejectsBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	s := &Service{HTTPClient: srv.Client(), Prefer: PreferRaw}
	_, err := s.Read(context.Background(), srv.URL+"/doc.pdf")
	if !errors.Is(err, ErrBinaryContent) {
		t.Fatalf("err = %v, want ErrBinaryContent", err)
	}
}

func TestReadRaw_TruncatesAtByteCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("abcdefghij", 1000))
	}))
	defer srv.Close()

	s := &Service{HTTPClient: srv.Client(), Prefer: PreferRaw, MaxBytes: 512}
	res, err := s.Read(context.Background(), srv.URL+"/big.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Text) > 512 {
		t.Fatalf("body not capped: %d bytes", len(res.Text))
	}
	if !res.Truncated {
		t.Fatal("truncation not flagged")
	}
}

func TestRead_PrimaryPath(t *testing.T) {
	var primaryHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		if r.Header.Get("Authorization") != "Bearer key123" {
			t.Errorf("missing auth header")
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Cleaned Article\n\nBody text from the readability service.")
	}))
	defer primary.Close()

	s := &Service{
		HTTPClient: primary.Client(),
		PrimaryURL: primary.URL,
		PrimaryKey: "key123",
		Prefer:     PreferPrimary,
	}
	res, err := s.Read(context.Background(), "https://example.com/article")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.From != "primary" || primaryHits != 1 {
		t.Fatalf("from=%q hits=%d", res.From, primaryHits)
	}
	if res.Title != "Cleaned Article" {
		t.Fatalf("title = %q", res.Title)
	}
}

func TestRead_PrimaryRateLimitStartsCooldown(t *testing.T) {
	var primaryHits, rawHits int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/reader/", func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		rawHits++
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, samplePage)
	})

	s := &Service{
		HTTPClient: srv.Client(),
		PrimaryURL: srv.URL + "/reader",
		Prefer:     PreferPrimary,
	}
	target := srv.URL + "/page"
	if _, err := s.Read(context.Background(), target); err != nil {
		t.Fatalf("read with fallback: %v", err)
	}
	if primaryHits != 1 || rawHits != 1 {
		t.Fatalf("primary=%d raw=%d", primaryHits, rawHits)
	}
	if !s.InCooldown() {
		t.Fatal("cooldown not active after 429")
	}
	// While cooling down, the primary is skipped entirely.
	if _, err := s.Read(context.Background(), target); err != nil {
		t.Fatalf("read during cooldown: %v", err)
	}
	if primaryHits != 1 || rawHits != 2 {
		t.Fatalf("during cooldown: primary=%d raw=%d", primaryHits, rawHits)
	}
}

func TestRead_RawDomainsBypassPrimary(t *testing.T) {
	var rawHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawHits++
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	host = strings.Split(host, ":")[0] // 127.0.0.1
	s := &Service{
		HTTPClient: srv.Client(),
		PrimaryURL: "https://unreachable.invalid",
		Prefer:     PreferPrimary,
		RawDomains: []string{host},
	}
	if _, err := s.Read(context.Background(), srv.URL+"/page"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rawHits != 1 {
		t.Fatalf("rawHits = %d", rawHits)
	}
}

func TestDomExtract_FallsBackWithoutMain(t *testing.T) {
	page := `<html><head><title>T</title></head><body><p>only body content here</p></body></html>`
	title, text := domExtract([]byte(page))
	if title != "T" {
		t.Fatalf("title = %q", title)
	}
	if !strings.Contains(text, "only body content here") {
		t.Fatalf("text = %q", text)
	}
}
