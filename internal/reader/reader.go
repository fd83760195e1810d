package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/urlnorm"
)

// Read preference modes.
const (
	PreferPrimary = "primary"
	PreferRaw     = "raw"
)

// ErrBinaryContent marks URLs serving non-text payloads. Terminal per URL;
// no source row is created for them.
var ErrBinaryContent = errors.New("binary content")

// ErrRobotsDisallowed marks URLs the site's robots.txt forbids fetching.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// cooldownDuration pauses the primary reader after a rate-limit response.
const cooldownDuration = 45 * time.Second

// Result is the outcome of reading one URL.
type Result struct {
	Text        string
	HTML        string
	FinalURL    string
	Title       string
	Lang        string
	ContentType string
	HTTPStatus  int
	From        string // "primary" or "raw"
	// Truncated reports that the body hit the byte cap and was cut there.
	Truncated bool
}

// Service turns URLs into cleaned text. The primary path is an external
// readability endpoint (Jina-style prefix URL); the raw path fetches and
// extracts locally. A process-wide cooldown shunts everything to raw after
// the primary rate-limits us.
type Service struct {
	HTTPClient *http.Client
	UserAgent  string

	// PrimaryURL is the readability endpoint prefix, e.g. "https://r.example.com/".
	// Empty disables the primary path.
	PrimaryURL string
	PrimaryKey string

	// Prefer selects the default path: PreferPrimary or PreferRaw.
	Prefer string
	// RawDomains lists host suffixes always read via the raw path.
	RawDomains []string

	// MaxBytes caps the body size; 0 means 2 MiB. Oversized bodies are
	// truncated at the cap, not rejected.
	MaxBytes int64
	// Timeout bounds one read; 0 means 30s.
	Timeout time.Duration
	// RedirectMaxHops caps redirect following; 0 means 5.
	RedirectMaxHops int

	// Robots gates raw fetches on the target site's robots.txt when set.
	// The primary path is exempt; its operator applies its own policy.
	Robots *RobotsGate

	// pausedUntil is a unix-nano timestamp; primary is skipped before it.
	pausedUntil atomic.Int64
}

func (s *Service) maxBytes() int64 {
	if s.MaxBytes > 0 {
		return s.MaxBytes
	}
	return 2 << 20
}

func (s *Service) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 30 * time.Second
}

func (s *Service) client() *http.Client {
	hops := s.RedirectMaxHops
	if hops <= 0 {
		hops = 5
	}
	check := func(req *http.Request, via []*http.Request) error {
		if len(via) >= hops {
			return errors.New("too many redirects")
		}
		if req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
	if s.HTTPClient != nil {
		c := *s.HTTPClient
		c.CheckRedirect = check
		return &c
	}
	return &http.Client{Timeout: s.timeout(), CheckRedirect: check}
}

// InCooldown reports whether the primary reader is currently paused.
func (s *Service) InCooldown() bool {
	return time.Now().UnixNano() < s.pausedUntil.Load()
}

func (s *Service) startCooldown() {
	s.pausedUntil.Store(time.Now().Add(cooldownDuration).UnixNano())
	log.Warn().Dur("cooldown", cooldownDuration).Msg("primary reader rate-limited, pausing")
}

// Read fetches and cleans one URL. The URL is canonicalized first; the
// primary readability path is used when configured, preferred, and not in
// cooldown, with the raw path as fallback.
func (s *Service) Read(ctx context.Context, rawURL string) (*Result, error) {
	canon, err := urlnorm.Canonicalize(rawURL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %q: %w", rawURL, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	if s.usePrimary(canon) {
		res, err := s.readPrimary(ctx, canon)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Str("url", canon).Msg("primary read failed, falling back to raw")
	}
	return s.readRaw(ctx, canon)
}

func (s *Service) usePrimary(canon string) bool {
	if s.PrimaryURL == "" || s.Prefer == PreferRaw || s.InCooldown() {
		return false
	}
	host := urlnorm.Domain(canon)
	for _, d := range s.RawDomains {
		if urlnorm.HostMatches(host, d) {
			return false
		}
	}
	return true
}

// readPrimary calls the readability endpoint, which takes the target URL as
// a path suffix and returns cleaned plain text.
func (s *Service) readPrimary(ctx context.Context, target string) (*Result, error) {
	endpoint := strings.TrimRight(s.PrimaryURL, "/") + "/" + target
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	if s.PrimaryKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.PrimaryKey)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		s.startCooldown()
		return nil, fmt.Errorf("primary reader status: %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("primary reader status: %d", resp.StatusCode)
	}
	body, truncated, err := readCapped(resp.Body, s.maxBytes())
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, errors.New("primary reader returned empty body")
	}
	return &Result{
		Text:        text,
		FinalURL:    target,
		Title:       firstLineTitle(text),
		ContentType: resp.Header.Get("Content-Type"),
		HTTPStatus:  resp.StatusCode,
		From:        "primary",
		Truncated:   truncated,
	}, nil
}

// readRaw fetches the URL directly and extracts the article locally.
func (s *Service) readRaw(ctx context.Context, target string) (*Result, error) {
	if s.Robots != nil && !s.Robots.Allowed(ctx, target) {
		return nil, fmt.Errorf("%s: %w", target, ErrRobotsDisallowed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if isBinaryContentType(ct) {
		return nil, fmt.Errorf("%s: %w (%s)", target, ErrBinaryContent, ct)
	}
	body, truncated, err := readCapped(resp.Body, s.maxBytes())
	if err != nil {
		return nil, err
	}
	if truncated {
		log.Debug().Str("url", target).Int64("cap", s.maxBytes()).Msg("body truncated at byte cap")
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	res := &Result{
		FinalURL:    finalURL,
		ContentType: ct,
		HTTPStatus:  resp.StatusCode,
		From:        "raw",
		Truncated:   truncated,
	}
	if strings.HasPrefix(strings.ToLower(ct), "text/plain") {
		res.Text = strings.TrimSpace(string(body))
		res.Title = firstLineTitle(res.Text)
		return res, nil
	}

	base, _ := url.Parse(finalURL)
	title, text := extractArticle(body, base)
	res.HTML = string(body)
	res.Text = text
	res.Title = title
	if res.Title == "" {
		res.Title = sniffTitle(body)
	}
	res.Lang = sniffLang(body)
	return res, nil
}

// readCapped reads at most max bytes and reports whether the source held
// more. Oversized bodies are cut at the cap, not rejected.
func readCapped(r io.Reader, max int64) ([]byte, bool, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > max {
		return b[:max], true, nil
	}
	return b, false, nil
}

func isBinaryContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "application/pdf",
		ct == "application/octet-stream",
		ct == "application/zip":
		return true
	case strings.HasPrefix(ct, "image/"),
		strings.HasPrefix(ct, "video/"),
		strings.HasPrefix(ct, "audio/"),
		strings.HasPrefix(ct, "font/"):
		return true
	}
	return false
}

// firstLineTitle treats a leading short line of plain text as the title.
func firstLineTitle(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
	if len(line) > 0 && len(line) <= 200 {
		return line
	}
	return ""
}

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>\s*(.*?)\s*</title>`)
	langRe  = regexp.MustCompile(`(?i)<html[^>]*\blang=["']?([a-zA-Z][a-zA-Z0-9-]*)`)
)

func sniffTitle(body []byte) string {
	if m := titleRe.FindSubmatch(body); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

func sniffLang(body []byte) string {
	if m := langRe.FindSubmatch(body); m != nil {
		return strings.ToLower(string(m[1]))
	}
	return ""
}
