package search

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/asyncx"
	"github.com/citeseek/citeseek/internal/urlnorm"
)

// Adapter wraps a primary provider with the recovery ladder: loosen the
// query when it returns nothing, fall through to a secondary provider, retry
// transient failures, then post-filter and canonicalize what came back.
type Adapter struct {
	Primary  Provider
	Fallback Provider // optional
	// Backoff is the base retry delay; 0 means 400ms.
	Backoff time.Duration
}

// IsRetryable classifies provider errors for the retry loop: 429 and 5xx
// statuses plus network timeouts. 4xx client errors are terminal.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Search runs the full ladder and returns canonicalized, deduped,
// domain-filtered results. An error is returned only when every path failed;
// an empty result set with no error means the web had nothing for us.
func (a *Adapter) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if a.Primary == nil {
		return nil, errors.New("search adapter: no primary provider")
	}
	results, err := a.call(ctx, a.Primary, query, opts)
	if err != nil {
		log.Warn().Err(err).Str("provider", a.Primary.Name()).Str("query", query).Msg("primary search failed")
	}

	if len(results) == 0 {
		loosened := Loosen(query)
		wider := opts
		wider.Allowed = nil
		wider.Denied = nil
		if wider.Size > 0 {
			wider.Size *= 2
		}
		if loosened != "" && (loosened != query || len(opts.Allowed) > 0 || len(opts.Denied) > 0) {
			if r2, err2 := a.call(ctx, a.Primary, loosened, wider); err2 == nil && len(r2) > 0 {
				results, err = r2, nil
			}
		}
	}

	if len(results) == 0 && a.Fallback != nil {
		r3, err3 := a.call(ctx, a.Fallback, query, opts)
		if err3 != nil {
			log.Warn().Err(err3).Str("provider", a.Fallback.Name()).Msg("fallback search failed")
		} else {
			results, err = r3, nil
		}
	}

	if len(results) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, nil
	}
	return finalize(results, opts), nil
}

func (a *Adapter) call(ctx context.Context, p Provider, query string, opts Options) ([]Result, error) {
	var out []Result
	err := asyncx.Retry(ctx, asyncx.RetryOptions{
		Attempts:  3,
		Base:      a.Backoff,
		Jitter:    100 * time.Millisecond,
		Retryable: IsRetryable,
	}, func(ctx context.Context) error {
		r, err := p.Search(ctx, query, opts)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// finalize applies the allow/deny host filter, canonicalizes URLs, and
// dedupes preserving first-seen order (and with it, first-seen titles).
func finalize(results []Result, opts Options) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		canon, err := urlnorm.Canonicalize(r.URL)
		if err != nil {
			continue
		}
		host := urlnorm.Domain(canon)
		if !hostAllowed(host, opts.Allowed, opts.Denied) {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		r.URL = canon
		out = append(out, r)
	}
	return out
}

// hostAllowed applies deny-over-allow suffix matching.
func hostAllowed(host string, allowed, denied []string) bool {
	for _, d := range denied {
		if urlnorm.HostMatches(host, d) {
			return false
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if urlnorm.HostMatches(host, a) {
			return true
		}
	}
	return false
}
