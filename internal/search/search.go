package search

import (
	"context"
	"fmt"
	"strings"
)

// Result is a single search hit from any provider.
type Result struct {
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Snippet     string  `json:"snippet,omitempty"`
	Score       float64 `json:"score,omitempty"`
	PublishedAt string  `json:"publishedAt,omitempty"`
	Provider    string  `json:"provider,omitempty"`
}

// Options tune a single search call. Zero values mean provider defaults.
type Options struct {
	Size     int
	TimeFrom string // ISO date, inclusive
	TimeTo   string // ISO date, inclusive
	Region   string
	Allowed  []string
	Denied   []string
}

// Provider is the minimal interface a search backend implements.
type Provider interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
	Name() string
}

// StatusError carries an upstream HTTP status for retry decisions.
type StatusError struct {
	Provider string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status: %d", e.Provider, e.Code)
}

// Loosen relaxes a query that returned nothing: quotes and grouping are
// stripped and whitespace collapsed, turning a strict phrase search into a
// bag-of-words one.
func Loosen(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch r {
		case '"', '\'', '(', ')', '[', ']', '{', '}':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
