// Package textkit is the pure text toolkit behind ingestion and ranking:
// sanitization, token estimation, paragraph/sentence splitting, windowed
// chunking, and tolerant quote matching. Everything here is deterministic
// and never panics on arbitrary input.
package textkit

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormForm selects a Unicode normalization form. The zero value is NFKC,
// which folds compatibility variants (ligatures, full-width forms) into
// their plain equivalents before indexing.
type NormForm int

const (
	NormNFKC NormForm = iota
	NormNFC
	NormNFD
	NormNFKD
	NormNone
)

func (f NormForm) apply(s string) string {
	switch f {
	case NormNFC:
		return norm.NFC.String(s)
	case NormNFD:
		return norm.NFD.String(s)
	case NormNFKD:
		return norm.NFKD.String(s)
	case NormNone:
		return s
	default:
		return norm.NFKC.String(s)
	}
}

// SanitizeOptions controls Sanitize. The zero value applies NFKC
// normalization and strips control characters while keeping tab, newline,
// and carriage return.
type SanitizeOptions struct {
	Form NormForm
	// DropNewlines replaces tab/newline/CR with spaces instead of keeping them.
	DropNewlines bool
	// DecodeEntities decodes HTML entities like &amp; before filtering.
	DecodeEntities bool
	// CollapseWhitespace folds whitespace runs into single spaces and trims.
	CollapseWhitespace bool
	// StripMarkdown removes common markdown syntax, keeping link text.
	StripMarkdown bool
}

var (
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdImageRe   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphRe    = regexp.MustCompile("[*_`~]{1,3}")
)

// Sanitize normalizes and filters a string for storage and indexing.
func Sanitize(s string, opts SanitizeOptions) string {
	if s == "" {
		return ""
	}
	if opts.DecodeEntities {
		s = html.UnescapeString(s)
	}
	s = opts.Form.apply(s)
	if opts.StripMarkdown {
		s = mdImageRe.ReplaceAllString(s, "")
		s = mdLinkRe.ReplaceAllString(s, "$1")
		s = mdHeadingRe.ReplaceAllString(s, "")
		s = mdEmphRe.ReplaceAllString(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			if opts.DropNewlines {
				b.WriteByte(' ')
			} else {
				b.WriteRune(r)
			}
			continue
		}
		// Zero-width characters and the BOM survive NFKC; drop them with the
		// control range.
		if unicode.IsControl(r) || r == '\ufeff' || r == '\u200b' || r == '\u200c' || r == '\u200d' {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()
	if opts.CollapseWhitespace {
		s = CollapseWhitespace(s)
	}
	return s
}

// CollapseWhitespace folds every whitespace run into a single space and
// trims the ends.
func CollapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
