package textkit

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is a non-empty slice of the original string together with its byte
// offsets, so Text == s[Start:End] always holds for the string it was
// produced from.
type Span struct {
	Text  string
	Start int
	End   int
}

// SplitParagraphs splits s on blank lines and returns trimmed, non-empty
// paragraph spans with offsets into s.
func SplitParagraphs(s string) []Span {
	var out []Span
	start := 0
	flush := func(end int) {
		seg := s[start:end]
		if t, a, b := trimSpan(seg, start); t != "" {
			out = append(out, Span{Text: t, Start: a, End: b})
		}
		start = end
	}
	i := 0
	for i < len(s) {
		// A paragraph boundary is a newline followed by optional horizontal
		// whitespace and another newline.
		if s[i] == '\n' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && s[j] == '\n' {
				flush(i)
				for j < len(s) && (s[j] == '\n' || s[j] == ' ' || s[j] == '\t' || s[j] == '\r') {
					j++
				}
				start = j
				i = j
				continue
			}
		}
		i++
	}
	flush(len(s))
	return out
}

// SplitSentences splits s into sentence spans. A sentence ends at '.', '!',
// or '?' followed by whitespace, or at a newline. Offsets index into s.
func SplitSentences(s string) []Span {
	var out []Span
	start := 0
	flush := func(end int) {
		seg := s[start:end]
		if t, a, b := trimSpan(seg, start); t != "" {
			out = append(out, Span{Text: t, Start: a, End: b})
		}
		start = end
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' {
			flush(i)
			start = i + 1
			continue
		}
		if c == '.' || c == '!' || c == '?' {
			// Consume any run of terminators (e.g. "?!" or "..."),
			// then require whitespace or end of string.
			j := i + 1
			for j < len(s) && (s[j] == '.' || s[j] == '!' || s[j] == '?') {
				j++
			}
			if j >= len(s) || s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r' {
				flush(j)
				start = j
				i = j - 1
			}
		}
	}
	flush(len(s))
	return out
}

// trimSpan trims whitespace from seg and adjusts the base offset, returning
// ("", 0, 0) when nothing remains.
func trimSpan(seg string, base int) (string, int, int) {
	lead := 0
	for lead < len(seg) {
		r, size := utf8.DecodeRuneInString(seg[lead:])
		if !unicode.IsSpace(r) {
			break
		}
		lead += size
	}
	trimmed := strings.TrimRightFunc(seg[lead:], unicode.IsSpace)
	if trimmed == "" {
		return "", 0, 0
	}
	return trimmed, base + lead, base + lead + len(trimmed)
}
