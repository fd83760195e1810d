package textkit

import "unicode"

// QuoteMatchOptions bounds FindQuoteOffsets. MaxSteps caps the total number
// of rune comparisons so hostile inputs cannot make the search quadratic
// without limit; the default is ~2M steps.
type QuoteMatchOptions struct {
	MaxSteps int
}

const defaultMaxSteps = 2_000_000

// normRune maps a rune to its tolerant-match equivalent: lowercase, curly
// quotes to straight quotes, en/em dashes to hyphens. Whitespace collapsing
// is handled by the caller.
func normRune(r rune) rune {
	switch r {
	case '‘', '’', '‚', '′': // ‘ ’ ‚ ′
		return '\''
	case '“', '”', '„', '″': // “ ” „ ″
		return '"'
	case '–', '—', '−': // – — −
		return '-'
	}
	return unicode.ToLower(r)
}

// normStream is a string reduced to its tolerant form, with a byte offset
// into the original string for the start and end of every kept rune.
type normStream struct {
	runes  []rune
	starts []int
	ends   []int
}

// normalizeStream lowercases, folds quotes and dashes, and drops whitespace
// entirely while recording original offsets. Dropping rather than collapsing
// lets "770 °C" match a quote written "770°C".
func normalizeStream(s string) normStream {
	ns := normStream{
		runes:  make([]rune, 0, len(s)/2),
		starts: make([]int, 0, len(s)/2),
		ends:   make([]int, 0, len(s)/2),
	}
	for i, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		ns.runes = append(ns.runes, normRune(r))
		ns.starts = append(ns.starts, i)
		ns.ends = append(ns.ends, i+runeLen(r))
	}
	return ns
}

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

// FindQuoteOffsets locates needle inside hay under tolerant matching:
// case-insensitive, whitespace-insensitive, curly quotes and long dashes
// normalized. It returns byte offsets into hay such that hay[start:end] is
// the matched region, or ok=false when the needle does not occur or the
// step budget is exhausted.
func FindQuoteOffsets(hay, needle string, opts ...QuoteMatchOptions) (start, end int, ok bool) {
	maxSteps := defaultMaxSteps
	if len(opts) > 0 && opts[0].MaxSteps > 0 {
		maxSteps = opts[0].MaxSteps
	}
	h := normalizeStream(hay)
	n := normalizeStream(needle)
	if len(n.runes) == 0 || len(n.runes) > len(h.runes) {
		return 0, 0, false
	}
	steps := 0
	limit := len(h.runes) - len(n.runes)
	for i := 0; i <= limit; i++ {
		matched := true
		for j := 0; j < len(n.runes); j++ {
			steps++
			if steps > maxSteps {
				return 0, 0, false
			}
			if h.runes[i+j] != n.runes[j] {
				matched = false
				break
			}
		}
		if matched {
			return h.starts[i], h.ends[i+len(n.runes)-1], true
		}
	}
	return 0, 0, false
}
