package textkit

import "unicode/utf8"

// WindowOptions configures SplitIntoWindows. Zero values fall back to a
// 1000-token target, 15% overlap, and paragraph-respecting accumulation.
type WindowOptions struct {
	TargetTokens int
	OverlapRatio float64
	// FixedWindows forces fixed-width sliding windows instead of the default
	// paragraph-respecting accumulation.
	FixedWindows bool
}

// Window is one chunk-sized slice of the input. Text == s[CharStart:CharEnd]
// for the string the windows were produced from; offsets are byte offsets
// aligned to rune boundaries.
type Window struct {
	Text         string
	CharStart    int
	CharEnd      int
	ApproxTokens int
}

// approxCharsPerToken mirrors the conservative chars/4 side of
// EstimateTokens when converting a token target into a character target.
const approxCharsPerToken = 4

// SplitIntoWindows cuts s into overlapping windows of roughly TargetTokens
// each. In paragraph mode it accumulates whole paragraphs until the target
// is exceeded, flushes, and starts the next window with a tail overlap of
// OverlapRatio*target characters from the previous window. Short inputs
// yield exactly one window covering the whole string.
func SplitIntoWindows(s string, opts WindowOptions) []Window {
	if s == "" {
		return nil
	}
	target := opts.TargetTokens
	if target <= 0 {
		target = 1000
	}
	overlap := opts.OverlapRatio
	if overlap == 0 {
		overlap = 0.15
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 0.5 {
		overlap = 0.5
	}
	targetChars := target * approxCharsPerToken
	overlapChars := int(float64(targetChars) * overlap)

	if len(s) <= targetChars {
		return []Window{{Text: s, CharStart: 0, CharEnd: len(s), ApproxTokens: EstimateTokens(s)}}
	}

	if opts.FixedWindows {
		return fixedWindows(s, targetChars, overlapChars)
	}
	paras := SplitParagraphs(s)
	if len(paras) <= 1 {
		return fixedWindows(s, targetChars, overlapChars)
	}
	return paragraphWindows(s, paras, targetChars, overlapChars)
}

func paragraphWindows(s string, paras []Span, targetChars, overlapChars int) []Window {
	var out []Window
	winStart := paras[0].Start
	winEnd := paras[0].End
	for _, p := range paras[1:] {
		if p.End-winStart > targetChars && winEnd > winStart {
			out = append(out, mkWindow(s, winStart, winEnd))
			winStart = backOff(s, winEnd, overlapChars)
			if winStart > p.Start {
				winStart = p.Start
			}
		}
		winEnd = p.End
	}
	if winEnd > winStart {
		out = append(out, mkWindow(s, winStart, winEnd))
	}
	return out
}

func fixedWindows(s string, targetChars, overlapChars int) []Window {
	var out []Window
	step := targetChars - overlapChars
	if step <= 0 {
		step = targetChars
	}
	for start := 0; start < len(s); {
		end := start + targetChars
		if end >= len(s) {
			out = append(out, mkWindow(s, start, len(s)))
			break
		}
		end = alignRune(s, end)
		out = append(out, mkWindow(s, start, end))
		next := alignRune(s, start+step)
		if next <= start {
			break
		}
		start = next
	}
	return out
}

func mkWindow(s string, start, end int) Window {
	text := s[start:end]
	return Window{Text: text, CharStart: start, CharEnd: end, ApproxTokens: EstimateTokens(text)}
}

// backOff moves n bytes backwards from pos, aligned to a rune boundary.
func backOff(s string, pos, n int) int {
	p := pos - n
	if p < 0 {
		p = 0
	}
	return alignRune(s, p)
}

// alignRune moves p forward to the nearest rune start.
func alignRune(s string, p int) int {
	for p < len(s) && p > 0 && !utf8.RuneStart(s[p]) {
		p++
	}
	return p
}
