package textkit

import (
	"math"
	"strings"
	"unicode"
)

// EstimateTokens approximates the LLM token count of a string. It takes the
// larger of two heuristics (chars/4, and words*1.25 + punctuation*0.2) and
// adds a small penalty for non-ASCII runes, which most tokenizers split more
// aggressively. Deliberately conservative: budget checks built on this must
// never under-count.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	chars := 0
	nonASCII := 0
	punct := 0
	for _, r := range s {
		chars++
		if r > unicode.MaxASCII {
			nonASCII++
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	words := len(strings.Fields(s))

	byChars := float64(chars) / 4.0
	byWords := float64(words)*1.25 + float64(punct)*0.2
	est := math.Max(byChars, byWords) + float64(nonASCII)*0.25
	n := int(math.Ceil(est))
	if n < 1 {
		n = 1
	}
	return n
}
