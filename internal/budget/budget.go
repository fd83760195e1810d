package budget

import (
	"math"
	"strings"

	"github.com/citeseek/citeseek/internal/textkit"
)

// minEffectiveBudget is the floor for the effective prompt cap. Even with an
// aggressive reserve we always leave room for at least one snippet.
const minEffectiveBudget = 300

// TrimCount returns how many of the given texts fit, in order, within
// budgetTokens minus reserve. The effective cap never drops below
// minEffectiveBudget, and at least one text is always kept when any exist.
func TrimCount(texts []string, budgetTokens, reserve int) int {
	if len(texts) == 0 {
		return 0
	}
	cap := budgetTokens - reserve
	if cap < minEffectiveBudget {
		cap = minEffectiveBudget
	}
	total := 0
	n := 0
	for _, t := range texts {
		cost := textkit.EstimateTokens(t)
		if n > 0 && total+cost > cap {
			break
		}
		total += cost
		n++
	}
	return n
}

// ShrinkText caps text at maxChars. Long text keeps the head (70%) and the
// tail (30%) joined by an ellipsis line so both ends of a chunk survive for
// quote resolution. Cuts land on rune boundaries.
func ShrinkText(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	const joiner = "\n…\n"
	usable := maxChars - len(joiner)
	if usable < 2 {
		return truncRunes(text, maxChars)
	}
	head := usable * 7 / 10
	tail := usable - head
	return truncRunes(text, head) + joiner + tailRunes(text, tail)
}

func truncRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return strings.TrimRight(s[:n], " \t")
}

func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return strings.TrimLeft(s[i:], " \t")
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// ModelContextTokens returns an estimated maximum context window for a model
// name. Unknown models fall back to a conservative default.
func ModelContextTokens(modelName string) int {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return 8192
	}
	if v, ok := knownModelMax[name]; ok {
		return v
	}
	switch {
	case strings.HasSuffix(name, "1m"):
		return 1_000_000
	case strings.HasSuffix(name, "200k"):
		return 200_000
	case strings.HasSuffix(name, "128k"):
		return 128_000
	case strings.Contains(name, "-mini"):
		return 128_000
	}
	return 8192
}

// RemainingContext computes the input token budget left for a model after
// reserving output tokens and accounting for the prompt. Never negative.
func RemainingContext(modelName string, reservedForOutput, promptTokens int) int {
	if reservedForOutput < 0 {
		reservedForOutput = 0
	}
	remaining := ModelContextTokens(modelName) - reservedForOutput - promptTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HeadroomTokens is a safety margin subtracted from the model context to
// absorb tokenizer and message framing overhead: the larger of 5% of the
// context or 512 tokens.
func HeadroomTokens(modelName string) int {
	dyn := int(math.Ceil(float64(ModelContextTokens(modelName)) * 0.05))
	if dyn < 512 {
		return 512
	}
	return dyn
}

// knownModelMax holds rough context sizes for common model identifiers.
// Best-effort, not exhaustive.
var knownModelMax = map[string]int{
	"gpt-4o":        128_000,
	"gpt-4o-mini":   128_000,
	"gpt-4-turbo":   128_000,
	"gpt-3.5-turbo": 16_384,

	"claude-3-5-sonnet": 200_000,
	"claude-3-haiku":    200_000,

	"llama-3":   8_192,
	"llama-3.1": 128_000,
}
