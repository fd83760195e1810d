package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// budgetMarkers appear in provider messages for context-window and
// tokens-per-minute failures across OpenAI-compatible backends.
var budgetMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"tokens per min",
	"tokens per minute",
	"tpm",
	"request too large",
	"prompt is too long",
}

// IsTokenBudget reports whether err is a provider-side token budget failure
// (context overflow or TPM limit). The orchestrator reacts by halving its
// input budget and retrying once.
func IsTokenBudget(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 413 {
			return true
		}
		msg := strings.ToLower(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			msg += " " + strings.ToLower(code)
		}
		for _, m := range budgetMarkers {
			if strings.Contains(msg, m) {
				return true
			}
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range budgetMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying: 429, 5xx, or a network
// timeout. Budget errors are excluded; they need a smaller request, not a
// repeat of the same one.
func IsTransient(err error) bool {
	if err == nil || IsTokenBudget(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
