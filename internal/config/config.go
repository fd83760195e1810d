// Package config holds runtime configuration for the citeseek server.
// Precedence: explicit flags, then config file, then environment, then the
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the fully merged runtime configuration.
type Config struct {
	// Server
	Addr             string
	APIKey           string // empty disables auth
	CORSOrigin       string
	RequestTimeoutMS int
	LogLevel         string

	// Storage
	DBPath string

	// LLM
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMModelPlan   string
	LLMModelAnswer string
	LLMModelVerify string

	// Search
	SearxURL          string
	SearxKey          string
	SearchFallbackURL string
	SearchFallbackKey string

	// Reader
	ReaderBaseURL     string
	ReaderKey         string
	ReaderPrefer      string // primary or raw
	ReaderRawDomains  []string
	ReaderConcurrency int

	// Rerank
	EnableRerank bool
	RerankURL    string
	RerankKey    string
	RerankModel  string

	// Pipeline budgets
	MaxSourcesInline           int
	AnswerInputBudgetTokens    int
	AnswerPromptOverheadTokens int
	AnswerMaxCharsPerChunk     int
	VerifyInputBudgetTokens    int
	VerifyPromptOverheadTokens int
	SkipVerifyOnTPM            bool
	NLICheck                   bool
}

// Default returns the built-in defaults. Env and file overlays apply on top.
func Default() Config {
	return Config{
		Addr:              ":8080",
		RequestTimeoutMS:  30000,
		LogLevel:          "info",
		DBPath:            "citeseek.db",
		ReaderPrefer:      "primary",
		ReaderConcurrency: 3,

		MaxSourcesInline:           12,
		AnswerInputBudgetTokens:    3200,
		AnswerPromptOverheadTokens: 800,
		AnswerMaxCharsPerChunk:     900,
		VerifyInputBudgetTokens:    1500,
		VerifyPromptOverheadTokens: 500,
		SkipVerifyOnTPM:            true,
	}
}

// Validate checks required settings and bounds. Called after all overlays.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.LLMAPIKey) == "" {
		return errors.New("config: llm api key is required (set LLM_API_KEY)")
	}
	if cfg.MaxSourcesInline < 1 || cfg.MaxSourcesInline > 24 {
		return fmt.Errorf("config: MAX_SOURCES_INLINE out of range [1,24]: %d", cfg.MaxSourcesInline)
	}
	if cfg.ReaderConcurrency < 1 || cfg.ReaderConcurrency > 4 {
		return fmt.Errorf("config: READER_CONCURRENCY out of range [1,4]: %d", cfg.ReaderConcurrency)
	}
	switch cfg.ReaderPrefer {
	case "primary", "raw":
	default:
		return fmt.Errorf("config: READER_PREFER must be primary or raw, got %q", cfg.ReaderPrefer)
	}
	if cfg.RequestTimeoutMS <= 0 {
		return errors.New("config: REQUEST_TIMEOUT_MS must be positive")
	}
	if cfg.AnswerInputBudgetTokens <= 0 || cfg.VerifyInputBudgetTokens <= 0 {
		return errors.New("config: token budgets must be positive")
	}
	if cfg.EnableRerank && strings.TrimSpace(cfg.RerankURL) == "" {
		return errors.New("config: ENABLE_RERANK requires RERANK_URL")
	}
	return nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
