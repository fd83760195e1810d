package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides cfg fields from environment variables when set. Flags
// re-apply after this, so explicit flag values still win.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	setString(&cfg.Addr, "ADDR")
	setString(&cfg.APIKey, "SERVER_API_KEY")
	setString(&cfg.CORSOrigin, "CORS_ORIGIN")
	setInt(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setString(&cfg.DBPath, "DB_PATH")

	setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setString(&cfg.LLMAPIKey, "LLM_API_KEY")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.LLMModelPlan, "LLM_MODEL_PLAN")
	setString(&cfg.LLMModelAnswer, "LLM_MODEL_ANSWER")
	setString(&cfg.LLMModelVerify, "LLM_MODEL_VERIFY")

	// SEARX_URL preferred; SEARXNG_URL accepted for compatibility.
	if v := os.Getenv("SEARXNG_URL"); v != "" {
		cfg.SearxURL = v
	}
	setString(&cfg.SearxURL, "SEARX_URL")
	if v := os.Getenv("SEARXNG_KEY"); v != "" {
		cfg.SearxKey = v
	}
	setString(&cfg.SearxKey, "SEARX_KEY")
	setString(&cfg.SearchFallbackURL, "SEARCH_FALLBACK_URL")
	setString(&cfg.SearchFallbackKey, "SEARCH_FALLBACK_KEY")

	setString(&cfg.ReaderBaseURL, "READER_BASE_URL")
	setString(&cfg.ReaderKey, "READER_KEY")
	setString(&cfg.ReaderPrefer, "READER_PREFER")
	if v := os.Getenv("READER_RAW_DOMAINS"); v != "" {
		cfg.ReaderRawDomains = splitCSV(v)
	}
	setInt(&cfg.ReaderConcurrency, "READER_CONCURRENCY")

	setBool(&cfg.EnableRerank, "ENABLE_RERANK")
	setString(&cfg.RerankURL, "RERANK_URL")
	setString(&cfg.RerankKey, "RERANK_KEY")
	setString(&cfg.RerankModel, "RERANK_MODEL")

	setInt(&cfg.MaxSourcesInline, "MAX_SOURCES_INLINE")
	setInt(&cfg.AnswerInputBudgetTokens, "ANSWER_INPUT_BUDGET_TOKENS")
	setInt(&cfg.AnswerPromptOverheadTokens, "ANSWER_PROMPT_OVERHEAD_TOKENS")
	setInt(&cfg.AnswerMaxCharsPerChunk, "ANSWER_MAX_CHARS_PER_CHUNK")
	setInt(&cfg.VerifyInputBudgetTokens, "VERIFY_INPUT_BUDGET_TOKENS")
	setInt(&cfg.VerifyPromptOverheadTokens, "VERIFY_PROMPT_OVERHEAD_TOKENS")
	setBool(&cfg.SkipVerifyOnTPM, "SKIP_VERIFY_ON_TPM")
	setBool(&cfg.NLICheck, "VERIFY_NLI_CHECK")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
