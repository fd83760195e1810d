package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the optional single-file configuration schema. Nested
// sections map naturally onto env names and flags.
type FileConfig struct {
	Addr             string `yaml:"addr" json:"addr"`
	APIKey           string `yaml:"apiKey" json:"apiKey"`
	CORSOrigin       string `yaml:"corsOrigin" json:"corsOrigin"`
	RequestTimeoutMS int    `yaml:"requestTimeoutMs" json:"requestTimeoutMs"`
	LogLevel         string `yaml:"logLevel" json:"logLevel"`

	DB struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"db" json:"db"`

	LLM struct {
		BaseURL string `yaml:"base" json:"base"`
		APIKey  string `yaml:"key" json:"key"`
		Model   string `yaml:"model" json:"model"`
		Plan    string `yaml:"plan" json:"plan"`
		Answer  string `yaml:"answer" json:"answer"`
		Verify  string `yaml:"verify" json:"verify"`
	} `yaml:"llm" json:"llm"`

	Searx struct {
		URL         string `yaml:"url" json:"url"`
		Key         string `yaml:"key" json:"key"`
		FallbackURL string `yaml:"fallbackUrl" json:"fallbackUrl"`
		FallbackKey string `yaml:"fallbackKey" json:"fallbackKey"`
	} `yaml:"searx" json:"searx"`

	Reader struct {
		Base        string   `yaml:"base" json:"base"`
		Key         string   `yaml:"key" json:"key"`
		Prefer      string   `yaml:"prefer" json:"prefer"`
		RawDomains  []string `yaml:"rawDomains" json:"rawDomains"`
		Concurrency int      `yaml:"concurrency" json:"concurrency"`
	} `yaml:"reader" json:"reader"`

	Rerank struct {
		Enable bool   `yaml:"enable" json:"enable"`
		URL    string `yaml:"url" json:"url"`
		Key    string `yaml:"key" json:"key"`
		Model  string `yaml:"model" json:"model"`
	} `yaml:"rerank" json:"rerank"`

	Budget struct {
		AnswerInputTokens    int   `yaml:"answerInputTokens" json:"answerInputTokens"`
		AnswerOverheadTokens int   `yaml:"answerOverheadTokens" json:"answerOverheadTokens"`
		AnswerMaxChunkChars  int   `yaml:"answerMaxChunkChars" json:"answerMaxChunkChars"`
		VerifyInputTokens    int   `yaml:"verifyInputTokens" json:"verifyInputTokens"`
		VerifyOverheadTokens int   `yaml:"verifyOverheadTokens" json:"verifyOverheadTokens"`
		SkipVerifyOnTPM      *bool `yaml:"skipVerifyOnTpm" json:"skipVerifyOnTpm"`
	} `yaml:"budget" json:"budget"`

	MaxSourcesInline int `yaml:"maxSourcesInline" json:"maxSourcesInline"`
}

// LoadFile reads YAML or JSON into FileConfig. Extension picks the parser;
// unknown extensions try YAML then JSON.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if yerr := yaml.Unmarshal(b, &fc); yerr != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", yerr, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFile overlays non-zero file values onto cfg. Callers run this after
// ApplyEnv and before re-applying explicit flags, so the file beats env but
// loses to flags.
func ApplyFile(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	overlayString(&cfg.Addr, fc.Addr)
	overlayString(&cfg.APIKey, fc.APIKey)
	overlayString(&cfg.CORSOrigin, fc.CORSOrigin)
	overlayInt(&cfg.RequestTimeoutMS, fc.RequestTimeoutMS)
	overlayString(&cfg.LogLevel, fc.LogLevel)

	overlayString(&cfg.DBPath, fc.DB.Path)

	overlayString(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	overlayString(&cfg.LLMAPIKey, fc.LLM.APIKey)
	overlayString(&cfg.LLMModel, fc.LLM.Model)
	overlayString(&cfg.LLMModelPlan, fc.LLM.Plan)
	overlayString(&cfg.LLMModelAnswer, fc.LLM.Answer)
	overlayString(&cfg.LLMModelVerify, fc.LLM.Verify)

	overlayString(&cfg.SearxURL, fc.Searx.URL)
	overlayString(&cfg.SearxKey, fc.Searx.Key)
	overlayString(&cfg.SearchFallbackURL, fc.Searx.FallbackURL)
	overlayString(&cfg.SearchFallbackKey, fc.Searx.FallbackKey)

	overlayString(&cfg.ReaderBaseURL, fc.Reader.Base)
	overlayString(&cfg.ReaderKey, fc.Reader.Key)
	overlayString(&cfg.ReaderPrefer, fc.Reader.Prefer)
	if len(fc.Reader.RawDomains) > 0 {
		cfg.ReaderRawDomains = append([]string{}, fc.Reader.RawDomains...)
	}
	overlayInt(&cfg.ReaderConcurrency, fc.Reader.Concurrency)

	if fc.Rerank.Enable {
		cfg.EnableRerank = true
	}
	overlayString(&cfg.RerankURL, fc.Rerank.URL)
	overlayString(&cfg.RerankKey, fc.Rerank.Key)
	overlayString(&cfg.RerankModel, fc.Rerank.Model)

	overlayInt(&cfg.MaxSourcesInline, fc.MaxSourcesInline)
	overlayInt(&cfg.AnswerInputBudgetTokens, fc.Budget.AnswerInputTokens)
	overlayInt(&cfg.AnswerPromptOverheadTokens, fc.Budget.AnswerOverheadTokens)
	overlayInt(&cfg.AnswerMaxCharsPerChunk, fc.Budget.AnswerMaxChunkChars)
	overlayInt(&cfg.VerifyInputBudgetTokens, fc.Budget.VerifyInputTokens)
	overlayInt(&cfg.VerifyPromptOverheadTokens, fc.Budget.VerifyOverheadTokens)
	if fc.Budget.SkipVerifyOnTPM != nil {
		cfg.SkipVerifyOnTPM = *fc.Budget.SkipVerifyOnTPM
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
