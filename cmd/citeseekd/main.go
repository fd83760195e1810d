// Command citeseekd serves the research API over HTTP with SSE streaming.
//
// The storage layer uses SQLite FTS5, so the sqlite3 driver must be compiled
// with it enabled:
//
//	CGO_ENABLED=1 go build -tags sqlite_fts5 ./cmd/citeseekd
//	CGO_ENABLED=1 go test -tags sqlite_fts5 ./...
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/config"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/llm"
	"github.com/citeseek/citeseek/internal/pipeline"
	"github.com/citeseek/citeseek/internal/rank"
	"github.com/citeseek/citeseek/internal/reader"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/server"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/verify"
)

const userAgent = "citeseek/1.0 (+https://github.com/citeseek/citeseek)"

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	_ = godotenv.Load()

	var (
		configPath string
		addr       string
		dbPath     string
		llmBase    string
		llmModel   string
		llmKey     string
		searxURL   string
		searxKey   string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to optional YAML/JSON config file")
	flag.StringVar(&addr, "addr", "", "Listen address (default :8080)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path")
	flag.StringVar(&llmBase, "llm.base", "", "OpenAI-compatible base URL")
	flag.StringVar(&llmModel, "llm.model", "", "Default model name")
	flag.StringVar(&llmKey, "llm.key", "", "API key for the LLM provider")
	flag.StringVar(&searxURL, "searx.url", "", "SearxNG base URL")
	flag.StringVar(&searxKey, "searx.key", "", "SearxNG API key (optional)")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	cfg := config.Default()
	config.ApplyEnv(&cfg)
	if configPath != "" {
		fc, err := config.LoadFile(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("loading config file")
		}
		config.ApplyFile(&cfg, fc)
	}
	// Explicit flags win over file and env.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = addr
		case "db":
			cfg.DBPath = dbPath
		case "llm.base":
			cfg.LLMBaseURL = llmBase
		case "llm.model":
			cfg.LLMModel = llmModel
		case "llm.key":
			cfg.LLMAPIKey = llmKey
		case "searx.url":
			cfg.SearxURL = searxURL
		case "searx.key":
			cfg.SearxKey = searxKey
		}
	})

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("opening store")
	}
	defer st.Close()

	httpClient := newOutboundHTTPClient()

	adapter := &search.Adapter{
		Primary: &search.SearxNG{
			BaseURL:    cfg.SearxURL,
			APIKey:     cfg.SearxKey,
			HTTPClient: httpClient,
			UserAgent:  userAgent,
		},
	}
	if cfg.SearchFallbackURL != "" {
		adapter.Fallback = &search.SearxNG{
			BaseURL:    cfg.SearchFallbackURL,
			APIKey:     cfg.SearchFallbackKey,
			HTTPClient: httpClient,
			UserAgent:  userAgent,
		}
	}

	rd := &reader.Service{
		HTTPClient: httpClient,
		UserAgent:  userAgent,
		PrimaryURL: cfg.ReaderBaseURL,
		PrimaryKey: cfg.ReaderKey,
		Prefer:     cfg.ReaderPrefer,
		RawDomains: cfg.ReaderRawDomains,
		Robots:     &reader.RobotsGate{HTTPClient: httpClient, UserAgent: userAgent},
	}
	ing := &ingest.Ingestor{Store: st, Reader: rd, Concurrency: cfg.ReaderConcurrency}

	gateway := &llm.Gateway{
		Client: llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey),
		Models: llm.Models{
			Default: cfg.LLMModel,
			Plan:    cfg.LLMModelPlan,
			Answer:  cfg.LLMModelAnswer,
			Verify:  cfg.LLMModelVerify,
		},
	}
	verifier := &verify.Verifier{Gateway: gateway}

	settings := pipeline.Settings{
		MaxSourcesInline:       cfg.MaxSourcesInline,
		ReadConcurrency:        cfg.ReaderConcurrency,
		AnswerInputBudget:      cfg.AnswerInputBudgetTokens,
		AnswerPromptOverhead:   cfg.AnswerPromptOverheadTokens,
		AnswerMaxCharsPerChunk: cfg.AnswerMaxCharsPerChunk,
		VerifyInputBudget:      cfg.VerifyInputBudgetTokens,
		VerifyPromptOverhead:   cfg.VerifyPromptOverheadTokens,
		SkipVerifyOnTPM:        cfg.SkipVerifyOnTPM,
		NLICheck:               cfg.NLICheck,
	}
	if cfg.EnableRerank {
		settings.Reranker = &rank.HTTPReranker{
			URL:        cfg.RerankURL,
			APIKey:     cfg.RerankKey,
			Model:      cfg.RerankModel,
			HTTPClient: httpClient,
		}
	}

	srv := &server.Server{
		Store:  st,
		Search: adapter,
		Orchestrator: &pipeline.Orchestrator{
			Store:    st,
			Search:   adapter,
			Ingestor: ing,
			Ranker:   &rank.Ranker{Store: st},
			Gateway:  gateway,
			Verifier: verifier,
			Settings: settings,
		},
		Ingestor: ing,
		Verifier: verifier,
		Cfg:      cfg,
	}

	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
