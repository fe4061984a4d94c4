package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-audit/internal/agent"
	"github.com/miradorstack/mirador-audit/internal/cache"
	"github.com/miradorstack/mirador-audit/internal/config"
	"github.com/miradorstack/mirador-audit/internal/corpus"
	"github.com/miradorstack/mirador-audit/internal/engine"
	"github.com/miradorstack/mirador-audit/internal/metrics"
	"github.com/miradorstack/mirador-audit/internal/repo"
	"github.com/miradorstack/mirador-audit/internal/services"
	"github.com/miradorstack/mirador-audit/internal/stages"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// app is the wired object graph shared by serve and extract.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cache   cache.Provider
	service *services.ExtractionService
}

func newApp(ctx context.Context, path string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, logOut)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	cacheProvider := newCacheProvider(ctx, cfg.Cache, logger)

	gemini := repo.NewGeminiClient(repo.GeminiConfig{
		BaseURL:          cfg.LLM.BaseURL,
		APIKey:           cfg.LLM.APIKey,
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		MaxOutputTokens:  cfg.LLM.MaxOutputTokens,
		MaxResponseBytes: cfg.LLM.MaxResponseBytes,
	}, logger)
	if err := gemini.Ready(); err != nil {
		logger.Warn("model client not ready, runs will fail until configured", slog.Any("error", err))
	}

	invoker := agent.NewInvoker(gemini, agent.Timeouts{
		Parser:     cfg.LLM.Timeouts.Parser,
		Extractor:  cfg.LLM.Timeouts.Extractor,
		Classifier: cfg.LLM.Timeouts.Classifier,
	}, logger)

	var caller engine.Invoker = invoker
	if _, noop := cacheProvider.(cache.NoopProvider); !noop && cfg.Cache.AgentResponseTTL > 0 {
		caller = agent.NewCachingInvoker(invoker, cacheProvider, cfg.Cache.AgentResponseTTL, gemini.Model(), logger,
			agent.WithValidator(stages.Decodable))
	}

	coordinator := engine.NewCoordinator(logger, caller, engine.Options{
		MaxRetries:   cfg.Pipeline.MaxRetries,
		RetryBackoff: cfg.Pipeline.RetryBackoff,
	})

	c, err := loadCorpus(ctx, cfg, cacheProvider, logger)
	if err != nil {
		_ = cacheProvider.Close()
		return nil, err
	}

	service := services.NewExtractionService(logger, coordinator, services.Defaults{
		AllowedTags: c.AllowedTags(),
		Examples:    c.Render(cfg.Corpus.ExampleLimit),
	})

	return &app{cfg: cfg, logger: logger, cache: cacheProvider, service: service}, nil
}

func (a *app) Close() error {
	if a == nil || a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

func newCacheProvider(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if cfg.Enabled && cfg.Addr != "" {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			KeyPrefix:    cfg.KeyPrefix,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err == nil {
			logger.Info("valkey cache connected", slog.String("addr", cfg.Addr))
			return provider
		}
		logger.Warn("valkey cache unavailable, using in-memory cache", slog.Any("error", err))
	}
	if cfg.MemoryEntries > 0 {
		return cache.NewMemoryProvider(cfg.MemoryEntries)
	}
	return cache.NoopProvider{}
}

// loadCorpus reads the YAML corpus and merges stored examples. An
// unreachable example store only costs the stored examples.
func loadCorpus(ctx context.Context, cfg *config.Config, cacheProvider cache.Provider, logger *slog.Logger) (*corpus.Corpus, error) {
	c, err := corpus.Load(cfg.Corpus.Path)
	if err != nil {
		return nil, err
	}

	examples := repo.NewExampleRepo(cfg.Weaviate.Endpoint, cfg.Weaviate.APIKey, cfg.Weaviate.Timeout, cacheProvider, cfg.Cache.ExamplesTTL)
	if examples.Enabled() {
		stored, err := examples.FetchExamples(ctx, cfg.Corpus.ExampleLimit)
		if err != nil {
			logger.Warn("stored examples unavailable", slog.Any("error", err))
		} else {
			c.Merge(stored)
		}
	}

	logger.Info("corpus loaded",
		slog.String("path", cfg.Corpus.Path),
		slog.Int("tags", len(c.Tags)),
		slog.Int("examples", len(c.Examples)),
	)
	return c, nil
}
