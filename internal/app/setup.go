package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	coreapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/koopa0/banxian/db"
	"github.com/koopa0/banxian/internal/agent"
	"github.com/koopa0/banxian/internal/api"
	"github.com/koopa0/banxian/internal/config"
	"github.com/koopa0/banxian/internal/fortune"
	"github.com/koopa0/banxian/internal/knowledge"
	"github.com/koopa0/banxian/internal/mood"
	"github.com/koopa0/banxian/internal/security"
	"github.com/koopa0/banxian/internal/session"
	"github.com/koopa0/banxian/internal/speech"
	"github.com/koopa0/banxian/internal/tools"
)

// Setup creates and initializes the application. Call Close to release.
//
// Postgres is preferred but not required: when the pool cannot be opened the
// session store falls back to the in-process querier and knowledge retrieval
// is disabled, both with a logged warning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, wg: &sync.WaitGroup{}}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bgCancel = bgCancel

	// Storage. A pool failure degrades to the in-process store.
	var (
		sessionQuerier session.Querier
		readiness      *session.PGQuerier
	)
	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		logger.Warn("postgres unavailable, using in-process session store; knowledge base disabled",
			"error", err)
		sessionQuerier = session.NewMemQuerier()
	} else {
		a.Pool = pool
		pgQuerier := session.NewPGQuerier(pool)
		sessionQuerier = pgQuerier
		readiness = pgQuerier

		embedder := provideEmbedder(g, cfg)
		if embedder == nil {
			return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
		}
		a.Knowledge = knowledge.NewStore(knowledge.NewPGQuerier(pool), embedder, logger,
			knowledge.WithEmbedOptions(embedOptions(cfg.Provider)))

		guard := security.NewURLGuard(logger)
		a.Ingestor = knowledge.NewIngestor(a.Knowledge, guard, logger)
	}

	modelName := cfg.FullModelName()

	summarizer := agent.NewHistorySummarizer(g, modelName, logger)
	a.Sessions = session.New(sessionQuerier, logger,
		session.WithSummarizer(summarizer),
		session.WithTokenBudget(cfg.TokenBudget),
	)

	toolRefs := provideTools(a, logger)

	engine, err := agent.NewEngine(agent.EngineConfig{
		Genkit:    g,
		ModelName: modelName,
		Tools:     toolRefs,
		MaxTurns:  cfg.MaxTurns,
		Retry:     agent.DefaultRetryConfig(),
		Breaker:   agent.CircuitBreakerConfig{},
		RPS:       2,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent engine: %w", err)
	}

	classifier := mood.NewClassifier(g, modelName, logger)
	a.Controller = agent.NewController(engine, classifier, a.Sessions, logger)

	if cfg.AzureTTSKey != "" {
		tts := speech.NewSynthesizer(cfg.AzureTTSKey, cfg.AzureTTSRegion, logger)
		a.Speech = speech.NewRunner(tts, cfg.VoicesDir, bgCtx, a.wg, logger)
	} else {
		logger.Warn("AZURE_TTS_KEY not set, speech synthesis disabled")
	}

	serverCfg := api.ServerConfig{
		Logger:      logger,
		Chat:        a.Controller,
		CORSOrigins: cfg.CORSOrigins,
	}
	if a.Speech != nil {
		serverCfg.Audio = a.Speech
		serverCfg.AudioStore = a.Speech
	}
	if a.Ingestor != nil {
		serverCfg.Ingestor = a.Ingestor
	}
	if readiness != nil {
		serverCfg.Pinger = readiness
	}

	server, err := api.NewServer(serverCfg)
	if err != nil {
		return nil, fmt.Errorf("creating api server: %w", err)
	}
	a.Handler = server.Handler()

	return a, nil
}

// provideGenkit initializes Genkit with the configured model provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)
	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	if cfg.Provider == config.ProviderOpenAI {
		return genkit.LookupEmbedder(g, coreapi.NewName("openai", cfg.EmbedderModel))
	}
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

// embedOptions sizes embedder output to the documents schema. Gemini honors
// an output dimensionality request; other providers emit their native width
// and rely on store-side reduction.
func embedOptions(provider string) any {
	if provider == config.ProviderOpenAI {
		return nil
	}
	dim := int32(knowledge.VectorDimension)
	return &genai.EmbedContentConfig{OutputDimensionality: &dim}
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideTools builds the toolset and registers it with Genkit. Unconfigured
// partners leave their tools in place with a "not configured" reply so the
// model-facing tool surface is stable.
func provideTools(a *App, logger *slog.Logger) []ai.ToolRef {
	cfg := a.Config

	var diviner *fortune.Client
	if cfg.FortuneAPIKey != "" {
		diviner = fortune.NewClient(cfg.FortuneAPIKey, fortune.WithLogger(logger))
	} else {
		logger.Warn("FORTUNE_API_KEY not set, fortune tools disabled")
	}

	var searcher *tools.WebSearcher
	if cfg.SearchAPIKey != "" {
		searcher = tools.NewWebSearcher(cfg.SearchAPIKey)
	} else {
		logger.Warn("SERP_API_KEY not set, web search disabled")
	}

	extractor := tools.NewModelExtractor(a.Genkit, cfg.FullModelName(), logger)

	ts := tools.NewToolset(
		divinerOrNil(diviner),
		searcherOrNil(searcher),
		retrieverOrNil(a.Knowledge),
		extractor,
		logger,
	)
	refs := ts.Register(a.Genkit)
	logger.Info("tools registered", "count", len(refs))
	return refs
}

// The *OrNil helpers keep a nil concrete pointer from becoming a non-nil
// interface value inside the toolset.
func divinerOrNil(c *fortune.Client) tools.Diviner {
	if c == nil {
		return nil
	}
	return c
}

func searcherOrNil(s *tools.WebSearcher) tools.Searcher {
	if s == nil {
		return nil
	}
	return s
}

func retrieverOrNil(s *knowledge.Store) tools.Retriever {
	if s == nil {
		return nil
	}
	return s
}
