package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/contextwin"
	"github.com/relaydesk/relaydesk/internal/core/convstate"
	"github.com/relaydesk/relaydesk/internal/core/cost"
	db "github.com/relaydesk/relaydesk/internal/core/database"
	"github.com/relaydesk/relaydesk/internal/core/fallback"
	"github.com/relaydesk/relaydesk/internal/core/ingestion"
	"github.com/relaydesk/relaydesk/internal/core/llm"
	"github.com/relaydesk/relaydesk/internal/core/nlp"
	"github.com/relaydesk/relaydesk/internal/core/objectclient"
	"github.com/relaydesk/relaydesk/internal/core/orchestrator"
	"github.com/relaydesk/relaydesk/internal/core/registry"
	"github.com/relaydesk/relaydesk/internal/core/retrieval"
	"github.com/relaydesk/relaydesk/internal/escalation"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/telemetry"
)

// App owns every long-lived component and their wiring.
type App struct {
	Store    *db.PgStore
	Ingestor *ingestion.ArticleIngestor
	Server   *Server
	Sweeper  *Sweeper
	sink     *escalation.RedisSink
	log      zerolog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := db.NewPgStore(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	log.Info().Msg("database initialized and ready")

	metrics := telemetry.New()

	objClient, err := objectclient.NewS3Client(appCtx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	providers := map[string]core.GenerationProvider{}
	gemini, err := llm.NewGeminiProvider(appCtx, cfg.AIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("init gemini provider: %w", err)
	}
	providers[gemini.Name()] = gemini
	if cfg.OpenAIKey != "" {
		openai := llm.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIKey)
		providers[openai.Name()] = openai
	}

	reg := registry.New()
	registry.SeedDefaults(reg)
	accountant := cost.NewAccountant(reg)

	circuits := fallback.NewCircuitTable(
		cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.BreakerCooldownCap,
		func(provider string, state fallback.CircuitState) {
			metrics.CircuitTransitions.WithLabelValues(provider, string(state)).Inc()
			log.Warn().Str("provider", provider).Str("state", string(state)).Msg("circuit transition")
		},
	)
	chain := fallback.NewManager(providers, circuits, reg, accountant, log.With().Str("component", "fallback").Logger())
	chain.OnAttempt(func(rec fallback.AttemptRecord) {
		metrics.AttemptsTotal.WithLabelValues(rec.Provider, rec.Model, string(rec.Outcome)).Inc()
		metrics.AttemptCostUSD.WithLabelValues(rec.Provider, rec.Model).Add(rec.CostUSD)
	})

	var chainCfg []fallback.ChainEntry
	for _, pm := range cfg.ChainEntries() {
		chainCfg = append(chainCfg, fallback.ChainEntry{Provider: pm[0], Model: pm[1]})
	}

	fuser := retrieval.NewFuser(embedder, store, store, store, retrieval.Config{
		Weights: retrieval.Weights{
			Vector:   cfg.VectorWeight,
			FullText: cfg.FullTextWeight,
			Graph:    cfg.GraphWeight,
		},
		TopM:          cfg.CitationLimit * 2,
		K:             cfg.CitationLimit,
		SourceTimeout: cfg.SourceTimeout,
		GraphDepth:    cfg.GraphDepth,
	}, log.With().Str("component", "retrieval").Logger())

	machine := convstate.NewMachine(func(from, to models.ConversationState) {
		metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	})
	locks := convstate.NewLockTable()

	sink, err := escalation.NewRedisSink(cfg.RedisURL, cfg.EscalationCh, log.With().Str("component", "escalation").Logger())
	if err != nil {
		return nil, fmt.Errorf("init escalation sink: %w", err)
	}

	extractor := nlp.NewExtractor(cfg.IntentAmbiguityGap)
	ctxmgr := contextwin.NewManager(store, cfg.ContextWindow)

	orch := orchestrator.New(store, ctxmgr, extractor, fuser, chain, chainCfg, machine, locks, sink,
		orchestrator.Policy{
			EscalationThreshold: cfg.EscalationThreshold,
			TargetConfidence:    cfg.TargetConfidence,
			EmotionIntensity:    cfg.EmotionIntensity,
			EmotionStreak:       cfg.EmotionStreak,
			ProcessCeiling:      cfg.ProcessCeiling,
			ExtractDeadline:     cfg.ExtractDeadline,
			RetrievalDeadline:   cfg.RetrievalDeadline,
		},
		log.With().Str("component", "orchestrator").Logger(),
	)
	orch.OnProcessed(func(res *orchestrator.Result, took time.Duration) {
		metrics.ProcessDuration.Observe(took.Seconds())
		metrics.RetrievalCitations.Observe(float64(len(res.Citations)))
		if res.RequiresEscalation {
			metrics.EscalationsTotal.WithLabelValues(res.EscalationCategory).Inc()
		}
	})

	ingestor := ingestion.NewArticleIngestor(store, objClient, embedder, ingestion.NewDocconvExtractor(false),
		ingestion.Config{TargetTokens: 300, OverlapTokens: 30, BatchSize: 16},
		log.With().Str("component", "ingestion").Logger(),
	)

	sweeper := NewSweeper(store, machine, cfg, log.With().Str("component", "sweeper").Logger())

	server := NewServer(cfg, store, objClient, ingestor, orch, metrics, log)

	return &App{
		Store:    store,
		Ingestor: ingestor,
		Server:   server,
		Sweeper:  sweeper,
		sink:     sink,
		log:      log,
	}, nil
}

// Start launches background workers and the HTTP server.
func (a *App) Start(ctx context.Context) {
	a.Ingestor.Start(ctx, 2)
	a.Sweeper.Start(ctx)
	go a.Server.Start()
}

func (a *App) Close() {
	if a.sink != nil {
		_ = a.sink.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
