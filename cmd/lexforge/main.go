package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/api"
	"github.com/lexforge/lexforge/internal/config"
	"github.com/lexforge/lexforge/internal/ledger"
	"github.com/lexforge/lexforge/internal/orchestrator"
	"github.com/lexforge/lexforge/internal/provider"
	"github.com/lexforge/lexforge/internal/reference"
	"github.com/lexforge/lexforge/internal/review"
	"github.com/lexforge/lexforge/internal/stream"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting LexForge...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/lexforge.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
		}
		pricing := make(map[string]provider.ModelPricing, len(pc.Pricing))
		for model, rates := range pc.Pricing {
			pricing[model] = provider.ModelPricing{
				InputPer1K:  rates.InputPer1K,
				OutputPer1K: rates.OutputPer1K,
			}
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger), pricing)
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger), pricing)
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	bindRoles(router, cfg.Roles)

	// Initialize transcript store
	var recorder ledger.Recorder = ledger.NewNoopRecorder(logger)
	var store *ledger.Store
	if cfg.Database.Postgres.DSN != "" {
		ls, pgErr := ledger.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ls.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = ls
			recorder = ls
		}
	}

	// Initialize event relay
	var relay *stream.RedisRelay
	if cfg.Database.Redis.URL != "" {
		rl, rErr := stream.NewRedisRelay(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without event relay", zap.Error(rErr))
		} else {
			relay = rl
		}
	}

	// Initialize reference retrieval
	var retriever reference.Retriever
	var qdrantClient *reference.QdrantClient
	if cfg.Reference.Enabled {
		qc, qErr := reference.NewQdrantClient(reference.QdrantConfig{
			Host: cfg.Reference.Qdrant.Host,
			Port: cfg.Reference.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without reference retrieval", zap.Error(qErr))
		} else {
			qdrantClient = qc
			embedder := reference.NewAPIEmbedder(reference.EmbeddingConfig{
				Endpoint: cfg.Reference.Embedding.Endpoint,
				Model:    cfg.Reference.Embedding.Model,
				APIKey:   cfg.Reference.Embedding.APIKey,
			})
			collection := cfg.Reference.Collection
			if collection == "" {
				collection = "lexforge-references"
			}
			if cErr := qc.EnsureCollection(context.Background(), collection, uint64(cfg.Reference.Embedding.Dimension)); cErr != nil {
				logger.Warn("collection setup failed, running without reference retrieval", zap.Error(cErr))
			} else {
				retriever = reference.NewVectorRetriever(qc, embedder, collection, logger)
				logger.Info("Reference retrieval enabled", zap.String("collection", collection))
			}
		}
	}

	// Initialize orchestrator
	client := agent.NewClient(router, logger)
	agg := review.NewAggregator(cfg.Review.ScoreThreshold, cfg.Review.SimilarityMin, logger)
	opts := orchestrator.Options{
		MaxCorrections: cfg.Review.MaxCorrections,
		ReferenceTopK:  cfg.Reference.TopK,
	}
	var relayIface orchestrator.EventRelay
	if relay != nil {
		relayIface = relay
	}
	svc := orchestrator.NewService(client, agg, recorder, relayIface, retriever, opts, logger)

	// Build HTTP handler
	handler := api.NewHandler(svc, router, relay, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("LexForge listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down LexForge...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if relay != nil {
		relay.Close()
	}
	if qdrantClient != nil {
		qdrantClient.Close()
	}
	if store != nil {
		store.Close()
	}
}

// bindRoles installs the configured role bindings on the router. The default
// binding, when present, also picks the default provider.
func bindRoles(router *provider.Router, roles config.RolesConfig) {
	if roles.Default.Provider != "" {
		router.SetDefault(roles.Default.Provider)
	}
	bind := func(role string, rb config.RoleBinding) {
		if rb.Provider == "" && rb.Model == "" {
			rb = roles.Default
		}
		if rb.Provider == "" {
			return
		}
		router.Bind(role, provider.Binding{
			ProviderID: rb.Provider,
			Model:      rb.Model,
			Timeout:    time.Duration(rb.TimeoutSeconds) * time.Second,
			MaxTokens:  rb.MaxTokens,
		})
	}
	bind(string(agent.RoleGenerator), roles.Generator)
	bind(string(agent.RoleLegalReviewer), roles.LegalReviewer)
	bind(string(agent.RoleTextualReviewer), roles.TextualReviewer)
}
