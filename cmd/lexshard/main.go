package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/config"
	dbRedis "github.com/lexshard/lexshard/internal/db/redis"
	"github.com/lexshard/lexshard/internal/domain"
	logpkg "github.com/lexshard/lexshard/internal/logger"
	"github.com/lexshard/lexshard/internal/metrics"
	"github.com/lexshard/lexshard/internal/repository/graph"
	chiTransport "github.com/lexshard/lexshard/internal/transport/chi"
	openaiProv "github.com/lexshard/lexshard/internal/transport/openai"
	embeddinguc "github.com/lexshard/lexshard/internal/usecase/embedding"
	healthuc "github.com/lexshard/lexshard/internal/usecase/health"
	ingestuc "github.com/lexshard/lexshard/internal/usecase/ingest"
	registryuc "github.com/lexshard/lexshard/internal/usecase/registry"
	routeruc "github.com/lexshard/lexshard/internal/usecase/router"
	usageuc "github.com/lexshard/lexshard/internal/usecase/usage"
	"github.com/lexshard/lexshard/internal/usecase/worker"
	"github.com/lexshard/lexshard/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting lexshard API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterProviderMetrics()
	metrics.RegisterSearchMetrics()

	// Graph repository over the four embedding spaces
	repo := graph.New(store, graph.Dims{
		Structural:   cfg.Embedding.Vectorizers["structural"].Dimensions,
		Primary:      cfg.Embedding.Vectorizers["primary"].Dimensions,
		Relationship: cfg.Embedding.Vectorizers["relationship"].Dimensions,
		Routing:      cfg.Embedding.Vectorizers["routing"].Dimensions,
	}).WithHNSW(graph.HNSWConfig{
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("Failed to ensure search indexes", zap.Error(err))
	}

	// One budget tracker per provider, shared by every space the provider backs.
	budgets := make(map[string]*embeddinguc.BudgetTracker)
	for name, prov := range cfg.Embedding.Providers {
		b := prov.Budget
		if b.DailyTokenLimit <= 0 && b.MonthlyTokenLimit <= 0 {
			continue
		}
		action := embeddinguc.BudgetActionWarn
		if b.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budgets[name] = embeddinguc.NewBudgetTracker(
			name, b.DailyTokenLimit, b.MonthlyTokenLimit, action, logger,
		)
	}

	// Query-side embedders for the retrieval pipeline and routing.
	structuralQuery := buildQueryEmbedder(&cfg, "structural", budgets, logger)
	primaryQuery := buildQueryEmbedder(&cfg, "primary", budgets, logger)
	routingQuery := buildQueryEmbedder(&cfg, "routing", budgets, logger)

	// Document-side batch embedders for ingestion.
	structuralDoc := buildDocEmbedder(&cfg, "structural", budgets, logger)
	primaryDoc := buildDocEmbedder(&cfg, "primary", budgets, logger)
	relationshipDoc := buildDocEmbedder(&cfg, "relationship", budgets, logger)
	routingDoc := buildDocEmbedder(&cfg, "routing", budgets, logger)

	// Chat provider serves domain naming, assessment and synthesis.
	var namer registryuc.Namer
	var workerLLM worker.LLM
	var routerLLM routeruc.LLM
	if cfg.LLM.Model != "" {
		prov := cfg.Embedding.Providers[cfg.LLM.Provider]
		llm := openaiProv.NewLLM(&openaiProv.LLMConfig{
			APIKey:      prov.APIKey,
			BaseURL:     prov.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Provider:    cfg.LLM.Provider,
			Logger:      logger,
		})
		namer, workerLLM, routerLLM = llm, llm, llm
		logger.Info("Chat provider created",
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
		)
	}

	registrySvc := registryuc.New(repo, namer, registryuc.Config{
		MinDomainSize:         cfg.Registry.MinDomainSize,
		MaxDomainSize:         cfg.Registry.MaxDomainSize,
		AssignThreshold:       cfg.Registry.AssignThreshold,
		NeighborXRefMin:       cfg.Registry.NeighborXRefMin,
		ClusteringMinNodes:    cfg.Registry.ClusteringMinNodes,
		KMeansMaxIterations:   cfg.Registry.KMeansMaxIterations,
		VectorThreshold:       cfg.Search.VectorThreshold,
		RelationshipThreshold: cfg.Search.RelationshipThreshold,
		ExpansionThreshold:    cfg.Search.ExpansionThreshold,
	}, logger)
	if err := registrySvc.Bootstrap(ctx); err != nil {
		logger.Fatal("Failed to bootstrap domain registry", zap.Error(err))
	}
	logger.Info("Domain registry ready", zap.Int("domains", registrySvc.Count()))

	workerSvc := worker.New(repo, structuralQuery, primaryQuery, workerLLM, registrySvc,
		worker.Config{RRFK: cfg.Search.RRFK}, logger)

	routerSvc := routeruc.New(registrySvc, workerSvc, routingQuery, routerLLM, nil,
		routeruc.Config{
			FanoutDomains:        cfg.Search.FanoutDomains,
			BranchTimeout:        time.Duration(cfg.Search.BranchTimeoutSec) * time.Second,
			BudgetTimeout:        time.Duration(cfg.Search.BudgetTimeoutSec) * time.Second,
			DisableCollaboration: cfg.Search.DisableCollaboration,
			DefaultLimit:         cfg.Search.DefaultTopN,
		}, logger)

	ingestSvc, err := ingestuc.New(repo, structuralDoc, primaryDoc, relationshipDoc, routingDoc,
		registrySvc, ingestuc.Config{
			PoolSize:     cfg.Ingest.PoolSize,
			EmbedBatch:   cfg.Ingest.EmbedBatch,
			MaxBatchSize: cfg.Ingest.MaxBatchSize,
		}, logger)
	if err != nil {
		logger.Fatal("Failed to create ingest service", zap.Error(err))
	}
	defer ingestSvc.Release()

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(primaryQuery), registrySvc, repo)

	// Pass nil interface (not typed nil pointer!) if no budgets are configured.
	var usageSvc chiTransport.UsageService
	if len(budgets) > 0 {
		readers := make(map[string]usageuc.BudgetReader, len(budgets))
		for name, b := range budgets {
			readers[name] = b
		}
		usageSvc = usageuc.New(readers)
	}

	server := chiTransport.NewServer(routerSvc, registrySvc, ingestSvc, healthSvc, usageSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildQueryEmbedder assembles the query-side chain for one embedding space:
// OpenAI -> Instrumented -> Instruction.
func buildQueryEmbedder(
	cfg *config.Config, space string,
	budgets map[string]*embeddinguc.BudgetTracker, logger *zap.Logger,
) domain.Embedder {
	vec := cfg.Embedding.Vectorizers[space]
	instrumented := buildInstrumented(cfg, space, budgets, logger)
	if vec.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(instrumented, vec.QueryInstruction)
	}
	return instrumented
}

// buildDocEmbedder assembles the document-side chain for one embedding space.
// Every layer of the chain supports batching.
func buildDocEmbedder(
	cfg *config.Config, space string,
	budgets map[string]*embeddinguc.BudgetTracker, logger *zap.Logger,
) domain.BatchEmbedder {
	vec := cfg.Embedding.Vectorizers[space]
	instrumented := buildInstrumented(cfg, space, budgets, logger)
	if vec.DocumentInstruction != "" {
		return domain.NewInstructionEmbedder(instrumented, vec.DocumentInstruction)
	}
	return instrumented
}

func buildInstrumented(
	cfg *config.Config, space string,
	budgets map[string]*embeddinguc.BudgetTracker, logger *zap.Logger,
) *embeddinguc.InstrumentedEmbedder {
	vec := cfg.Embedding.Vectorizers[space]
	prov := cfg.Embedding.Providers[vec.Provider]

	base := openaiProv.NewEmbedder(&openaiProv.Config{
		APIKey:     prov.APIKey,
		BaseURL:    prov.BaseURL,
		Model:      vec.Model,
		Dimensions: vec.Dimensions,
		Provider:   vec.Provider,
		Space:      space,
		Logger:     logger,
	})

	// Pass nil interface (not typed nil pointer) when unbudgeted.
	var checker embeddinguc.BudgetChecker
	if b, ok := budgets[vec.Provider]; ok {
		checker = b
	}

	return embeddinguc.NewInstrumentedEmbedder(base, vec.Provider, space, checker, logger)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line -- one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
