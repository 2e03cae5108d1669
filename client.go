package lexshard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/db"
	dbRedis "github.com/lexshard/lexshard/internal/db/redis"
	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/repository/graph"
	ingestuc "github.com/lexshard/lexshard/internal/usecase/ingest"
	registryuc "github.com/lexshard/lexshard/internal/usecase/registry"
	routeruc "github.com/lexshard/lexshard/internal/usecase/router"
	"github.com/lexshard/lexshard/internal/usecase/worker"
)

const defaultReadinessTimeout = 10 * time.Second

// Internal interfaces so tests can substitute the engine services.
type searcher interface {
	ExecuteSearch(ctx context.Context, query string, limit int, synthesize bool) (*routeruc.Outcome, error)
	SearchDomain(ctx context.Context, domainID, query string, limit int) (*routeruc.Outcome, error)
}

type domainRegistry interface {
	List() []domain.Domain
	Get(id string) (domain.Domain, error)
	Rebalance(ctx context.Context) error
	RebuildNeighborNetwork(ctx context.Context) error
}

type ingestor interface {
	Ingest(ctx context.Context, req ingestuc.Request) (ingestuc.Result, error)
}

// Client is the lexshard SDK entry point.
type Client struct {
	store    db.Store
	search   searcher
	registry domainRegistry
	ingest   ingestor
	release  func()
}

// New creates a lexshard Client, connects to the database and bootstraps the
// domain registry from persisted state.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(cfg)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Username: cfg.username,
		Password: cfg.password,
		DB:       cfg.db,
	})
	if err != nil {
		return nil, fmt.Errorf("lexshard: create store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("lexshard: database not ready: %w", err)
	}

	c, err := wireClient(ctx, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func validate(cfg *clientConfig) error {
	if len(cfg.addrs) == 0 {
		return errors.New("lexshard: database address required (use WithRedis)")
	}
	e := cfg.embedders
	if e.Structural == nil || e.Primary == nil || e.Relationship == nil || e.Routing == nil {
		return errors.New("lexshard: all four space embedders required (use WithEmbedders)")
	}
	d := cfg.dims
	if d.Structural <= 0 || d.Primary <= 0 || d.Relationship <= 0 || d.Routing <= 0 {
		return errors.New("lexshard: positive dimensions required for all four spaces")
	}
	return nil
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig) (*Client, error) {
	repo := graph.New(store, graph.Dims{
		Structural:   cfg.dims.Structural,
		Primary:      cfg.dims.Primary,
		Relationship: cfg.dims.Relationship,
		Routing:      cfg.dims.Routing,
	})
	if cfg.hnswM > 0 || cfg.hnswEFConstruct > 0 {
		repo = repo.WithHNSW(graph.HNSWConfig{
			M:           cfg.hnswM,
			EFConstruct: cfg.hnswEFConstruct,
		})
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("lexshard: ensure indexes: %w", err)
	}

	structural := &embedderAdapter{inner: cfg.embedders.Structural}
	primary := &embedderAdapter{inner: cfg.embedders.Primary}
	relationship := &embedderAdapter{inner: cfg.embedders.Relationship}
	routing := &embedderAdapter{inner: cfg.embedders.Routing}

	// Pass nil interfaces (not typed nil pointers) when no LLM is configured.
	var namer registryuc.Namer
	var workerLLM worker.LLM
	var routerLLM routeruc.LLM
	if cfg.llm != nil {
		adapter := &llmAdapter{inner: cfg.llm}
		namer, workerLLM, routerLLM = adapter, adapter, adapter
	}

	registrySvc := registryuc.New(repo, namer, registryuc.Config{
		MinDomainSize:         cfg.registry.MinDomainSize,
		MaxDomainSize:         cfg.registry.MaxDomainSize,
		AssignThreshold:       cfg.registry.AssignThreshold,
		NeighborXRefMin:       cfg.registry.NeighborXRefMin,
		ClusteringMinNodes:    cfg.registry.ClusteringMinNodes,
		KMeansMaxIterations:   cfg.registry.KMeansMaxIterations,
		VectorThreshold:       cfg.search.VectorThreshold,
		RelationshipThreshold: cfg.search.RelationshipThreshold,
		ExpansionThreshold:    cfg.search.ExpansionThreshold,
	}, cfg.logger)
	if err := registrySvc.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("lexshard: bootstrap registry: %w", err)
	}

	workerSvc := worker.New(repo, structural, primary, workerLLM, registrySvc,
		worker.Config{RRFK: cfg.search.RRFK}, cfg.logger)

	routerSvc := routeruc.New(registrySvc, workerSvc, routing, routerLLM, nil,
		routeruc.Config{
			FanoutDomains:        cfg.search.FanoutDomains,
			BranchTimeout:        cfg.search.BranchTimeout,
			BudgetTimeout:        cfg.search.BudgetTimeout,
			DisableCollaboration: cfg.search.DisableCollaboration,
			DefaultLimit:         cfg.search.DefaultLimit,
		}, cfg.logger)

	ingestSvc, err := ingestuc.New(repo, structural, primary, relationship, routing,
		registrySvc, ingestuc.Config{PoolSize: cfg.ingestPoolSize}, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("lexshard: create ingestor: %w", err)
	}

	return &Client{
		store:    store,
		search:   routerSvc,
		registry: registrySvc,
		ingest:   ingestSvc,
		release:  ingestSvc.Release,
	}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.release != nil {
		c.release()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// embedderAdapter wraps the public Embedder to satisfy the internal embedding
// contracts, with per-text fallback when the inner has no native batching.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := a.inner.(BatchEmbedder); ok {
		r, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		return domain.BatchEmbeddingResult{
			Embeddings:   r.Embeddings,
			PromptTokens: r.PromptTokens,
			TotalTokens:  r.TotalTokens,
		}, nil
	}
	res, err := domain.BatchFallback(ctx, a, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed fallback: %w", err)
	}
	return res, nil
}

// llmAdapter wraps the public LLM to satisfy the internal chat contracts.
type llmAdapter struct {
	inner LLM
}

func (a *llmAdapter) Complete(ctx context.Context, system, prompt string) (string, error) {
	return a.inner.Complete(ctx, system, prompt)
}

func (a *llmAdapter) CompleteJSON(ctx context.Context, system, prompt string) (string, error) {
	return a.inner.CompleteJSON(ctx, system, prompt)
}
