package lexshard

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option func(*clientConfig)

// RegistryLimits tunes the domain lifecycle. Zero values use engine defaults.
type RegistryLimits struct {
	MinDomainSize       int
	MaxDomainSize       int
	AssignThreshold     float64
	NeighborXRefMin     int
	ClusteringMinNodes  int
	KMeansMaxIterations int
}

// SearchTuning tunes the retrieval pipeline and the scatter/gather router.
// Zero values use engine defaults.
type SearchTuning struct {
	VectorThreshold       float64
	RelationshipThreshold float64
	ExpansionThreshold    float64
	RRFK                  int
	DefaultLimit          int
	FanoutDomains         int
	BranchTimeout         time.Duration
	BudgetTimeout         time.Duration
	DisableCollaboration  bool
}

type clientConfig struct {
	addrs    []string
	username string
	password string
	db       int

	hnswM           int
	hnswEFConstruct int

	embedders Embedders
	dims      Dimensions
	llm       LLM

	registry RegistryLimits
	search   SearchTuning

	ingestPoolSize int
	logger         *zap.Logger
}

// WithRedis connects to a Redis 8+ deployment with search modules.
func WithRedis(addrs []string, username, password string, db int) Option {
	return func(c *clientConfig) {
		c.addrs = addrs
		c.username = username
		c.password = password
		c.db = db
	}
}

// WithHNSW tunes vector index build parameters.
func WithHNSW(m, efConstruct int) Option {
	return func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	}
}

// WithEmbedders binds an embedder and dimensionality to every embedding
// space. All four spaces are required.
func WithEmbedders(e Embedders, dims Dimensions) Option {
	return func(c *clientConfig) {
		c.embedders = e
		c.dims = dims
	}
}

// WithLLM attaches a chat provider for naming, assessment and synthesis.
func WithLLM(llm LLM) Option {
	return func(c *clientConfig) { c.llm = llm }
}

// WithRegistryLimits overrides domain lifecycle thresholds.
func WithRegistryLimits(limits RegistryLimits) Option {
	return func(c *clientConfig) { c.registry = limits }
}

// WithSearchTuning overrides retrieval and routing parameters.
func WithSearchTuning(tuning SearchTuning) Option {
	return func(c *clientConfig) { c.search = tuning }
}

// WithIngestPool sets the embedding worker pool size for ingestion.
func WithIngestPool(size int) Option {
	return func(c *clientConfig) { c.ingestPoolSize = size }
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}
