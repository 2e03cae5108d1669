package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the lexshard API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	Index     IndexConfig     `yaml:"index"`
	Registry  RegistryConfig  `yaml:"registry"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds HNSW index build settings.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds embedding settings. Vectorizers must define the four
// embedding spaces: structural, primary, relationship, routing.
type EmbeddingConfig struct {
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey  string       `yaml:"api_key"`
	BaseURL string       `yaml:"base_url"`
	Budget  BudgetConfig `yaml:"budget"`
}

// BudgetConfig limits token spend per provider. Zero limits mean unlimited.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"`
	Action            string `yaml:"action"` // warn (default) or reject
}

// VectorizerConfig holds vectorizer settings for one embedding space.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// LLMConfig holds chat completion provider settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // key into embedding.providers
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RegistryConfig holds domain lifecycle settings.
type RegistryConfig struct {
	MinDomainSize       int     `yaml:"min_domain_size"`
	MaxDomainSize       int     `yaml:"max_domain_size"`
	AssignThreshold     float64 `yaml:"assign_threshold"`
	NeighborXRefMin     int     `yaml:"neighbor_xref_min"`
	ClusteringMinNodes  int     `yaml:"clustering_min_nodes"`
	KMeansMaxIterations int     `yaml:"kmeans_max_iterations"`
}

// SearchConfig holds retrieval pipeline settings.
type SearchConfig struct {
	VectorThreshold       float64 `yaml:"vector_threshold"`
	RelationshipThreshold float64 `yaml:"relationship_threshold"`
	ExpansionThreshold    float64 `yaml:"expansion_threshold"`
	RRFK                  int     `yaml:"rrf_k"`
	DefaultTopN           int     `yaml:"default_top_n"`
	MaxTopN               int     `yaml:"max_top_n"`
	FanoutDomains         int     `yaml:"fanout_domains"`
	BranchTimeoutSec      int     `yaml:"branch_timeout_sec"`
	BudgetTimeoutSec      int     `yaml:"budget_timeout_sec"`
	DisableCollaboration  bool    `yaml:"disable_collaboration"`
}

// IngestConfig holds corpus ingestion settings.
type IngestConfig struct {
	PoolSize     int `yaml:"pool_size"`
	EmbedBatch   int `yaml:"embed_batch"`
	MaxBatchSize int `yaml:"max_batch_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Registry.MinDomainSize <= 0 {
		c.Registry.MinDomainSize = 50
	}
	if c.Registry.MaxDomainSize <= 0 {
		c.Registry.MaxDomainSize = 500
	}
	if c.Registry.AssignThreshold <= 0 {
		c.Registry.AssignThreshold = 0.70
	}
	if c.Registry.NeighborXRefMin <= 0 {
		c.Registry.NeighborXRefMin = 10
	}
	if c.Registry.ClusteringMinNodes <= 0 {
		c.Registry.ClusteringMinNodes = 100
	}
	if c.Registry.KMeansMaxIterations <= 0 {
		c.Registry.KMeansMaxIterations = 50
	}
	if c.Search.VectorThreshold <= 0 {
		c.Search.VectorThreshold = 0.5
	}
	if c.Search.RelationshipThreshold <= 0 {
		c.Search.RelationshipThreshold = 0.65
	}
	if c.Search.ExpansionThreshold <= 0 {
		c.Search.ExpansionThreshold = 0.75
	}
	if c.Search.RRFK <= 0 {
		c.Search.RRFK = 60
	}
	if c.Search.DefaultTopN <= 0 {
		c.Search.DefaultTopN = 10
	}
	if c.Search.MaxTopN <= 0 {
		c.Search.MaxTopN = 50
	}
	if c.Search.FanoutDomains <= 0 {
		c.Search.FanoutDomains = 3
	}
	if c.Search.BranchTimeoutSec <= 0 {
		c.Search.BranchTimeoutSec = 10
	}
	if c.Search.BudgetTimeoutSec <= 0 {
		c.Search.BudgetTimeoutSec = 20
	}
	if c.Ingest.PoolSize <= 0 {
		c.Ingest.PoolSize = 8
	}
	if c.Ingest.EmbedBatch <= 0 {
		c.Ingest.EmbedBatch = 32
	}
	if c.Ingest.MaxBatchSize <= 0 {
		c.Ingest.MaxBatchSize = 1000
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	for _, space := range []string{"structural", "primary", "relationship", "routing"} {
		v, ok := c.Embedding.Vectorizers[space]
		if !ok {
			return fmt.Errorf("embedding.vectorizers.%s is required", space)
		}
		if _, ok := c.Embedding.Providers[v.Provider]; !ok {
			return fmt.Errorf("embedding.vectorizers.%s references unknown provider %q", space, v.Provider)
		}
		if v.Dimensions <= 0 {
			return fmt.Errorf("embedding.vectorizers.%s.dimensions must be positive", space)
		}
	}
	if c.LLM.Model != "" {
		if _, ok := c.Embedding.Providers[c.LLM.Provider]; !ok {
			return fmt.Errorf("llm.provider references unknown provider %q", c.LLM.Provider)
		}
	}
	if c.Registry.MinDomainSize >= c.Registry.MaxDomainSize {
		return fmt.Errorf("registry.min_domain_size must be below max_domain_size")
	}
	if c.Search.BranchTimeoutSec > c.Search.BudgetTimeoutSec {
		return fmt.Errorf("search.branch_timeout_sec must not exceed budget_timeout_sec")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
