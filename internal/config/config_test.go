package config

import "testing"

func validVectorizers() (map[string]ProviderConfig, map[string]VectorizerConfig) {
	providers := map[string]ProviderConfig{
		"nebius": {
			APIKey:  "test-key",
			BaseURL: "https://api.example.com/v1/",
		},
	}
	vectorizers := map[string]VectorizerConfig{
		"structural":   {Provider: "nebius", Model: "m", Dimensions: 1024},
		"primary":      {Provider: "nebius", Model: "m", Dimensions: 1536},
		"relationship": {Provider: "nebius", Model: "m", Dimensions: 1024},
		"routing":      {Provider: "nebius", Model: "m", Dimensions: 768},
	}
	return providers, vectorizers
}

func TestValidate_Valid(t *testing.T) {
	providers, vectorizers := validVectorizers()
	cfg := Config{
		HTTP:      HTTPConfig{Port: 8080},
		Database:  DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Embedding: EmbeddingConfig{Providers: providers, Vectorizers: vectorizers},
		LLM:       LLMConfig{Provider: "nebius", Model: "chat-model"},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingVectorizerSpace(t *testing.T) {
	providers, vectorizers := validVectorizers()
	delete(vectorizers, "routing")

	cfg := Config{
		HTTP:      HTTPConfig{Port: 8080},
		Database:  DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Embedding: EmbeddingConfig{Providers: providers, Vectorizers: vectorizers},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing routing vectorizer")
	}

	expected := "embedding.vectorizers.routing is required"
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_UnknownVectorizerProvider(t *testing.T) {
	providers, vectorizers := validVectorizers()
	vectorizers["primary"] = VectorizerConfig{Provider: "missing", Model: "m", Dimensions: 1536}

	cfg := Config{
		HTTP:      HTTPConfig{Port: 8080},
		Database:  DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Embedding: EmbeddingConfig{Providers: providers, Vectorizers: vectorizers},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider reference")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 0},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Addrs: []string{},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_BranchTimeoutAboveBudget(t *testing.T) {
	providers, vectorizers := validVectorizers()
	cfg := Config{
		HTTP:      HTTPConfig{Port: 8080},
		Database:  DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Embedding: EmbeddingConfig{Providers: providers, Vectorizers: vectorizers},
		Search:    SearchConfig{BranchTimeoutSec: 30, BudgetTimeoutSec: 20},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for branch timeout above budget")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 30 {
		t.Errorf("expected WriteTimeoutSec=30, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Database.ReadinessTimeout != 10 {
		t.Errorf("expected ReadinessTimeout=10, got %d", cfg.Database.ReadinessTimeout)
	}
	if cfg.Index.HNSWM != 32 {
		t.Errorf("expected HNSWM=32, got %d", cfg.Index.HNSWM)
	}
	if cfg.Index.HNSWEFConstruct != 400 {
		t.Errorf("expected HNSWEFConstruct=400, got %d", cfg.Index.HNSWEFConstruct)
	}
	if cfg.Registry.MinDomainSize != 50 {
		t.Errorf("expected MinDomainSize=50, got %d", cfg.Registry.MinDomainSize)
	}
	if cfg.Registry.MaxDomainSize != 500 {
		t.Errorf("expected MaxDomainSize=500, got %d", cfg.Registry.MaxDomainSize)
	}
	if cfg.Registry.AssignThreshold != 0.70 {
		t.Errorf("expected AssignThreshold=0.70, got %v", cfg.Registry.AssignThreshold)
	}
	if cfg.Search.RRFK != 60 {
		t.Errorf("expected RRFK=60, got %d", cfg.Search.RRFK)
	}
	if cfg.Search.FanoutDomains != 3 {
		t.Errorf("expected FanoutDomains=3, got %d", cfg.Search.FanoutDomains)
	}
	if cfg.Search.BranchTimeoutSec != 10 || cfg.Search.BudgetTimeoutSec != 20 {
		t.Errorf("expected timeouts 10/20, got %d/%d", cfg.Search.BranchTimeoutSec, cfg.Search.BudgetTimeoutSec)
	}
	if cfg.Ingest.PoolSize != 8 {
		t.Errorf("expected PoolSize=8, got %d", cfg.Ingest.PoolSize)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Database: DatabaseConfig{ReadinessTimeout: 15},
		Index:    IndexConfig{HNSWM: 16, HNSWEFConstruct: 200},
		Registry: RegistryConfig{MinDomainSize: 20, MaxDomainSize: 200},
		Search:   SearchConfig{RRFK: 30, DefaultTopN: 5},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Index.HNSWM != 16 {
		t.Errorf("expected HNSWM=16, got %d", cfg.Index.HNSWM)
	}
	if cfg.Registry.MinDomainSize != 20 {
		t.Errorf("expected MinDomainSize=20, got %d", cfg.Registry.MinDomainSize)
	}
	if cfg.Search.RRFK != 30 {
		t.Errorf("expected RRFK=30, got %d", cfg.Search.RRFK)
	}
}
