package lexshard

import (
	"context"
	"time"
)

// EmbeddingResult carries one embedding vector and its token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder is an optional extension of Embedder with native batching.
// Embedders that do not implement it fall back to per-text calls.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// LLM answers chat prompts. Optional: without it the engine skips domain
// naming, confidence assessment, collaboration planning and synthesis.
type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	CompleteJSON(ctx context.Context, system, prompt string) (string, error)
}

// Embedders binds one embedder per embedding space.
type Embedders struct {
	Structural   Embedder
	Primary      Embedder
	Relationship Embedder
	Routing      Embedder
}

// Dimensions declares the dimensionality of each embedding space.
type Dimensions struct {
	Structural   int
	Primary      int
	Relationship int
	Routing      int
}

// Unit is one leaf provision of a statutory source.
type Unit struct {
	UnitNumber string
	Title      string
	Content    string
	Path       string
	FullID     string
}

// IngestRequest is a batch of leaf units from one source document.
type IngestRequest struct {
	SourceName string
	SourceType string
	Units      []Unit
}

// IngestResult reports what one ingest batch produced.
type IngestResult struct {
	NodesCreated int
	UnitsCreated int
	EdgesCreated int
	Assigned     int
}

// ResultMetadata is document-level enrichment on top results.
type ResultMetadata struct {
	SourceName string
	SourceType string
	UnitNumber string
	Title      string
}

// SearchResult is one retrieved provision.
type SearchResult struct {
	NodeID           string
	Content          string
	Path             string
	FullID           string
	Similarity       float64
	Stages           []string
	DomainID         string
	SourceDomain     string
	ViaCollaboration bool
	Metadata         *ResultMetadata
}

// SearchStats summarizes one search execution.
type SearchStats struct {
	TotalResults           int
	ByStage                map[string]int
	BySource               map[string]int
	CollaborationTriggered bool
	CollaborationResults   int
	BranchErrors           int
}

// SearchOutcome is the full response of a routed search.
type SearchOutcome struct {
	Results           []SearchResult
	Stats             SearchStats
	DomainID          string
	DomainName        string
	DomainsQueried    []string
	A2ADomains        []string
	ResponseTimeMs    int64
	SynthesizedAnswer string
}

// DomainInfo describes one registered semantic domain.
type DomainInfo struct {
	ID            string
	Name          string
	Slug          string
	NodeCount     int
	NeighborCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
