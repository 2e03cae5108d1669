package worker

import (
	"context"

	"github.com/lexshard/lexshard/internal/domain"
)

// Repository defines the graph-store contract for the retrieval pipeline.
type Repository interface {
	FindByUnitNumber(ctx context.Context, domainID, unitNumber string) ([]domain.SearchResult, error)
	FindNearestByVector(ctx context.Context, domainID string, vector []float32, k int) ([]domain.SearchResult, error)
	FindNearestByRelationshipVector(ctx context.Context, domainID string, vector []float32, k int) ([]domain.SearchResult, error)
	FindNearestUnits(ctx context.Context, domainID string, vector []float32, k int, excludePath string) ([]domain.SearchResult, error)
	FindChildUnits(ctx context.Context, unitID string, limit int) ([]domain.ChildNode, error)
	TraverseRelated(ctx context.Context, seedIDs []string) ([]domain.RelatedNode, error)
	FindParentTitledAncestor(ctx context.Context, nodeID string) (domain.NodeMetadata, error)
	NodeMetadataFor(ctx context.Context, nodeIDs []string) (map[string]domain.NodeMetadata, error)
}

// Embedder vectorizes query text for one embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// LLM answers assessment and collaboration prompts. A nil LLM degrades both
// to conservative defaults.
type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	CompleteJSON(ctx context.Context, system, prompt string) (string, error)
}

// Resolver maps a neighbor worker slug to its current descriptor.
type Resolver interface {
	DescriptorBySlug(slug string) (domain.Descriptor, bool)
}
