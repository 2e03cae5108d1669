package router

import (
	"context"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/usecase/worker"
)

// Registry exposes the routing view of the domain table.
type Registry interface {
	Snapshot() []domain.Descriptor
	Count() int
}

// Worker is the stateless domain worker shared by every shard.
type Worker interface {
	Search(ctx context.Context, desc domain.Descriptor, query string, limit int) ([]domain.SearchResult, error)
	AssessQueryConfidence(ctx context.Context, desc domain.Descriptor, query string) (worker.Assessment, error)
	ShouldCollaborate(ctx context.Context, desc domain.Descriptor, query string,
		localResults []domain.SearchResult, candidateNames []string) []worker.CollaborationRequest
	HandleA2ARequest(ctx context.Context, desc domain.Descriptor, req worker.A2ARequest) worker.A2AResponse
}

// Embedder vectorizes queries in the routing embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// LLM produces the optional synthesized answer. A nil LLM uses the
// templated fallback.
type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// DiversityFilter rebalances a ranked result list across structural
// document-type categories. Implementations must keep the global best
// result first and never invent results.
type DiversityFilter interface {
	Rebalance(results []domain.SearchResult, limit int) []domain.SearchResult
}
