package registry

import (
	"context"

	"github.com/lexshard/lexshard/internal/domain"
)

// Repository defines the graph-store contract for domain lifecycle operations.
type Repository interface {
	LoadDomains(ctx context.Context) ([]domain.DomainRecord, error)
	UpsertDomain(ctx context.Context, rec domain.DomainRecord) error
	DeleteDomainCascade(ctx context.Context, id string) error
	BatchAssignNodes(ctx context.Context, domainID string, nodeIDs []string, similarities []float64) error
	UnassignedNodes(ctx context.Context) ([]domain.NodeRecord, error)
	FetchRoutingEmbeddings(ctx context.Context, nodeIDs []string) (map[string][]float32, error)
	CrossReferenceCount(ctx context.Context, memberIDs []string, otherDomainID string) (int, error)
}

// Namer produces human names for newly created domains. A nil namer is
// allowed; fallback names are used instead.
type Namer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}
