package ingest

import (
	"context"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/usecase/registry"
)

// Repository is the graph-store write surface for ingestion.
type Repository interface {
	CreateNodes(ctx context.Context, nodes []domain.NodeRecord) error
	UpsertUnits(ctx context.Context, units []domain.UnitRecord) error
	AddEdges(ctx context.Context, edges []domain.Edge) error
}

// Assigner hands freshly ingested nodes to the domain registry.
type Assigner interface {
	AssignNodes(ctx context.Context, candidates []registry.Candidate) error
}
