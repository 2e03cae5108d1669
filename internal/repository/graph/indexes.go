package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexshard/lexshard/internal/db"
)

// HNSWConfig tunes the vector index build parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Dims declares the dimensionality of each embedding space. The three spaces
// are distinct by contract; index creation enforces the declared sizes.
type Dims struct {
	Structural   int
	Primary      int
	Relationship int
	Routing      int
}

// EnsureIndexes creates the three FT indexes if they do not already exist.
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	defs := []*db.IndexDefinition{
		{
			Name:     contentIndexName,
			Prefixes: []string{nodeKeyPrefix},
			Fields: []db.IndexField{
				{Name: "domain", Type: db.IndexFieldTag},
				{Name: "unit_number", Type: db.IndexFieldTag},
				{Name: "path", Type: db.IndexFieldTag},
				{
					Name: "embedding", Type: db.IndexFieldVector,
					VectorDim: r.dims.Primary,
					VectorM:   r.hnsw.M, VectorEFConstruct: r.hnsw.EFConstruct,
				},
			},
		},
		{
			Name:     relationIndexName,
			Prefixes: []string{nodeKeyPrefix},
			Fields: []db.IndexField{
				{Name: "domain", Type: db.IndexFieldTag},
				{
					Name: "rel_embedding", Type: db.IndexFieldVector,
					VectorDim: r.dims.Relationship,
					VectorM:   r.hnsw.M, VectorEFConstruct: r.hnsw.EFConstruct,
				},
			},
		},
		{
			Name:     unitIndexName,
			Prefixes: []string{unitKeyPrefix},
			Fields: []db.IndexField{
				{Name: "domain", Type: db.IndexFieldTag},
				{Name: "path", Type: db.IndexFieldTag},
				{
					Name: "embedding", Type: db.IndexFieldVector,
					VectorDim: r.dims.Primary,
					VectorM:   r.hnsw.M, VectorEFConstruct: r.hnsw.EFConstruct,
				},
			},
		},
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("index %s: %w", def.Name, err)
		}
		if err := r.store.CreateIndex(ctx, def); err != nil {
			if errors.Is(err, db.ErrIndexExists) {
				continue
			}
			return fmt.Errorf("create index %s: %w", def.Name, err)
		}
	}
	return nil
}
