package domain

import "time"

// EdgeKind enumerates structural relationship kinds in the corpus graph.
type EdgeKind string

const (
	// EdgeParent links a leaf unit to its container.
	EdgeParent EdgeKind = "parent"
	// EdgeChild links a container to a leaf unit.
	EdgeChild EdgeKind = "child"
	// EdgeImplements is a cross-reference: the source implements the target.
	EdgeImplements EdgeKind = "implements"
	// EdgeDerivedFrom is a cross-reference: the source is derived from the target.
	EdgeDerivedFrom EdgeKind = "derived-from"
	// EdgeCites is a cross-reference: the source's text cites the target.
	EdgeCites EdgeKind = "cites"
)

// Edge is one directed structural relationship between nodes.
type Edge struct {
	From string
	To   string
	Kind EdgeKind
}

// NodeRecord is the full persisted shape of a node, including the vectors of
// every embedding space it participates in.
type NodeRecord struct {
	Node
	SourceName string
	SourceType string

	// StructuralEmbedding lives in the small structural space used only by
	// graph expansion.
	StructuralEmbedding []float32
	// RelationshipEmbedding lives in the relationship index space.
	RelationshipEmbedding []float32
	// RoutingEmbedding lives in the domain-routing space; domain centroids
	// are averages of these.
	RoutingEmbedding []float32
}

// UnitRecord is a persisted container unit: a coarser grouping of leaf units
// embedded in the primary space.
type UnitRecord struct {
	ID         string
	UnitNumber string
	Title      string
	Content    string
	Path       string
	// Embedding is in the primary space, same as leaf node content embeddings.
	Embedding []float32
}

// RelatedNode is a node reached through graph expansion, carrying the
// structural-space vector used for admission.
type RelatedNode struct {
	ID                  string
	Content             string
	Path                string
	FullID              string
	StructuralEmbedding []float32
}

// ChildNode is a leaf unit fetched during container-to-children expansion,
// carrying the primary-space vector used for scoring.
type ChildNode struct {
	ID        string
	Content   string
	Path      string
	FullID    string
	Embedding []float32
}

// DomainRecord is the persisted shape of a domain loaded at bootstrap.
type DomainRecord struct {
	ID          string
	Name        string
	Slug        string
	Centroid    []float32
	MemberIDs   []string
	NeighborIDs []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
