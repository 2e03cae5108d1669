package domain

// Stage identifies which retrieval stage produced (or touched) a result.
type Stage string

const (
	// StageExact is the structural-identifier exact match stage.
	StageExact Stage = "exact"
	// StageVector is the dense nearest-neighbor stage.
	StageVector Stage = "vector"
	// StageRelationship is the relationship-embedding stage.
	StageRelationship Stage = "relationship"
	// StageUnit is the coarse container-unit stage.
	StageUnit Stage = "unit"
	// StageExpansion is the structural graph-expansion stage.
	StageExpansion Stage = "graph-expansion"
	// StageChild is the container-to-children expansion stage.
	StageChild Stage = "child-expansion"
)

// SearchResult is a single scored hit flowing through fusion, expansion and
// the router merge. Stage tags accumulate as lists are fused.
type SearchResult struct {
	NodeID     string
	Content    string
	Path       string
	FullID     string
	Similarity float64
	Stages     map[Stage]struct{}

	DomainID string

	// Collaboration provenance, set by the router on fanned-out results.
	SourceDomainName string
	RefinedQuery     string
	ViaCollaboration bool

	// Document-level enrichment for top results.
	Metadata *NodeMetadata
}

// AddStage unions a stage tag into the result.
func (r *SearchResult) AddStage(s Stage) {
	if r.Stages == nil {
		r.Stages = make(map[Stage]struct{}, 2)
	}
	r.Stages[s] = struct{}{}
}

// HasStage reports whether the result carries the given stage tag.
func (r *SearchResult) HasStage(s Stage) bool {
	_, ok := r.Stages[s]
	return ok
}

// MergeFrom unions the other result's stage tags and keeps the highest
// observed similarity. Content fields are kept from the receiver.
func (r *SearchResult) MergeFrom(other *SearchResult) {
	for s := range other.Stages {
		r.AddStage(s)
	}
	if other.Similarity > r.Similarity {
		r.Similarity = other.Similarity
	}
}
