package domain

import "time"

// Default sizing and similarity thresholds for the domain registry.
const (
	// MinDomainSize is the floor below which a domain becomes a merge candidate.
	MinDomainSize = 50
	// MaxDomainSize is the ceiling above which a domain is split.
	MaxDomainSize = 500
	// AssignSimilarityThreshold is the minimum centroid similarity for
	// incremental assignment; below it a new singleton domain is created.
	AssignSimilarityThreshold = 0.70
	// NeighborCrossRefThreshold is the minimum cross-reference count between
	// two domains' member sets for them to become neighbors.
	NeighborCrossRefThreshold = 10
	// InitialClusteringMinNodes is the unassigned-node count above which
	// initial clustering runs instead of incremental assignment.
	InitialClusteringMinNodes = 100
)

// Domain is one semantic shard of the corpus: a named subset of nodes served
// by a dedicated worker. Membership is exclusive — a node belongs to exactly
// one domain at any stable point.
type Domain struct {
	ID   string
	Name string
	Slug string // worker slug used for neighbor addressing

	// NodeIDs is the member set. Mutated only by the registry under its
	// single-writer lock.
	NodeIDs map[string]struct{}

	// Centroid is the mean routing-space embedding of the members. It is
	// recomputed on every membership change, before any routing read.
	Centroid []float32

	// NeighborIDs are domains connected through the cross-reference network.
	NeighborIDs map[string]struct{}

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Size returns the member count.
func (d *Domain) Size() int { return len(d.NodeIDs) }

// MemberIDs returns the member node ids as a slice.
func (d *Domain) MemberIDs() []string {
	ids := make([]string, 0, len(d.NodeIDs))
	for id := range d.NodeIDs {
		ids = append(ids, id)
	}
	return ids
}

// Descriptor is the pure-value projection of a Domain handed to its worker.
// Workers are constructed from descriptors and never mutated independently;
// the registry rebuilds the descriptor whenever membership or neighbors change.
type Descriptor struct {
	ID            string
	Name          string
	Slug          string
	MemberIDs     []string
	NeighborSlugs []string

	// Centroid is the routing-space centroid copied from the Domain at
	// snapshot time; the router ranks descriptors by it.
	Centroid []float32

	// Retrieval thresholds for the worker pipeline.
	VectorThreshold       float64 // dense stage acceptance
	RelationshipThreshold float64 // relationship stage acceptance
	ExpansionThreshold    float64 // graph-expansion admission (structural space)
}

// DefaultThresholds fills zero-valued thresholds with pipeline defaults.
func (d Descriptor) DefaultThresholds() Descriptor {
	if d.VectorThreshold == 0 {
		d.VectorThreshold = 0.5
	}
	if d.RelationshipThreshold == 0 {
		d.RelationshipThreshold = 0.65
	}
	if d.ExpansionThreshold == 0 {
		d.ExpansionThreshold = 0.75
	}
	return d
}
