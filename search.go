package lexshard

import (
	"context"
	"fmt"
	"sort"

	"github.com/lexshard/lexshard/internal/domain"
	routeruc "github.com/lexshard/lexshard/internal/usecase/router"
)

// SearchOptions configures a routed search.
type SearchOptions struct {
	// Limit caps the result count. Zero uses the engine default.
	Limit int
	// Synthesize asks the LLM for a grounded answer over the top results.
	Synthesize bool
}

// Search routes the query across domains: ranks domains by routing vector and
// LLM confidence, runs the retrieval pipeline in the best domain, and fans out
// to collaborating domains when the primary results look insufficient.
func (c *Client) Search(ctx context.Context, query string, opts *SearchOptions) (SearchOutcome, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}

	outcome, err := c.search.ExecuteSearch(ctx, query, opts.Limit, opts.Synthesize)
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("search: %w", err)
	}
	return fromOutcome(outcome), nil
}

// SearchDomain runs the retrieval pipeline inside one domain, without routing
// or collaboration.
func (c *Client) SearchDomain(ctx context.Context, domainID, query string, limit int) (SearchOutcome, error) {
	outcome, err := c.search.SearchDomain(ctx, domainID, query, limit)
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("search domain: %w", err)
	}
	return fromOutcome(outcome), nil
}

func fromOutcome(o *routeruc.Outcome) SearchOutcome {
	results := make([]SearchResult, 0, len(o.Results))
	for i := range o.Results {
		results = append(results, fromSearchResult(&o.Results[i]))
	}
	return SearchOutcome{
		Results: results,
		Stats: SearchStats{
			TotalResults:           o.Stats.TotalResults,
			ByStage:                o.Stats.ByStage,
			BySource:               o.Stats.BySource,
			CollaborationTriggered: o.Stats.CollaborationTriggered,
			CollaborationResults:   o.Stats.CollaborationResults,
			BranchErrors:           o.Stats.BranchErrors,
		},
		DomainID:          o.DomainID,
		DomainName:        o.DomainName,
		DomainsQueried:    o.DomainsQueried,
		A2ADomains:        o.A2ADomains,
		ResponseTimeMs:    o.ResponseTimeMs,
		SynthesizedAnswer: o.SynthesizedAnswer,
	}
}

func fromSearchResult(r *domain.SearchResult) SearchResult {
	out := SearchResult{
		NodeID:           r.NodeID,
		Content:          r.Content,
		Path:             r.Path,
		FullID:           r.FullID,
		Similarity:       r.Similarity,
		DomainID:         r.DomainID,
		SourceDomain:     r.SourceDomainName,
		ViaCollaboration: r.ViaCollaboration,
	}

	if len(r.Stages) > 0 {
		stages := make([]string, 0, len(r.Stages))
		for st := range r.Stages {
			stages = append(stages, string(st))
		}
		sort.Strings(stages)
		out.Stages = stages
	}

	if r.Metadata != nil {
		out.Metadata = &ResultMetadata{
			SourceName: r.Metadata.SourceName,
			SourceType: r.Metadata.SourceType,
			UnitNumber: r.Metadata.UnitNumber,
			Title:      r.Metadata.Title,
		}
	}
	return out
}
