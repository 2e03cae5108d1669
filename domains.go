package lexshard

import (
	"context"
	"fmt"
	"sort"

	"github.com/lexshard/lexshard/internal/domain"
)

// Domains lists registered semantic domains, sorted by name.
func (c *Client) Domains() []DomainInfo {
	all := c.registry.List()
	out := make([]DomainInfo, 0, len(all))
	for i := range all {
		out = append(out, fromDomain(&all[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Domain resolves one domain by ID.
func (c *Client) Domain(id string) (DomainInfo, error) {
	d, err := c.registry.Get(id)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("domain: %w", err)
	}
	return fromDomain(&d), nil
}

// Rebalance walks the registry once: splits oversized domains and merges
// undersized ones into their nearest legal neighbor.
func (c *Client) Rebalance(ctx context.Context) error {
	if err := c.registry.Rebalance(ctx); err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	return nil
}

// RebuildNeighborNetwork recomputes the cross-reference neighbor links
// between all domains.
func (c *Client) RebuildNeighborNetwork(ctx context.Context) error {
	if err := c.registry.RebuildNeighborNetwork(ctx); err != nil {
		return fmt.Errorf("rebuild neighbor network: %w", err)
	}
	return nil
}

func fromDomain(d *domain.Domain) DomainInfo {
	return DomainInfo{
		ID:            d.ID,
		Name:          d.Name,
		Slug:          d.Slug,
		NodeCount:     d.Size(),
		NeighborCount: len(d.NeighborIDs),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
