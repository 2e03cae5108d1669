package lexshard

import (
	"context"
	"fmt"

	"github.com/lexshard/lexshard/internal/domain"
	ingestuc "github.com/lexshard/lexshard/internal/usecase/ingest"
)

// Ingest embeds a batch of leaf units in all four spaces, persists nodes,
// container units and parent edges, and assigns the new nodes to domains.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	units := make([]domain.LeafUnit, len(req.Units))
	for i, u := range req.Units {
		units[i] = domain.LeafUnit{
			UnitNumber: u.UnitNumber,
			Title:      u.Title,
			Content:    u.Content,
			Path:       u.Path,
			FullID:     u.FullID,
		}
	}

	res, err := c.ingest.Ingest(ctx, ingestuc.Request{
		SourceName: req.SourceName,
		SourceType: req.SourceType,
		Units:      units,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: %w", err)
	}
	return IngestResult{
		NodesCreated: res.NodesCreated,
		UnitsCreated: res.UnitsCreated,
		EdgesCreated: res.EdgesCreated,
		Assigned:     res.Assigned,
	}, nil
}
