package worker

import (
	"sort"

	"github.com/lexshard/lexshard/internal/domain"
)

// defaultRRFK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const defaultRRFK = 60

// fused is one node after rank fusion: the merged result plus its RRF score.
type fused struct {
	res domain.SearchResult
	rrf float64
}

// fuseRRF merges the stage ranked lists via Reciprocal Rank Fusion:
// score(node) += 1/(k+rank+1) per list containing it. Duplicate nodes merge
// stage tags and keep the highest observed similarity. The output is ordered
// by fused score, ties broken by node id so fusion stays deterministic.
func fuseRRF(lists [][]domain.SearchResult, k int) []fused {
	if k <= 0 {
		k = defaultRRFK
	}

	merged := make(map[string]*fused)
	for _, list := range lists {
		for rank, r := range list {
			s := 1.0 / float64(k+rank+1)
			if existing, ok := merged[r.NodeID]; ok {
				existing.rrf += s
				existing.res.MergeFrom(&r)
			} else {
				merged[r.NodeID] = &fused{res: r, rrf: s}
			}
		}
	}

	out := make([]fused, 0, len(merged))
	for _, f := range merged {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rrf != out[j].rrf {
			return out[i].rrf > out[j].rrf
		}
		return out[i].res.NodeID < out[j].res.NodeID
	})
	return out
}
