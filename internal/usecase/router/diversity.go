package router

import "github.com/lexshard/lexshard/internal/domain"

// CategoryRoundRobin is the default diversity filter: it keeps the global
// best result in place, then interleaves the remainder round-robin across
// document-type categories so no single category crowds out the others.
// Within a category the original ranking is preserved.
type CategoryRoundRobin struct{}

// Rebalance implements DiversityFilter.
func (CategoryRoundRobin) Rebalance(results []domain.SearchResult, limit int) []domain.SearchResult {
	if len(results) <= 1 {
		return results
	}
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}

	out := make([]domain.SearchResult, 0, limit)
	out = append(out, results[0])

	// Bucket the tail by category in first-appearance order.
	var order []string
	buckets := make(map[string][]domain.SearchResult)
	for _, r := range results[1:] {
		c := resultCategory(r)
		if _, ok := buckets[c]; !ok {
			order = append(order, c)
		}
		buckets[c] = append(buckets[c], r)
	}

	for len(out) < limit {
		appended := false
		for _, c := range order {
			if len(buckets[c]) == 0 {
				continue
			}
			out = append(out, buckets[c][0])
			buckets[c] = buckets[c][1:]
			appended = true
			if len(out) == limit {
				break
			}
		}
		if !appended {
			break
		}
	}
	return out
}

func resultCategory(r domain.SearchResult) string {
	if r.Metadata != nil && r.Metadata.SourceType != "" {
		return r.Metadata.SourceType
	}
	return "uncategorized"
}
