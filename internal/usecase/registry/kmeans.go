package registry

import (
	"fmt"

	"github.com/lexshard/lexshard/internal/domain"
)

// clustering is the outcome of one k-means run over routing-space vectors.
type clustering struct {
	assignments []int // vector index -> cluster index
	centroids   [][]float32
	k           int
}

// kMeans clusters vectors into k groups under the cosine metric.
// Initialization is deterministic farthest-point seeding from index 0, so
// identical inputs always produce identical clusterings.
func kMeans(vectors [][]float32, k, maxIterations int) (clustering, error) {
	if k < 1 || len(vectors) < k {
		return clustering{}, fmt.Errorf("k-means with %d vectors for k=%d: %w",
			len(vectors), k, domain.ErrInsufficientSamples)
	}

	centroids := seedCentroids(vectors, k)
	assignments := make([]int, len(vectors))

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		for c := range centroids {
			var members [][]float32
			for i, a := range assignments {
				if a == c {
					members = append(members, vectors[i])
				}
			}
			// Empty clusters keep their previous centroid.
			if len(members) > 0 {
				centroids[c] = domain.Centroid(members)
			}
		}

		if !changed {
			break
		}
	}

	return clustering{assignments: assignments, centroids: centroids, k: k}, nil
}

// seedCentroids picks k starting centroids by farthest-point traversal:
// vector 0, then repeatedly the vector with the lowest maximum similarity to
// any chosen seed.
func seedCentroids(vectors [][]float32, k int) [][]float32 {
	seeds := make([][]float32, 0, k)
	seeds = append(seeds, append([]float32(nil), vectors[0]...))

	for len(seeds) < k {
		bestIdx := -1
		bestSim := 2.0
		for i, v := range vectors {
			maxSim := -1.0
			for _, s := range seeds {
				if sim := domain.CosineSimilarity(v, s); sim > maxSim {
					maxSim = sim
				}
			}
			if maxSim < bestSim {
				bestSim = maxSim
				bestIdx = i
			}
		}
		seeds = append(seeds, append([]float32(nil), vectors[bestIdx]...))
	}
	return seeds
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestSim := -2.0
	for c, centroid := range centroids {
		if sim := domain.CosineSimilarity(v, centroid); sim > bestSim {
			bestSim = sim
			best = c
		}
	}
	return best
}

// separationSampleCap bounds the silhouette sample for large corpora.
const separationSampleCap = 256

// separationScore rates a clustering by a cosine silhouette over a sample:
// for each point, cohesion a = distance to own centroid, separation b =
// distance to the nearest foreign centroid, contribution (b-a)/max(a,b).
// Higher is better; range [-1, 1].
func separationScore(vectors [][]float32, cl clustering) float64 {
	if cl.k < 2 {
		return 0
	}

	step := 1
	if len(vectors) > separationSampleCap {
		step = len(vectors) / separationSampleCap
	}

	var total float64
	var count int
	for i := 0; i < len(vectors); i += step {
		own := cl.assignments[i]
		a := 1 - domain.CosineSimilarity(vectors[i], cl.centroids[own])

		b := 2.0
		for c, centroid := range cl.centroids {
			if c == own {
				continue
			}
			if d := 1 - domain.CosineSimilarity(vectors[i], centroid); d < b {
				b = d
			}
		}

		if denom := max(a, b); denom > 0 {
			total += (b - a) / denom
		}
		count++
	}

	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// chooseClustering runs k-means over the candidate k range and returns the
// clustering with the best separation score. The range is 5..15, further
// bounded so clusters average at least minClusterMean members, and never
// below 5 when that bound would collapse the range.
func chooseClustering(vectors [][]float32, minClusterMean, maxIterations int) (clustering, error) {
	lowK := 5
	highK := min(15, max(lowK, len(vectors)/minClusterMean))
	if highK > len(vectors) {
		highK = len(vectors)
	}
	if lowK > highK {
		lowK = highK
	}

	var best clustering
	bestScore := -2.0
	for k := lowK; k <= highK; k++ {
		cl, err := kMeans(vectors, k, maxIterations)
		if err != nil {
			return clustering{}, err
		}
		if score := separationScore(vectors, cl); score > bestScore {
			bestScore = score
			best = cl
		}
	}
	if best.k == 0 {
		return clustering{}, domain.ErrInsufficientSamples
	}
	return best, nil
}
