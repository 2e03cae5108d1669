// Package worker runs one domain's hybrid retrieval pipeline: staged search
// over the shard's member nodes, rank fusion, graph and child expansion,
// score normalization, and the collaboration surface used by the router.
package worker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/metrics"
)

// Pipeline tuning. Stage fan-in sizes follow the shape of the corpus: dense
// stages pull wide, expansion stages stay narrow and capped.
const (
	DefaultLimit = 30

	denseStageK    = 30
	relationStageK = 20
	unitStageK     = 10

	expansionSeeds  = 5
	childContainers = 10
	childrenPerUnit = 10

	// unitBoost lifts rank-fusion-scale scores of container-unit-only
	// results onto the cosine-similarity scale of the other stages.
	unitBoost = 40.0

	// lowValuePenalty demotes nodes under low-value structural paths.
	lowValuePenalty = 0.3
)

// lowValuePathMarkers designate structural subtrees that rarely answer
// substantive queries (transitional and annex material).
var lowValuePathMarkers = []string{"transitional", "appendix", "annex"}

// Config holds worker tuning shared by every domain.
type Config struct {
	RRFK int
}

// Service is the stateless domain worker. One instance serves every domain;
// each call receives the target domain's descriptor.
type Service struct {
	repo       Repository
	structural Embedder
	primary    Embedder
	llm        LLM      // nil disables assessment and collaboration planning
	resolver   Resolver // nil disables neighbor consultation
	cfg        Config
	logger     *zap.Logger
}

// New creates a domain worker service.
func New(repo Repository, structural, primary Embedder, llm LLM, resolver Resolver, cfg Config, logger *zap.Logger) *Service {
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	return &Service{
		repo:       repo,
		structural: structural,
		primary:    primary,
		llm:        llm,
		resolver:   resolver,
		cfg:        cfg,
		logger:     logger,
	}
}

// Search runs the full hybrid pipeline for one domain and returns up to
// limit enriched results, best first.
func (s *Service) Search(ctx context.Context, desc domain.Descriptor, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	desc = desc.DefaultThresholds()

	structuralVec, primaryVec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	lists := s.runStages(ctx, desc, query, primaryVec)

	fusedResults := fuseRRF(lists, s.cfg.RRFK)

	// Merged score per node: cosine similarity, except nodes seen only by
	// the container-unit stage which keep their boosted RRF score.
	scores := make(map[string]float64, len(fusedResults))
	byID := make(map[string]*domain.SearchResult, len(fusedResults))
	for i := range fusedResults {
		f := &fusedResults[i]
		f.res.DomainID = desc.ID
		byID[f.res.NodeID] = &f.res
		if unitOnly(&f.res) {
			scores[f.res.NodeID] = f.rrf * unitBoost
		} else {
			scores[f.res.NodeID] = f.res.Similarity
		}
	}

	s.expandGraph(ctx, desc, fusedResults, structuralVec, byID, scores)
	s.expandChildren(ctx, desc, fusedResults, primaryVec, byID, scores)

	results := s.finalize(byID, scores)
	if len(results) > limit {
		results = results[:limit]
	}
	s.enrich(ctx, results)

	metrics.SearchResultsReturned.WithLabelValues("domain").Observe(float64(len(results)))
	return results, nil
}

// embedQuery computes the structural and primary query vectors concurrently.
// The two spaces are distinct and never substituted for one another.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, []float32, error) {
	var structuralVec, primaryVec []float32

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.structural.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("structural query embedding: %w", err)
		}
		structuralVec = res.Embedding
		return nil
	})
	g.Go(func() error {
		res, err := s.primary.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("primary query embedding: %w", err)
		}
		primaryVec = res.Embedding
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return structuralVec, primaryVec, nil
}

// runStages executes the four independent retrieval stages concurrently and
// returns their ranked lists (order of lists is fixed, not arrival order).
// A failed stage degrades to an empty list; fusion proceeds over whatever
// the surviving stages returned.
func (s *Service) runStages(ctx context.Context, desc domain.Descriptor, query string, primaryVec []float32) [][]domain.SearchResult {
	lists := make([][]domain.SearchResult, 4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lists[0] = s.stageExact(gctx, desc, query)
		return nil
	})
	g.Go(func() error {
		defer observeStage("vector", time.Now())
		hits, err := s.repo.FindNearestByVector(gctx, desc.ID, primaryVec, denseStageK)
		if err != nil {
			s.logger.Warn("vector stage failed", zap.String("domain_id", desc.ID), zap.Error(err))
			return nil
		}
		lists[1] = tagAndFilter(hits, domain.StageVector, desc.VectorThreshold)
		return nil
	})
	g.Go(func() error {
		defer observeStage("relationship", time.Now())
		hits, err := s.repo.FindNearestByRelationshipVector(gctx, desc.ID, primaryVec, relationStageK)
		if err != nil {
			s.logger.Warn("relationship stage failed", zap.String("domain_id", desc.ID), zap.Error(err))
			return nil
		}
		lists[2] = tagAndFilter(hits, domain.StageRelationship, desc.RelationshipThreshold)
		return nil
	})
	g.Go(func() error {
		defer observeStage("unit", time.Now())
		hits, err := s.repo.FindNearestUnits(gctx, desc.ID, primaryVec, unitStageK, lowValuePathMarkers[0])
		if err != nil {
			s.logger.Warn("unit stage failed", zap.String("domain_id", desc.ID), zap.Error(err))
			return nil
		}
		lists[3] = tagAndFilter(hits, domain.StageUnit, 0)
		return nil
	})
	_ = g.Wait()
	return lists
}

// unitNumberPattern matches explicit structural identifiers in queries, e.g.
// "Article 17", "art. 5a", "§ 12.3".
var unitNumberPattern = regexp.MustCompile(`(?i)(?:article|art\.?|section|sec\.?|§)\s*(\d+[a-z]?(?:\.\d+)*)`)

// stageExact looks up nodes by unit numbers extracted from the query. Hits
// carry similarity 1.0. Store errors degrade to an empty stage.
func (s *Service) stageExact(ctx context.Context, desc domain.Descriptor, query string) []domain.SearchResult {
	defer observeStage("exact", time.Now())

	var out []domain.SearchResult
	for _, unitNumber := range extractUnitNumbers(query) {
		hits, err := s.repo.FindByUnitNumber(ctx, desc.ID, unitNumber)
		if err != nil {
			s.logger.Warn("exact stage lookup failed",
				zap.String("unit_number", unitNumber), zap.Error(err))
			continue
		}
		for _, h := range hits {
			h.Similarity = 1.0
			h.AddStage(domain.StageExact)
			out = append(out, h)
		}
	}
	return out
}

func extractUnitNumbers(query string) []string {
	matches := unitNumberPattern.FindAllStringSubmatch(query, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		n := strings.ToLower(m[1])
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// expandGraph traverses structural relationships from the top fused seeds,
// admitting reached nodes close enough to the structural query vector. The
// traversal deliberately crosses shard boundaries.
func (s *Service) expandGraph(
	ctx context.Context, desc domain.Descriptor, fusedResults []fused,
	structuralVec []float32, byID map[string]*domain.SearchResult, scores map[string]float64,
) {
	defer observeStage("expansion", time.Now())

	seeds := make([]string, 0, expansionSeeds)
	for i := 0; i < len(fusedResults) && i < expansionSeeds; i++ {
		seeds = append(seeds, fusedResults[i].res.NodeID)
	}
	if len(seeds) == 0 {
		return
	}

	related, err := s.repo.TraverseRelated(ctx, seeds)
	if err != nil {
		s.logger.Warn("graph expansion failed", zap.Error(err))
		return
	}

	for _, rn := range related {
		sim := domain.CosineSimilarity(structuralVec, rn.StructuralEmbedding)
		if sim < desc.ExpansionThreshold {
			continue
		}

		res := domain.SearchResult{
			NodeID:     rn.ID,
			Content:    rn.Content,
			Path:       rn.Path,
			FullID:     rn.FullID,
			Similarity: sim,
			DomainID:   desc.ID,
		}
		res.AddStage(domain.StageExpansion)
		mergeScored(byID, scores, res, sim)
	}
}

// expandChildren scores the leaf children of container-unit hits against the
// primary query vector, keeping those above the dense threshold.
func (s *Service) expandChildren(
	ctx context.Context, desc domain.Descriptor, fusedResults []fused,
	primaryVec []float32, byID map[string]*domain.SearchResult, scores map[string]float64,
) {
	defer observeStage("children", time.Now())

	containers := 0
	for i := range fusedResults {
		if containers == childContainers {
			break
		}
		unit := &fusedResults[i].res
		if !unit.HasStage(domain.StageUnit) {
			continue
		}
		containers++

		children, err := s.repo.FindChildUnits(ctx, unit.NodeID, childrenPerUnit)
		if err != nil {
			s.logger.Warn("child expansion failed",
				zap.String("unit_id", unit.NodeID), zap.Error(err))
			continue
		}

		for _, child := range children {
			sim := domain.CosineSimilarity(primaryVec, child.Embedding)
			if sim < desc.VectorThreshold {
				continue
			}

			res := domain.SearchResult{
				NodeID:     child.ID,
				Content:    child.Content,
				Path:       child.Path,
				FullID:     child.FullID,
				Similarity: sim,
				DomainID:   desc.ID,
			}
			res.AddStage(domain.StageChild)
			mergeScored(byID, scores, res, sim)
		}
	}
}

// finalize normalizes merged scores to [0,1], applies the low-value path
// penalty, and orders results best first (ties by node id).
func (s *Service) finalize(byID map[string]*domain.SearchResult, scores map[string]float64) []domain.SearchResult {
	ids := make([]string, 0, len(byID))
	raw := make([]float64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		raw = append(raw, scores[id])
	}

	domain.MinMaxNormalize(raw)

	results := make([]domain.SearchResult, 0, len(ids))
	for i, id := range ids {
		res := *byID[id]
		res.Similarity = raw[i]
		if IsLowValuePath(res.Path) {
			res.Similarity *= lowValuePenalty
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].NodeID < results[j].NodeID
	})
	return results
}

// enrich attaches document-level metadata to the returned page. Nodes without
// their own title fall back to the titled ancestor walk. Store errors leave
// results unenriched.
func (s *Service) enrich(ctx context.Context, results []domain.SearchResult) {
	if len(results) == 0 {
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.NodeID
	}
	meta, err := s.repo.NodeMetadataFor(ctx, ids)
	if err != nil {
		s.logger.Warn("metadata enrichment failed", zap.Error(err))
		return
	}

	for i := range results {
		m, ok := meta[results[i].NodeID]
		if ok && m.Title != "" {
			results[i].Metadata = &m
			continue
		}
		ancestor, err := s.repo.FindParentTitledAncestor(ctx, results[i].NodeID)
		if err != nil {
			continue
		}
		results[i].Metadata = &ancestor
	}
}

// --- Helpers ---

func tagAndFilter(hits []domain.SearchResult, stage domain.Stage, threshold float64) []domain.SearchResult {
	out := hits[:0]
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		h.AddStage(stage)
		out = append(out, h)
	}
	return out
}

func unitOnly(r *domain.SearchResult) bool {
	return len(r.Stages) == 1 && r.HasStage(domain.StageUnit)
}

func mergeScored(byID map[string]*domain.SearchResult, scores map[string]float64, res domain.SearchResult, score float64) {
	if existing, ok := byID[res.NodeID]; ok {
		existing.MergeFrom(&res)
		if score > scores[res.NodeID] {
			scores[res.NodeID] = score
		}
		return
	}
	byID[res.NodeID] = &res
	scores[res.NodeID] = score
}

// IsLowValuePath reports whether the node path sits under a low-value
// structural subtree. The router uses it to strip fanned-out result sets.
func IsLowValuePath(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range lowValuePathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func observeStage(stage string, start time.Time) {
	metrics.SearchStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
