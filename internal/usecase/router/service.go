// Package router ranks domains for a query and orchestrates the
// scatter/gather search across their workers.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/metrics"
	"github.com/lexshard/lexshard/internal/usecase/worker"
)

// candidateFloor is the minimum candidate pool for LLM confidence
// assessment regardless of topN.
const candidateFloor = 5

// Routing score weights: LLM confidence dominates, vector similarity anchors.
const (
	llmWeight    = 0.7
	vectorWeight = 0.3
)

// synthesisResultCap bounds how many results feed answer synthesis.
const synthesisResultCap = 10

// Config holds routing and fan-out tuning. Collaboration is on unless
// explicitly disabled; whether it fires for a given query is decided by
// the primary domain's recommendation.
type Config struct {
	FanoutDomains        int
	BranchTimeout        time.Duration
	BudgetTimeout        time.Duration
	DisableCollaboration bool
	DefaultLimit         int
}

func (c Config) withDefaults() Config {
	if c.FanoutDomains <= 0 {
		c.FanoutDomains = 3
	}
	if c.BranchTimeout <= 0 {
		c.BranchTimeout = 10 * time.Second
	}
	if c.BudgetTimeout <= 0 {
		c.BudgetTimeout = 20 * time.Second
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = worker.DefaultLimit
	}
	return c
}

// RankedDomain is one routing candidate with its scores.
type RankedDomain struct {
	Descriptor    domain.Descriptor
	VectorScore   float64
	LLMConfidence float64
	CanAnswer     bool
	Reasoning     string
	Combined      float64
}

// Stats aggregates provenance counters for one scatter/gather search.
type Stats struct {
	TotalResults           int
	ByStage                map[string]int
	BySource               map[string]int
	CollaborationTriggered bool
	CollaborationResults   int
	BranchErrors           int
}

// Outcome is the full payload of a routed search.
type Outcome struct {
	Results           []domain.SearchResult
	Stats             Stats
	DomainID          string
	DomainName        string
	DomainsQueried    []string
	A2ADomains        []string
	ResponseTimeMs    int64
	SynthesizedAnswer string
}

// Service is the query router.
type Service struct {
	registry  Registry
	worker    Worker
	routing   Embedder
	llm       LLM // nil falls back to templated synthesis
	diversity DiversityFilter
	cfg       Config
	logger    *zap.Logger
}

// New creates a query router. A nil diversity filter selects the default
// category round-robin.
func New(registry Registry, w Worker, routing Embedder, llm LLM, diversity DiversityFilter, cfg Config, logger *zap.Logger) *Service {
	if diversity == nil {
		diversity = CategoryRoundRobin{}
	}
	return &Service{
		registry:  registry,
		worker:    w,
		routing:   routing,
		llm:       llm,
		diversity: diversity,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// RouteTopDomains ranks all domains for the query and returns the top topN.
// Candidates are pre-selected by centroid similarity in the routing space,
// then re-scored with a concurrent LLM confidence assessment.
func (s *Service) RouteTopDomains(ctx context.Context, query string, topN int) ([]RankedDomain, error) {
	descs := s.registry.Snapshot()
	if len(descs) == 0 {
		return nil, domain.ErrNoDomains
	}
	if topN <= 0 {
		topN = s.cfg.FanoutDomains
	}

	res, err := s.routing.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("routing query embedding: %w", err)
	}
	routingVec := res.Embedding

	ranked := make([]RankedDomain, 0, len(descs))
	for _, d := range descs {
		ranked = append(ranked, RankedDomain{
			Descriptor:  d,
			VectorScore: domain.CosineSimilarity(routingVec, d.Centroid),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].VectorScore != ranked[j].VectorScore {
			return ranked[i].VectorScore > ranked[j].VectorScore
		}
		return ranked[i].Descriptor.Name < ranked[j].Descriptor.Name
	})

	pool := candidateFloor
	if 2*topN > pool {
		pool = 2 * topN
	}
	if pool > len(ranked) {
		pool = len(ranked)
	}
	candidates := ranked[:pool]

	g, gctx := errgroup.WithContext(ctx)
	for i := range candidates {
		g.Go(func() error {
			c := &candidates[i]
			assessment, err := s.worker.AssessQueryConfidence(gctx, c.Descriptor, query)
			switch {
			case errors.Is(err, worker.ErrAssessmentDisabled):
				c.Combined = c.VectorScore
			case err != nil:
				c.Combined = c.VectorScore * vectorWeight
			default:
				c.LLMConfidence = assessment.Confidence
				c.CanAnswer = assessment.CanAnswer
				c.Reasoning = assessment.Reasoning
				c.Combined = llmWeight*assessment.Confidence + vectorWeight*c.VectorScore
			}
			return nil
		})
	}
	_ = g.Wait() // assessment branches never return errors

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Combined != candidates[j].Combined {
			return candidates[i].Combined > candidates[j].Combined
		}
		return candidates[i].Descriptor.Name < candidates[j].Descriptor.Name
	})

	if topN > len(candidates) {
		topN = len(candidates)
	}
	return candidates[:topN], nil
}

// ExecuteSearch routes the query, runs the primary domain synchronously,
// fans out to collaboration targets when recommended, and merges the
// result sets into one ranked, diversity-rebalanced page.
func (s *Service) ExecuteSearch(ctx context.Context, query string, limit int, synthesize bool) (*Outcome, error) {
	start := time.Now()
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	ranked, err := s.RouteTopDomains(ctx, query, s.cfg.FanoutDomains)
	if err != nil {
		return nil, err
	}
	primary := ranked[0]

	primaryResults, err := s.worker.Search(ctx, primary.Descriptor, query, limit)
	if err != nil {
		return nil, fmt.Errorf("primary domain search: %w", err)
	}
	primaryResults = stripLowValue(primaryResults)

	outcome := &Outcome{
		DomainID:       primary.Descriptor.ID,
		DomainName:     primary.Descriptor.Name,
		DomainsQueried: []string{primary.Descriptor.Name},
	}

	collabResults := s.fanOut(ctx, primary, ranked[1:], query, limit, primaryResults, outcome)

	results := mergeResults(primaryResults, collabResults)
	results = s.diversity.Rebalance(results, limit)
	if len(results) > limit {
		results = results[:limit]
	}

	outcome.Results = results
	outcome.Stats.TotalResults = len(results)
	outcome.Stats.ByStage = countByStage(results)
	outcome.Stats.BySource = countBySource(results, primary.Descriptor.Name)
	for _, r := range results {
		if r.ViaCollaboration {
			outcome.Stats.CollaborationResults++
		}
	}

	if synthesize {
		outcome.SynthesizedAnswer = s.synthesize(ctx, query, results)
	}

	outcome.ResponseTimeMs = time.Since(start).Milliseconds()
	metrics.SearchResultsReturned.WithLabelValues("scatter").Observe(float64(len(results)))
	return outcome, nil
}

// SearchDomain runs a single domain's pipeline, bypassing routing.
func (s *Service) SearchDomain(ctx context.Context, domainID, query string, limit int) (*Outcome, error) {
	start := time.Now()
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	var desc domain.Descriptor
	found := false
	for _, d := range s.registry.Snapshot() {
		if d.ID == domainID {
			desc, found = d, true
			break
		}
	}
	if !found {
		return nil, domain.ErrDomainNotFound
	}

	results, err := s.worker.Search(ctx, desc, query, limit)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Results:        results,
		DomainID:       desc.ID,
		DomainName:     desc.Name,
		DomainsQueried: []string{desc.Name},
		Stats: Stats{
			TotalResults: len(results),
			ByStage:      countByStage(results),
			BySource:     countBySource(results, desc.Name),
		},
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// fanOut asks the primary worker whether collaboration is warranted and, if
// so, issues concurrent A2A requests under per-branch and overall budgets.
// Branch failures never fail the search.
func (s *Service) fanOut(
	ctx context.Context, primary RankedDomain, others []RankedDomain,
	query string, limit int, primaryResults []domain.SearchResult, outcome *Outcome,
) []domain.SearchResult {
	if s.cfg.DisableCollaboration || len(others) == 0 {
		return nil
	}

	byName := make(map[string]RankedDomain, len(others))
	names := make([]string, 0, len(others))
	for _, o := range others {
		byName[o.Descriptor.Name] = o
		names = append(names, o.Descriptor.Name)
	}

	requests := s.worker.ShouldCollaborate(ctx, primary.Descriptor, query, primaryResults, names)
	if len(requests) == 0 {
		return nil
	}
	outcome.Stats.CollaborationTriggered = true

	budgetCtx, cancel := context.WithTimeout(ctx, s.cfg.BudgetTimeout)
	defer cancel()

	var mu sync.Mutex
	var gathered []domain.SearchResult

	g, gctx := errgroup.WithContext(budgetCtx)
	for _, req := range requests {
		g.Go(func() error {
			target, ok := byName[req.TargetName]
			if !ok {
				return nil
			}

			branchCtx, branchCancel := context.WithTimeout(gctx, s.cfg.BranchTimeout)
			defer branchCancel()

			resp := s.worker.HandleA2ARequest(branchCtx, target.Descriptor, worker.A2ARequest{
				Query:     req.RefinedQuery,
				Limit:     limit,
				Requestor: primary.Descriptor.Slug,
			})

			mu.Lock()
			defer mu.Unlock()
			if resp.Status != "success" {
				status := "error"
				if branchCtx.Err() != nil {
					status = "timeout"
				}
				metrics.FanoutBranchesTotal.WithLabelValues(status).Inc()
				outcome.Stats.BranchErrors++
				s.logger.Warn("fan-out branch failed",
					zap.String("target", req.TargetName),
					zap.String("status", status),
					zap.String("message", resp.Message))
				return nil
			}

			metrics.FanoutBranchesTotal.WithLabelValues("ok").Inc()
			outcome.A2ADomains = append(outcome.A2ADomains, target.Descriptor.Name)
			outcome.DomainsQueried = append(outcome.DomainsQueried, target.Descriptor.Name)
			for _, r := range stripLowValue(resp.Results) {
				r.SourceDomainName = target.Descriptor.Name
				r.RefinedQuery = req.RefinedQuery
				r.ViaCollaboration = true
				gathered = append(gathered, r)
			}
			return nil
		})
	}
	_ = g.Wait() // branches never return errors

	sort.Strings(outcome.A2ADomains)
	return gathered
}

// synthesize produces a natural-language answer over the top results,
// falling back to a templated listing when the LLM is unavailable.
func (s *Service) synthesize(ctx context.Context, query string, results []domain.SearchResult) string {
	top := results
	if len(top) > synthesisResultCap {
		top = top[:synthesisResultCap]
	}

	if s.llm != nil {
		var b strings.Builder
		for i, r := range top {
			content := r.Content
			if len(content) > 500 {
				content = content[:500]
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.FullID, content)
		}
		const system = "You answer questions about statutory law using only the provided excerpts. " +
			"Cite unit identifiers in square brackets. If the excerpts are insufficient, say so."
		prompt := fmt.Sprintf("Question: %s\n\nExcerpts:\n%s", query, b.String())

		answer, err := s.llm.Complete(ctx, system, prompt)
		if err == nil && answer != "" {
			return answer
		}
		s.logger.Warn("answer synthesis failed", zap.Error(err))
	}
	return templatedAnswer(query, top)
}

func templatedAnswer(query string, top []domain.SearchResult) string {
	if len(top) == 0 {
		return fmt.Sprintf("No provisions found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant provisions for %q:\n", len(top), query)
	for _, r := range top {
		line := r.FullID
		if r.Metadata != nil && r.Metadata.Title != "" {
			line += " — " + r.Metadata.Title
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return strings.TrimRight(b.String(), "\n")
}

// --- Helpers ---

func stripLowValue(results []domain.SearchResult) []domain.SearchResult {
	out := results[:0]
	for _, r := range results {
		if worker.IsLowValuePath(r.Path) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// mergeResults unions the primary and collaboration sets, deduplicating by
// node id with the higher similarity winning, then orders best first.
func mergeResults(primary, collab []domain.SearchResult) []domain.SearchResult {
	byID := make(map[string]*domain.SearchResult, len(primary)+len(collab))
	order := make([]string, 0, len(primary)+len(collab))
	for _, r := range primary {
		byID[r.NodeID] = &r
		order = append(order, r.NodeID)
	}
	for _, r := range collab {
		if existing, ok := byID[r.NodeID]; ok {
			existing.MergeFrom(&r)
			continue
		}
		byID[r.NodeID] = &r
		order = append(order, r.NodeID)
	}

	out := make([]domain.SearchResult, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

func countByStage(results []domain.SearchResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		for stage := range r.Stages {
			counts[string(stage)]++
		}
	}
	return counts
}

func countBySource(results []domain.SearchResult, primaryName string) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if r.SourceDomainName != "" {
			counts[r.SourceDomainName]++
			continue
		}
		counts[primaryName]++
	}
	return counts
}
