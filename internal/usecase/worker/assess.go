package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/metrics"
)

// maxNeighborConsults bounds concurrent neighbor queries in conversational mode.
const maxNeighborConsults = 3

// ErrAssessmentDisabled signals that no LLM is configured for confidence
// assessment. The router falls back to pure vector routing.
var ErrAssessmentDisabled = errors.New("llm assessment disabled")

// Assessment is the worker's self-rating for a query, used only as a routing
// signal.
type Assessment struct {
	Confidence          float64  `json:"confidence"`
	CanAnswer           bool     `json:"canAnswer"`
	Reasoning           string   `json:"reasoning"`
	LikelyRelevantUnits []string `json:"likelyRelevantUnits"`
}

// CollaborationRequest is one recommended hand-off to another shard.
type CollaborationRequest struct {
	TargetName   string `json:"targetName"`
	RefinedQuery string `json:"refinedQuery"`
	Reason       string `json:"reason"`
}

// A2ARequest is the cross-shard search request issued during fan-out.
type A2ARequest struct {
	Query     string
	Context   string
	Limit     int
	Requestor string
}

// A2AResponse never carries a Go error across the shard boundary; failures
// are reported in Status and Message.
type A2AResponse struct {
	Status  string // "success" or "error"
	Results []domain.SearchResult
	Message string
}

// AssessQueryConfidence asks the LLM how well this shard can answer the
// query, given its topic and a sample of member identifiers. On any failure
// the returned assessment is zero-valued and the error tells the caller
// which fallback to apply.
func (s *Service) AssessQueryConfidence(ctx context.Context, desc domain.Descriptor, query string) (Assessment, error) {
	if s.llm == nil {
		return Assessment{}, ErrAssessmentDisabled
	}

	sample := desc.MemberIDs
	if len(sample) > 10 {
		sample = sample[:10]
	}

	const system = "You estimate whether a semantic shard of a statutory corpus can answer a query. " +
		`Reply as JSON: {"confidence":0..1,"canAnswer":bool,"reasoning":"...","likelyRelevantUnits":["..."]}.`
	prompt := fmt.Sprintf("Shard topic: %s\nSample member units: %s\nQuery: %s",
		desc.Name, strings.Join(sample, ", "), query)

	raw, err := s.llm.CompleteJSON(ctx, system, prompt)
	if err != nil {
		s.logger.Warn("confidence assessment failed",
			zap.String("domain", desc.Name), zap.Error(err))
		return Assessment{}, err
	}

	var a Assessment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		s.logger.Warn("confidence assessment returned malformed JSON",
			zap.String("domain", desc.Name), zap.Error(err))
		return Assessment{}, err
	}
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	return a, nil
}

// ShouldCollaborate asks the LLM whether other named shards should be
// consulted given the local results. Any failure degrades to no
// collaboration.
func (s *Service) ShouldCollaborate(
	ctx context.Context, desc domain.Descriptor, query string,
	localResults []domain.SearchResult, candidateNames []string,
) []CollaborationRequest {
	if s.llm == nil || len(candidateNames) == 0 {
		return nil
	}

	var preview strings.Builder
	for i, r := range localResults {
		if i == 5 {
			break
		}
		content := r.Content
		if len(content) > 200 {
			content = content[:200]
		}
		fmt.Fprintf(&preview, "- [%s] %s\n", r.FullID, content)
	}

	const system = "You decide whether a statutory-search shard should consult other shards. " +
		`Reply as JSON: {"collaborate":bool,"targets":[{"targetName":"...","refinedQuery":"...","reason":"..."}]}. ` +
		"Only list targets from the offered candidates."
	prompt := fmt.Sprintf("Own shard: %s\nQuery: %s\nLocal results:\n%s\nCandidate shards: %s",
		desc.Name, query, preview.String(), strings.Join(candidateNames, ", "))

	raw, err := s.llm.CompleteJSON(ctx, system, prompt)
	if err != nil {
		s.logger.Warn("collaboration decision failed",
			zap.String("domain", desc.Name), zap.Error(err))
		return nil
	}

	var decision struct {
		Collaborate bool                   `json:"collaborate"`
		Targets     []CollaborationRequest `json:"targets"`
	}
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		s.logger.Warn("collaboration decision returned malformed JSON",
			zap.String("domain", desc.Name), zap.Error(err))
		return nil
	}
	if !decision.Collaborate {
		return nil
	}

	// Drop hallucinated targets not among the offered candidates.
	allowed := make(map[string]struct{}, len(candidateNames))
	for _, n := range candidateNames {
		allowed[n] = struct{}{}
	}
	out := decision.Targets[:0]
	for _, t := range decision.Targets {
		if _, ok := allowed[t.TargetName]; !ok {
			continue
		}
		if t.RefinedQuery == "" {
			t.RefinedQuery = query
		}
		out = append(out, t)
	}
	return out
}

// HandleA2ARequest serves a collaboration request from another shard by
// re-entering the pipeline with the request context prefixed to the query.
// It never returns an error; failures become an error-status response.
func (s *Service) HandleA2ARequest(ctx context.Context, desc domain.Descriptor, req A2ARequest) A2AResponse {
	query := req.Query
	if req.Context != "" {
		query = req.Context + " " + req.Query
	}

	results, err := s.Search(ctx, desc, query, req.Limit)
	if err != nil {
		metrics.CollaborationRequestsTotal.WithLabelValues("responder", "error").Inc()
		s.logger.Warn("a2a search failed",
			zap.String("domain", desc.Name), zap.String("requestor", req.Requestor), zap.Error(err))
		return A2AResponse{Status: "error", Message: err.Error()}
	}

	metrics.CollaborationRequestsTotal.WithLabelValues("responder", "success").Inc()
	return A2AResponse{Status: "success", Results: results}
}

// ConsultNeighbors concurrently queries up to three registered neighbor
// shards (conversational mode, distinct from the router fan-out). Individual
// failures are logged and skipped; successful responses are aggregated.
func (s *Service) ConsultNeighbors(ctx context.Context, desc domain.Descriptor, query string, limit int) []domain.SearchResult {
	if s.resolver == nil {
		return nil
	}

	slugs := desc.NeighborSlugs
	if len(slugs) > maxNeighborConsults {
		slugs = slugs[:maxNeighborConsults]
	}

	var mu sync.Mutex
	var aggregated []domain.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	for _, slug := range slugs {
		g.Go(func() error {
			neighbor, ok := s.resolver.DescriptorBySlug(slug)
			if !ok {
				s.logger.Warn("neighbor slug unresolved", zap.String("slug", slug))
				return nil
			}

			metrics.CollaborationRequestsTotal.WithLabelValues("initiator", "sent").Inc()
			resp := s.HandleA2ARequest(gctx, neighbor, A2ARequest{
				Query:     query,
				Context:   "In the context of " + desc.Name + ":",
				Limit:     limit,
				Requestor: desc.Slug,
			})
			if resp.Status != "success" {
				s.logger.Warn("neighbor consult failed",
					zap.String("neighbor", slug), zap.String("message", resp.Message))
				return nil
			}

			mu.Lock()
			for i := range resp.Results {
				resp.Results[i].SourceDomainName = neighbor.Name
				resp.Results[i].ViaCollaboration = true
			}
			aggregated = append(aggregated, resp.Results...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // branches never return errors; failures are logged per branch

	return aggregated
}
