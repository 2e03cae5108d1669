package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/usecase/worker"
)

type mockRegistry struct {
	descs []domain.Descriptor
}

func (m *mockRegistry) Snapshot() []domain.Descriptor { return m.descs }
func (m *mockRegistry) Count() int                    { return len(m.descs) }

type mockWorker struct {
	mu          sync.Mutex
	searchCalls []string // descriptor ids in call order

	searchFn func(desc domain.Descriptor, query string, limit int) ([]domain.SearchResult, error)
	assessFn func(desc domain.Descriptor, query string) (worker.Assessment, error)
	collabFn func(desc domain.Descriptor, query string, local []domain.SearchResult, names []string) []worker.CollaborationRequest
	a2aFn    func(desc domain.Descriptor, req worker.A2ARequest) worker.A2AResponse
}

func (m *mockWorker) Search(_ context.Context, desc domain.Descriptor, query string, limit int) ([]domain.SearchResult, error) {
	m.mu.Lock()
	m.searchCalls = append(m.searchCalls, desc.ID)
	m.mu.Unlock()
	if m.searchFn == nil {
		return nil, nil
	}
	return m.searchFn(desc, query, limit)
}

func (m *mockWorker) AssessQueryConfidence(_ context.Context, desc domain.Descriptor, query string) (worker.Assessment, error) {
	if m.assessFn == nil {
		return worker.Assessment{}, worker.ErrAssessmentDisabled
	}
	return m.assessFn(desc, query)
}

func (m *mockWorker) ShouldCollaborate(_ context.Context, desc domain.Descriptor, query string,
	local []domain.SearchResult, names []string,
) []worker.CollaborationRequest {
	if m.collabFn == nil {
		return nil
	}
	return m.collabFn(desc, query, local, names)
}

func (m *mockWorker) HandleA2ARequest(_ context.Context, desc domain.Descriptor, req worker.A2ARequest) worker.A2AResponse {
	if m.a2aFn == nil {
		return worker.A2AResponse{Status: "error", Message: "not configured"}
	}
	return m.a2aFn(desc, req)
}

type routingEmbedder struct {
	vec []float32
	err error
}

func (e *routingEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	return domain.EmbeddingResult{Embedding: e.vec}, nil
}

type mockLLM struct {
	completeFn func(system, prompt string) (string, error)
}

func (m *mockLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	if m.completeFn == nil {
		return "", errors.New("not configured")
	}
	return m.completeFn(system, prompt)
}

func threeDomains() []domain.Descriptor {
	return []domain.Descriptor{
		{ID: "d1", Name: "Maritime Liens", Slug: "maritime-liens", Centroid: []float32{1, 0}},
		{ID: "d2", Name: "Carriage of Goods", Slug: "carriage-of-goods", Centroid: []float32{0.8, 0.6}},
		{ID: "d3", Name: "Marine Insurance", Slug: "marine-insurance", Centroid: []float32{0, 1}},
	}
}

func newTestRouter(reg Registry, w Worker, llm LLM, cfg Config) *Service {
	return New(reg, w, &routingEmbedder{vec: []float32{1, 0}}, llm, nil, cfg, zap.NewNop())
}

func TestRouteTopDomainsNoDomains(t *testing.T) {
	svc := newTestRouter(&mockRegistry{}, &mockWorker{}, nil, Config{})

	if _, err := svc.RouteTopDomains(context.Background(), "q", 3); !errors.Is(err, domain.ErrNoDomains) {
		t.Fatalf("expected ErrNoDomains, got %v", err)
	}
}

func TestRouteTopDomainsVectorOnlyWhenAssessmentDisabled(t *testing.T) {
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, &mockWorker{}, nil, Config{})

	ranked, err := svc.RouteTopDomains(context.Background(), "lien priority", 2)
	if err != nil {
		t.Fatalf("RouteTopDomains failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked domains, got %d", len(ranked))
	}
	if ranked[0].Descriptor.ID != "d1" || ranked[1].Descriptor.ID != "d2" {
		t.Errorf("order = %s, %s; want d1, d2", ranked[0].Descriptor.ID, ranked[1].Descriptor.ID)
	}
	if ranked[0].Combined != ranked[0].VectorScore {
		t.Errorf("disabled assessment should use the vector score alone, got %v vs %v",
			ranked[0].Combined, ranked[0].VectorScore)
	}
}

func TestRouteTopDomainsCombinesLLMAndVector(t *testing.T) {
	w := &mockWorker{
		assessFn: func(desc domain.Descriptor, _ string) (worker.Assessment, error) {
			if desc.ID == "d2" {
				return worker.Assessment{Confidence: 0.9, CanAnswer: true, Reasoning: "core material"}, nil
			}
			return worker.Assessment{Confidence: 0.1}, nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	ranked, err := svc.RouteTopDomains(context.Background(), "bill of lading", 1)
	if err != nil {
		t.Fatalf("RouteTopDomains failed: %v", err)
	}
	// d2: 0.7·0.9 + 0.3·0.8 = 0.87 beats d1: 0.7·0.1 + 0.3·1.0 = 0.37.
	if ranked[0].Descriptor.ID != "d2" {
		t.Errorf("expected d2 first on combined score, got %s", ranked[0].Descriptor.ID)
	}
	if !ranked[0].CanAnswer || ranked[0].Reasoning == "" {
		t.Errorf("assessment fields should carry through, got %+v", ranked[0])
	}
}

func TestRouteTopDomainsAssessmentErrorDiscountsVector(t *testing.T) {
	w := &mockWorker{
		assessFn: func(desc domain.Descriptor, _ string) (worker.Assessment, error) {
			if desc.ID == "d1" {
				return worker.Assessment{}, errors.New("provider timeout")
			}
			return worker.Assessment{Confidence: 0.5}, nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	ranked, err := svc.RouteTopDomains(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("RouteTopDomains failed: %v", err)
	}
	for _, r := range ranked {
		if r.Descriptor.ID == "d1" && r.Combined != r.VectorScore*0.3 {
			t.Errorf("failed assessment should score vector·0.3, got %v (vector %v)", r.Combined, r.VectorScore)
		}
	}
}

func TestExecuteSearchPrimaryOnly(t *testing.T) {
	w := &mockWorker{
		searchFn: func(desc domain.Descriptor, _ string, _ int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{
				{NodeID: "n1", Similarity: 0.9, Path: "code/ch1/art3"},
				{NodeID: "n-trans", Similarity: 0.8, Path: "code/transitional/art99"},
			}, nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	out, err := svc.ExecuteSearch(context.Background(), "crew wages", 10, false)
	if err != nil {
		t.Fatalf("ExecuteSearch failed: %v", err)
	}
	if out.DomainID != "d1" || out.DomainName != "Maritime Liens" {
		t.Errorf("primary domain = %s/%s", out.DomainID, out.DomainName)
	}
	if len(out.Results) != 1 || out.Results[0].NodeID != "n1" {
		t.Fatalf("low-value paths should be stripped, got %v", out.Results)
	}
	if len(out.DomainsQueried) != 1 || out.Stats.CollaborationTriggered {
		t.Errorf("no fan-out expected: queried=%v stats=%+v", out.DomainsQueried, out.Stats)
	}
}

func TestExecuteSearchFanOutMergesAndTagsProvenance(t *testing.T) {
	w := &mockWorker{
		searchFn: func(desc domain.Descriptor, _ string, _ int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{
				{NodeID: "n1", Similarity: 0.9},
				{NodeID: "n-shared", Similarity: 0.5},
			}, nil
		},
		collabFn: func(_ domain.Descriptor, _ string, _ []domain.SearchResult, names []string) []worker.CollaborationRequest {
			if len(names) != 2 || names[0] != "Carriage of Goods" || names[1] != "Marine Insurance" {
				t.Errorf("candidate names = %v", names)
			}
			return []worker.CollaborationRequest{
				{TargetName: "Carriage of Goods", RefinedQuery: "freight lien on cargo", Reason: "cargo overlap"},
			}
		},
		a2aFn: func(desc domain.Descriptor, req worker.A2ARequest) worker.A2AResponse {
			if desc.ID != "d2" {
				t.Errorf("a2a target = %s, want d2", desc.ID)
			}
			if req.Query != "freight lien on cargo" || req.Requestor != "maritime-liens" {
				t.Errorf("a2a request = %+v", req)
			}
			return worker.A2AResponse{Status: "success", Results: []domain.SearchResult{
				{NodeID: "n2", Similarity: 0.8},
				{NodeID: "n-shared", Similarity: 0.7},
			}}
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	out, err := svc.ExecuteSearch(context.Background(), "freight liens", 10, false)
	if err != nil {
		t.Fatalf("ExecuteSearch failed: %v", err)
	}

	if !out.Stats.CollaborationTriggered {
		t.Error("collaboration should be flagged")
	}
	if len(out.A2ADomains) != 1 || out.A2ADomains[0] != "Carriage of Goods" {
		t.Errorf("a2a domains = %v", out.A2ADomains)
	}

	if len(out.Results) != 3 {
		t.Fatalf("expected 3 deduplicated results, got %d", len(out.Results))
	}
	if out.Results[0].NodeID != "n1" || out.Results[1].NodeID != "n2" || out.Results[2].NodeID != "n-shared" {
		t.Errorf("order = %s, %s, %s", out.Results[0].NodeID, out.Results[1].NodeID, out.Results[2].NodeID)
	}
	if out.Results[2].Similarity != 0.7 {
		t.Errorf("deduplicated node should keep the higher similarity, got %v", out.Results[2].Similarity)
	}
	if !out.Results[1].ViaCollaboration || out.Results[1].SourceDomainName != "Carriage of Goods" {
		t.Errorf("fanned-out result should carry provenance, got %+v", out.Results[1])
	}
	if out.Stats.CollaborationResults != 1 {
		t.Errorf("collaboration result count = %d, want 1", out.Stats.CollaborationResults)
	}
	if out.Stats.BySource["Maritime Liens"] != 2 || out.Stats.BySource["Carriage of Goods"] != 1 {
		t.Errorf("by-source counts = %v", out.Stats.BySource)
	}
}

func TestExecuteSearchCollaborationConsultedByDefault(t *testing.T) {
	consulted := false
	w := &mockWorker{
		searchFn: func(domain.Descriptor, string, int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "n1", Similarity: 0.9}}, nil
		},
		collabFn: func(_ domain.Descriptor, _ string, _ []domain.SearchResult, _ []string) []worker.CollaborationRequest {
			consulted = true
			return nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	if _, err := svc.ExecuteSearch(context.Background(), "q", 10, false); err != nil {
		t.Fatalf("ExecuteSearch failed: %v", err)
	}
	if !consulted {
		t.Error("primary domain should be asked about collaboration under default config")
	}
}

func TestExecuteSearchCollaborationCanBeDisabled(t *testing.T) {
	w := &mockWorker{
		searchFn: func(domain.Descriptor, string, int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "n1", Similarity: 0.9}}, nil
		},
		collabFn: func(_ domain.Descriptor, _ string, _ []domain.SearchResult, _ []string) []worker.CollaborationRequest {
			t.Error("collaboration should not be consulted when disabled")
			return nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{DisableCollaboration: true})

	out, err := svc.ExecuteSearch(context.Background(), "q", 10, false)
	if err != nil {
		t.Fatalf("ExecuteSearch failed: %v", err)
	}
	if out.Stats.CollaborationTriggered {
		t.Error("collaboration stats should stay unset when disabled")
	}
}

func TestExecuteSearchBranchFailureIsNotTotal(t *testing.T) {
	w := &mockWorker{
		searchFn: func(domain.Descriptor, string, int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "n1", Similarity: 0.9}}, nil
		},
		collabFn: func(_ domain.Descriptor, _ string, _ []domain.SearchResult, _ []string) []worker.CollaborationRequest {
			return []worker.CollaborationRequest{{TargetName: "Carriage of Goods", RefinedQuery: "q"}}
		},
		a2aFn: func(domain.Descriptor, worker.A2ARequest) worker.A2AResponse {
			return worker.A2AResponse{Status: "error", Message: "index gone"}
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	out, err := svc.ExecuteSearch(context.Background(), "q", 10, false)
	if err != nil {
		t.Fatalf("branch failure must not fail the search: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].NodeID != "n1" {
		t.Fatalf("primary results should survive, got %v", out.Results)
	}
	if out.Stats.BranchErrors != 1 {
		t.Errorf("branch errors = %d, want 1", out.Stats.BranchErrors)
	}
	if len(out.A2ADomains) != 0 {
		t.Errorf("failed branch should not appear in a2a domains: %v", out.A2ADomains)
	}
}

func TestExecuteSearchSynthesisTemplatedFallback(t *testing.T) {
	w := &mockWorker{
		searchFn: func(domain.Descriptor, string, int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "n1", FullID: "code/art-3", Similarity: 0.9}}, nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	out, err := svc.ExecuteSearch(context.Background(), "crew wages", 10, true)
	if err != nil {
		t.Fatalf("ExecuteSearch failed: %v", err)
	}
	if !strings.Contains(out.SynthesizedAnswer, "code/art-3") {
		t.Errorf("templated answer should list unit ids, got %q", out.SynthesizedAnswer)
	}
}

func TestExecuteSearchSynthesisUsesLLM(t *testing.T) {
	w := &mockWorker{
		searchFn: func(domain.Descriptor, string, int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "n1", FullID: "code/art-3", Content: "wage priority", Similarity: 0.9}}, nil
		},
	}
	llm := &mockLLM{
		completeFn: func(_, prompt string) (string, error) {
			if !strings.Contains(prompt, "code/art-3") {
				t.Errorf("synthesis prompt should carry excerpts, got %q", prompt)
			}
			return "Crew wages rank first under [code/art-3].", nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, llm, Config{})

	out, err := svc.ExecuteSearch(context.Background(), "crew wages", 10, true)
	if err != nil {
		t.Fatalf("ExecuteSearch failed: %v", err)
	}
	if out.SynthesizedAnswer != "Crew wages rank first under [code/art-3]." {
		t.Errorf("answer = %q", out.SynthesizedAnswer)
	}
}

func TestSearchDomainScopedAndNotFound(t *testing.T) {
	w := &mockWorker{
		searchFn: func(desc domain.Descriptor, _ string, _ int) ([]domain.SearchResult, error) {
			if desc.ID != "d2" {
				t.Errorf("scoped search hit %s, want d2", desc.ID)
			}
			return []domain.SearchResult{{NodeID: "n1", Similarity: 0.8}}, nil
		},
	}
	svc := newTestRouter(&mockRegistry{descs: threeDomains()}, w, nil, Config{})

	out, err := svc.SearchDomain(context.Background(), "d2", "demurrage", 5)
	if err != nil {
		t.Fatalf("SearchDomain failed: %v", err)
	}
	if out.DomainName != "Carriage of Goods" || len(out.Results) != 1 {
		t.Errorf("outcome = %+v", out)
	}

	if _, err := svc.SearchDomain(context.Background(), "missing", "q", 5); !errors.Is(err, domain.ErrDomainNotFound) {
		t.Errorf("expected ErrDomainNotFound, got %v", err)
	}
}
