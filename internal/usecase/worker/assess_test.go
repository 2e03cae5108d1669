package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/lexshard/lexshard/internal/domain"
)

type mockLLM struct {
	mu         sync.Mutex
	prompts    []string
	jsonFn     func(system, prompt string) (string, error)
	completeFn func(system, prompt string) (string, error)
}

func (m *mockLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.completeFn == nil {
		return "", nil
	}
	return m.completeFn(system, prompt)
}

func (m *mockLLM) CompleteJSON(_ context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.jsonFn == nil {
		return "{}", nil
	}
	return m.jsonFn(system, prompt)
}

type mockResolver struct {
	descriptors map[string]domain.Descriptor
}

func (m *mockResolver) DescriptorBySlug(slug string) (domain.Descriptor, bool) {
	d, ok := m.descriptors[slug]
	return d, ok
}

func TestAssessQueryConfidenceParsesResponse(t *testing.T) {
	llm := &mockLLM{
		jsonFn: func(system, prompt string) (string, error) {
			if !strings.Contains(prompt, "Maritime Liens") {
				t.Errorf("prompt should carry the shard topic, got %q", prompt)
			}
			return `{"confidence":0.85,"canAnswer":true,"reasoning":"lien priority is core material","likelyRelevantUnits":["art-4","art-5"]}`, nil
		},
	}
	svc, _, _ := newTestService(&mockRepo{}, llm, nil)

	a, err := svc.AssessQueryConfidence(context.Background(), testDescriptor(), "priority of maritime liens")
	if err != nil {
		t.Fatalf("AssessQueryConfidence failed: %v", err)
	}
	if !a.CanAnswer || a.Confidence != 0.85 {
		t.Errorf("assessment = %+v", a)
	}
	if len(a.LikelyRelevantUnits) != 2 {
		t.Errorf("expected 2 relevant units, got %v", a.LikelyRelevantUnits)
	}
}

func TestAssessQueryConfidenceClampsRange(t *testing.T) {
	llm := &mockLLM{
		jsonFn: func(string, string) (string, error) {
			return `{"confidence":1.4,"canAnswer":true}`, nil
		},
	}
	svc, _, _ := newTestService(&mockRepo{}, llm, nil)

	a, err := svc.AssessQueryConfidence(context.Background(), testDescriptor(), "q")
	if err != nil {
		t.Fatalf("AssessQueryConfidence failed: %v", err)
	}
	if a.Confidence != 1.0 {
		t.Errorf("confidence should clamp to 1.0, got %v", a.Confidence)
	}
}

func TestAssessQueryConfidenceDegrades(t *testing.T) {
	llm := &mockLLM{
		jsonFn: func(string, string) (string, error) {
			return "", errors.New("provider timeout")
		},
	}
	svc, _, _ := newTestService(&mockRepo{}, llm, nil)

	a, err := svc.AssessQueryConfidence(context.Background(), testDescriptor(), "q")
	if err == nil {
		t.Fatal("expected an error from a failing provider")
	}
	if a.Confidence != 0 || a.CanAnswer {
		t.Errorf("failed assessment should be zero-valued, got %+v", a)
	}

	noLLM, _, _ := newTestService(&mockRepo{}, nil, nil)
	if _, err := noLLM.AssessQueryConfidence(context.Background(), testDescriptor(), "q"); !errors.Is(err, ErrAssessmentDisabled) {
		t.Errorf("nil LLM should report ErrAssessmentDisabled, got %v", err)
	}
}

func TestShouldCollaborateFiltersUnknownTargets(t *testing.T) {
	llm := &mockLLM{
		jsonFn: func(string, string) (string, error) {
			return `{"collaborate":true,"targets":[
				{"targetName":"Carriage of Goods","refinedQuery":"","reason":"bill of lading overlap"},
				{"targetName":"Invented Shard","refinedQuery":"x","reason":"hallucinated"}
			]}`, nil
		},
	}
	svc, _, _ := newTestService(&mockRepo{}, llm, nil)

	reqs := svc.ShouldCollaborate(context.Background(), testDescriptor(), "bill of lading liens",
		nil, []string{"Carriage of Goods", "Marine Insurance"})
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request after filtering, got %d", len(reqs))
	}
	if reqs[0].TargetName != "Carriage of Goods" {
		t.Errorf("target = %q", reqs[0].TargetName)
	}
	if reqs[0].RefinedQuery != "bill of lading liens" {
		t.Errorf("empty refined query should fall back to the original, got %q", reqs[0].RefinedQuery)
	}
}

func TestShouldCollaborateDeclinesAndDegrades(t *testing.T) {
	declining := &mockLLM{
		jsonFn: func(string, string) (string, error) {
			return `{"collaborate":false,"targets":[{"targetName":"Marine Insurance"}]}`, nil
		},
	}
	svc, _, _ := newTestService(&mockRepo{}, declining, nil)
	if reqs := svc.ShouldCollaborate(context.Background(), testDescriptor(), "q", nil, []string{"Marine Insurance"}); reqs != nil {
		t.Errorf("declined collaboration should return nil, got %v", reqs)
	}

	failing := &mockLLM{
		jsonFn: func(string, string) (string, error) { return "", errors.New("boom") },
	}
	svc2, _, _ := newTestService(&mockRepo{}, failing, nil)
	if reqs := svc2.ShouldCollaborate(context.Background(), testDescriptor(), "q", nil, []string{"Marine Insurance"}); reqs != nil {
		t.Errorf("LLM failure should return nil, got %v", reqs)
	}
}

func TestHandleA2ARequestPrefixesContext(t *testing.T) {
	repo := &mockRepo{
		vectorFn: func(string, []float32, int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "n-1", Similarity: 0.7}}, nil
		},
	}
	svc, _, primary := newTestService(repo, nil, nil)

	resp := svc.HandleA2ARequest(context.Background(), testDescriptor(), A2ARequest{
		Query:     "demurrage claims",
		Context:   "In the context of Carriage of Goods:",
		Limit:     5,
		Requestor: "carriage-of-goods",
	})
	if resp.Status != "success" {
		t.Fatalf("status = %q, message = %q", resp.Status, resp.Message)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	want := "In the context of Carriage of Goods: demurrage claims"
	if got := primary.lastQuery(); got != want {
		t.Errorf("embedded query = %q, want %q", got, want)
	}
}

func TestHandleA2ARequestNeverPropagatesErrors(t *testing.T) {
	repo := &mockRepo{
		vectorFn: func(string, []float32, int) ([]domain.SearchResult, error) {
			return nil, errors.New("index gone")
		},
	}
	svc, _, _ := newTestService(repo, nil, nil)

	resp := svc.HandleA2ARequest(context.Background(), testDescriptor(), A2ARequest{Query: "q"})
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
	if resp.Message == "" {
		t.Error("error response should carry a message")
	}
}

func TestConsultNeighborsAggregatesWithProvenance(t *testing.T) {
	repo := &mockRepo{
		vectorFn: func(domainID string, _ []float32, _ int) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{NodeID: "hit-" + domainID, Similarity: 0.8}}, nil
		},
	}
	resolver := &mockResolver{descriptors: map[string]domain.Descriptor{
		"carriage-of-goods": {ID: "d2", Name: "Carriage of Goods", Slug: "carriage-of-goods"},
		"marine-insurance":  {ID: "d3", Name: "Marine Insurance", Slug: "marine-insurance"},
	}}
	svc, _, _ := newTestService(repo, nil, resolver)

	desc := testDescriptor()
	desc.NeighborSlugs = []string{"carriage-of-goods", "marine-insurance", "missing-shard"}

	results := svc.ConsultNeighbors(context.Background(), desc, "freight liens", 5)
	if len(results) != 2 {
		t.Fatalf("expected 2 aggregated results, got %d", len(results))
	}
	names := make(map[string]bool, 2)
	for _, r := range results {
		if !r.ViaCollaboration {
			t.Errorf("result %s should be marked as collaborative", r.NodeID)
		}
		names[r.SourceDomainName] = true
	}
	if !names["Carriage of Goods"] || !names["Marine Insurance"] {
		t.Errorf("provenance names = %v", names)
	}
}

func TestConsultNeighborsCapsFanout(t *testing.T) {
	resolved := make(map[string]bool)
	var mu sync.Mutex
	resolver := resolverFunc(func(slug string) (domain.Descriptor, bool) {
		mu.Lock()
		resolved[slug] = true
		mu.Unlock()
		return domain.Descriptor{}, false
	})
	svc, _, _ := newTestService(&mockRepo{}, nil, resolver)

	desc := testDescriptor()
	desc.NeighborSlugs = []string{"a", "b", "c", "d", "e"}

	svc.ConsultNeighbors(context.Background(), desc, "q", 5)
	if len(resolved) != maxNeighborConsults {
		t.Errorf("expected %d neighbor lookups, got %d (%v)", maxNeighborConsults, len(resolved), resolved)
	}
}

type resolverFunc func(slug string) (domain.Descriptor, bool)

func (f resolverFunc) DescriptorBySlug(slug string) (domain.Descriptor, bool) { return f(slug) }
