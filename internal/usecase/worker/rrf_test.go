package worker

import (
	"math"
	"testing"

	"github.com/lexshard/lexshard/internal/domain"
)

func stageHit(id string, sim float64, stage domain.Stage) domain.SearchResult {
	r := domain.SearchResult{NodeID: id, Similarity: sim}
	r.AddStage(stage)
	return r
}

func TestFuseRRFScoresAndOrder(t *testing.T) {
	listA := []domain.SearchResult{
		stageHit("n1", 0.9, domain.StageVector),
		stageHit("n2", 0.8, domain.StageVector),
	}
	listB := []domain.SearchResult{
		stageHit("n2", 0.7, domain.StageRelationship),
		stageHit("n3", 0.6, domain.StageRelationship),
	}

	out := fuseRRF([][]domain.SearchResult{listA, listB}, 60)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(out))
	}

	if out[0].res.NodeID != "n2" {
		t.Errorf("expected n2 first (present in both lists), got %s", out[0].res.NodeID)
	}
	wantN2 := 1.0/62 + 1.0/61
	if math.Abs(out[0].rrf-wantN2) > 1e-12 {
		t.Errorf("n2 rrf = %v, want %v", out[0].rrf, wantN2)
	}
	if out[1].res.NodeID != "n1" || out[2].res.NodeID != "n3" {
		t.Errorf("unexpected tail order: %s, %s", out[1].res.NodeID, out[2].res.NodeID)
	}

	if !out[0].res.HasStage(domain.StageVector) || !out[0].res.HasStage(domain.StageRelationship) {
		t.Error("n2 should carry stage tags from both lists")
	}
	if out[0].res.Similarity != 0.8 {
		t.Errorf("n2 should keep the highest similarity 0.8, got %v", out[0].res.Similarity)
	}
}

func TestFuseRRFDeterministicTieBreak(t *testing.T) {
	listA := []domain.SearchResult{stageHit("zzz", 0.9, domain.StageVector)}
	listB := []domain.SearchResult{stageHit("aaa", 0.9, domain.StageRelationship)}

	for range 10 {
		out := fuseRRF([][]domain.SearchResult{listA, listB}, 60)
		if len(out) != 2 {
			t.Fatalf("expected 2 results, got %d", len(out))
		}
		if out[0].res.NodeID != "aaa" {
			t.Fatalf("equal scores must order by node id, got %s first", out[0].res.NodeID)
		}
	}
}

func TestFuseRRFDefaultsK(t *testing.T) {
	out := fuseRRF([][]domain.SearchResult{{stageHit("n1", 0.5, domain.StageVector)}}, 0)
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if math.Abs(out[0].rrf-1.0/61) > 1e-12 {
		t.Errorf("rrf with default k = %v, want %v", out[0].rrf, 1.0/61)
	}
}
