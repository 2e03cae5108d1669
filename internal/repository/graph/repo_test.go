package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lexshard/lexshard/internal/db"
	"github.com/lexshard/lexshard/internal/domain"
)

// fakeStore implements db.Store with function hooks and call recording.
type fakeStore struct {
	hsetMultiCalls  [][]db.HashSetItem
	saddCalls       []db.SetAddItem
	saddMultiCalls  [][]db.SetAddItem
	sremCalls       []db.SetAddItem
	delMultiCalls   [][]string
	hgetAllFn       func(key string) map[string]string
	smembersFn      func(key string) []string
	scanFn          func(pattern string) []string
	searchKNNFn     func(q *db.KNNQuery) (*db.SearchResult, error)
	searchListFn    func(index, query string) (*db.SearchResult, error)
	searchCountFn   func(index, query string) (int, error)
	sinterCardMulti func(pairs [][2]string) ([]int64, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close()                     {}
func (f *fakeStore) WaitForReady(context.Context, time.Duration) error {
	return nil
}

func (f *fakeStore) HSet(_ context.Context, key string, fields map[string]string) error {
	f.hsetMultiCalls = append(f.hsetMultiCalls, []db.HashSetItem{{Key: key, Fields: fields}})
	return nil
}

func (f *fakeStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	f.hsetMultiCalls = append(f.hsetMultiCalls, items)
	return nil
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if f.hgetAllFn == nil {
		return nil, nil
	}
	return f.hgetAllFn(key), nil
}

func (f *fakeStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		if f.hgetAllFn != nil {
			out[i] = f.hgetAllFn(k)
		}
	}
	return out, nil
}

func (f *fakeStore) Del(context.Context, string) error { return nil }

func (f *fakeStore) DelMulti(_ context.Context, keys []string) error {
	f.delMultiCalls = append(f.delMultiCalls, keys)
	return nil
}

func (f *fakeStore) Exists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeStore) Scan(_ context.Context, pattern string) ([]string, error) {
	if f.scanFn == nil {
		return nil, nil
	}
	return f.scanFn(pattern), nil
}

func (f *fakeStore) SAdd(_ context.Context, key string, members ...string) error {
	f.saddCalls = append(f.saddCalls, db.SetAddItem{Key: key, Members: members})
	return nil
}

func (f *fakeStore) SAddMulti(_ context.Context, items []db.SetAddItem) error {
	f.saddMultiCalls = append(f.saddMultiCalls, items)
	return nil
}

func (f *fakeStore) SRem(_ context.Context, key string, members ...string) error {
	f.sremCalls = append(f.sremCalls, db.SetAddItem{Key: key, Members: members})
	return nil
}

func (f *fakeStore) SMembers(_ context.Context, key string) ([]string, error) {
	if f.smembersFn == nil {
		return nil, nil
	}
	return f.smembersFn(key), nil
}

func (f *fakeStore) SMembersMulti(_ context.Context, keys []string) ([][]string, error) {
	out := make([][]string, len(keys))
	for i, k := range keys {
		if f.smembersFn != nil {
			out[i] = f.smembersFn(k)
		}
	}
	return out, nil
}

func (f *fakeStore) SCard(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeStore) SInterCard(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) SInterCardMulti(_ context.Context, pairs [][2]string) ([]int64, error) {
	if f.sinterCardMulti == nil {
		return make([]int64, len(pairs)), nil
	}
	return f.sinterCardMulti(pairs)
}

func (f *fakeStore) CreateIndex(context.Context, *db.IndexDefinition) error { return nil }
func (f *fakeStore) DropIndex(context.Context, string) error                { return nil }
func (f *fakeStore) IndexExists(context.Context, string) (bool, error)     { return false, nil }

func (f *fakeStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if f.searchKNNFn == nil {
		return &db.SearchResult{}, nil
	}
	return f.searchKNNFn(q)
}

func (f *fakeStore) SearchList(_ context.Context, index, query string, _, _ int, _ []string) (*db.SearchResult, error) {
	if f.searchListFn == nil {
		return &db.SearchResult{}, nil
	}
	return f.searchListFn(index, query)
}

func (f *fakeStore) SearchCount(_ context.Context, index, query string) (int, error) {
	if f.searchCountFn == nil {
		return 0, nil
	}
	return f.searchCountFn(index, query)
}

func newTestRepo(store db.Store) *Repo {
	return New(store, Dims{Structural: 4, Primary: 4, Relationship: 4, Routing: 4})
}

func TestCreateNodesWritesHashesAndUnassignedSet(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)

	nodes := []domain.NodeRecord{
		{Node: domain.Node{ID: "n1", Content: "alpha", UnitNumber: "17"}},
		{Node: domain.Node{ID: "n2", Content: "beta"}},
	}
	if err := repo.CreateNodes(context.Background(), nodes); err != nil {
		t.Fatalf("CreateNodes() error = %v", err)
	}

	if len(store.hsetMultiCalls) != 1 {
		t.Fatalf("expected 1 pipelined HSET, got %d", len(store.hsetMultiCalls))
	}
	items := store.hsetMultiCalls[0]
	if items[0].Key != "node:n1" || items[1].Key != "node:n2" {
		t.Errorf("unexpected keys %q, %q", items[0].Key, items[1].Key)
	}
	if items[0].Fields["unit_number"] != "17" {
		t.Errorf("unit_number = %q, want 17", items[0].Fields["unit_number"])
	}

	if len(store.saddCalls) != 1 || store.saddCalls[0].Key != unassignedKey {
		t.Fatalf("expected SADD to %s, got %+v", unassignedKey, store.saddCalls)
	}
	if len(store.saddCalls[0].Members) != 2 {
		t.Errorf("expected 2 unassigned members, got %d", len(store.saddCalls[0].Members))
	}
}

func TestAddEdgesParentChildSymmetry(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)

	edges := []domain.Edge{
		{From: "n1", To: "u1", Kind: domain.EdgeParent},
		{From: "n1", To: "n9", Kind: domain.EdgeImplements},
	}
	if err := repo.AddEdges(context.Background(), edges); err != nil {
		t.Fatalf("AddEdges() error = %v", err)
	}

	if len(store.saddMultiCalls) != 1 {
		t.Fatalf("expected 1 pipelined SADD, got %d", len(store.saddMultiCalls))
	}
	got := make(map[string][]string)
	for _, item := range store.saddMultiCalls[0] {
		got[item.Key] = item.Members
	}
	if members := got["edge:parents:n1"]; len(members) != 1 || members[0] != "u1" {
		t.Errorf("parents of n1 = %v, want [u1]", members)
	}
	if members := got["edge:children:u1"]; len(members) != 1 || members[0] != "n1" {
		t.Errorf("children of u1 = %v, want [n1]", members)
	}
	if members := got["edge:refs:n1"]; len(members) != 1 || members[0] != "n9" {
		t.Errorf("refs of n1 = %v, want [n9]", members)
	}
}

func TestBatchAssignNodesSplitsIntoBatches(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)

	n := assignBatchSize*2 + 500
	ids := make([]string, n)
	sims := make([]float64, n)
	for i := range ids {
		ids[i] = "n" + string(rune('a'+i%26))
		sims[i] = 0.8
	}

	if err := repo.BatchAssignNodes(context.Background(), "d1", ids, sims); err != nil {
		t.Fatalf("BatchAssignNodes() error = %v", err)
	}

	if len(store.hsetMultiCalls) != 3 {
		t.Fatalf("expected 3 node batches, got %d", len(store.hsetMultiCalls))
	}
	if got := len(store.hsetMultiCalls[0]); got != assignBatchSize {
		t.Errorf("first batch size = %d, want %d", got, assignBatchSize)
	}
	if got := len(store.hsetMultiCalls[2]); got != 500 {
		t.Errorf("last batch size = %d, want 500", got)
	}

	fields := store.hsetMultiCalls[0][0].Fields
	if fields["domain"] != "d1" {
		t.Errorf("domain = %q, want d1", fields["domain"])
	}
	if fields["domain_similarity"] != "0.8000" {
		t.Errorf("domain_similarity = %q, want 0.8000", fields["domain_similarity"])
	}

	if len(store.sremCalls) != 3 || store.sremCalls[0].Key != unassignedKey {
		t.Fatalf("expected 3 SREM from %s, got %+v", unassignedKey, store.sremCalls)
	}
}

func TestBatchAssignNodesTagsParentUnits(t *testing.T) {
	store := &fakeStore{
		smembersFn: func(key string) []string {
			if key == "edge:parents:n1" {
				return []string{"u1"}
			}
			return nil
		},
		hgetAllFn: func(key string) map[string]string {
			if key == "unit:u1" {
				return map[string]string{"title": "Chapter II"}
			}
			return nil
		},
	}
	repo := newTestRepo(store)

	if err := repo.BatchAssignNodes(context.Background(), "d1", []string{"n1", "n2"}, []float64{0.9, 0.9}); err != nil {
		t.Fatalf("BatchAssignNodes() error = %v", err)
	}

	// Last pipelined HSET carries the unit domain tag.
	last := store.hsetMultiCalls[len(store.hsetMultiCalls)-1]
	if len(last) != 1 || last[0].Key != "unit:u1" {
		t.Fatalf("expected unit tag write for unit:u1, got %+v", last)
	}
	if last[0].Fields["domain"] != "d1" {
		t.Errorf("unit domain = %q, want d1", last[0].Fields["domain"])
	}
}

func TestCrossReferenceCountSumsIntersections(t *testing.T) {
	var seen [][2]string
	store := &fakeStore{
		sinterCardMulti: func(pairs [][2]string) ([]int64, error) {
			seen = pairs
			return []int64{3, 0, 4}, nil
		},
	}
	repo := newTestRepo(store)

	total, err := repo.CrossReferenceCount(context.Background(), []string{"n1", "n2", "n3"}, "d2")
	if err != nil {
		t.Fatalf("CrossReferenceCount() error = %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(seen) != 3 || seen[0] != [2]string{"edge:refs:n1", "domain:members:d2"} {
		t.Errorf("unexpected pairs %v", seen)
	}
}

func TestFindNearestByVectorScopesToDomain(t *testing.T) {
	var gotQuery *db.KNNQuery
	store := &fakeStore{
		searchKNNFn: func(q *db.KNNQuery) (*db.SearchResult, error) {
			gotQuery = q
			return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{
				{Key: "node:n1", Score: 0.91, Fields: map[string]string{
					"content": "text", "path": "act/ch2/art17", "full_id": "ACT-17",
				}},
			}}, nil
		},
	}
	repo := newTestRepo(store)

	results, err := repo.FindNearestByVector(context.Background(), "d1", []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("FindNearestByVector() error = %v", err)
	}

	if gotQuery.IndexName != contentIndexName {
		t.Errorf("index = %q, want %q", gotQuery.IndexName, contentIndexName)
	}
	if !strings.Contains(gotQuery.Filter, "@domain:{d1}") {
		t.Errorf("filter %q does not scope to domain", gotQuery.Filter)
	}
	if len(results) != 1 || results[0].NodeID != "n1" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Similarity != 0.91 {
		t.Errorf("similarity = %v, want 0.91", results[0].Similarity)
	}
}

func TestFindNearestUnitsExcludesPath(t *testing.T) {
	var gotQuery *db.KNNQuery
	store := &fakeStore{
		searchKNNFn: func(q *db.KNNQuery) (*db.SearchResult, error) {
			gotQuery = q
			return &db.SearchResult{}, nil
		},
	}
	repo := newTestRepo(store)

	if _, err := repo.FindNearestUnits(context.Background(), "d1", []float32{1, 0, 0, 0}, 5, "act/ch1"); err != nil {
		t.Fatalf("FindNearestUnits() error = %v", err)
	}

	if gotQuery.IndexName != unitIndexName {
		t.Errorf("index = %q, want %q", gotQuery.IndexName, unitIndexName)
	}
	if !strings.Contains(gotQuery.Filter, "-@path:") {
		t.Errorf("filter %q does not exclude path", gotQuery.Filter)
	}
}

func TestTraverseRelatedExcludesSeedsAndDeduplicates(t *testing.T) {
	store := &fakeStore{
		smembersFn: func(key string) []string {
			switch key {
			case "edge:parents:n1":
				return []string{"u1"}
			case "edge:refs:n1":
				return []string{"n2", "n3"}
			case "edge:refs:n2":
				return []string{"n3", "n1"}
			}
			return nil
		},
		hgetAllFn: func(key string) map[string]string {
			return map[string]string{
				"content":              "body of " + key,
				"structural_embedding": vectorToBytes([]float32{0.5, 0.5, 0, 0}),
			}
		},
	}
	repo := newTestRepo(store)

	related, err := repo.TraverseRelated(context.Background(), []string{"n1", "n2"})
	if err != nil {
		t.Fatalf("TraverseRelated() error = %v", err)
	}

	got := make(map[string]bool)
	for _, rn := range related {
		if got[rn.ID] {
			t.Errorf("duplicate related node %s", rn.ID)
		}
		got[rn.ID] = true
		if rn.StructuralEmbedding == nil {
			t.Errorf("node %s missing structural embedding", rn.ID)
		}
	}
	if !got["u1"] || !got["n3"] {
		t.Errorf("expected u1 and n3 reached, got %v", got)
	}
	if got["n1"] || got["n2"] {
		t.Errorf("seeds must be excluded, got %v", got)
	}
}

func TestFindParentTitledAncestorWalksUp(t *testing.T) {
	store := &fakeStore{
		smembersFn: func(key string) []string {
			switch key {
			case "edge:parents:n1":
				return []string{"mid"}
			case "edge:parents:mid":
				return []string{"u1"}
			}
			return nil
		},
		hgetAllFn: func(key string) map[string]string {
			if key == "unit:u1" {
				return map[string]string{
					"title": "General Provisions", "unit_number": "I",
					"source_name": "Civil Code", "source_type": "code",
				}
			}
			return map[string]string{}
		},
	}
	repo := newTestRepo(store)

	meta, err := repo.FindParentTitledAncestor(context.Background(), "n1")
	if err != nil {
		t.Fatalf("FindParentTitledAncestor() error = %v", err)
	}
	if meta.Title != "General Provisions" || meta.SourceName != "Civil Code" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestFindParentTitledAncestorNotFound(t *testing.T) {
	repo := newTestRepo(&fakeStore{})

	_, err := repo.FindParentTitledAncestor(context.Background(), "orphan")
	if !errors.Is(err, domain.ErrNodeNotFound) {
		t.Fatalf("error = %v, want ErrNodeNotFound", err)
	}
}

func TestLoadDomainsParsesRecords(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scanFn: func(pattern string) []string {
			if pattern != domainKeyPrefix+"*" {
				return nil
			}
			return []string{"domain:meta:d1"}
		},
		hgetAllFn: func(key string) map[string]string {
			if key != "domain:meta:d1" {
				return nil
			}
			return map[string]string{
				"name":       "Contract Obligations",
				"slug":       "contract-obligations",
				"centroid":   vectorToBytes([]float32{1, 0, 0, 0}),
				"neighbors":  "d2,d3",
				"created_at": "1772366400000",
				"updated_at": "1772366400000",
			}
		},
		smembersFn: func(key string) []string {
			if key == "domain:members:d1" {
				return []string{"n1", "n2"}
			}
			return nil
		},
	}
	repo := newTestRepo(store)

	domains, err := repo.LoadDomains(context.Background())
	if err != nil {
		t.Fatalf("LoadDomains() error = %v", err)
	}
	if len(domains) != 1 {
		t.Fatalf("expected 1 domain, got %d", len(domains))
	}

	d := domains[0]
	if d.ID != "d1" || d.Slug != "contract-obligations" {
		t.Errorf("unexpected record %+v", d)
	}
	if len(d.NeighborIDs) != 2 || d.NeighborIDs[1] != "d3" {
		t.Errorf("neighbors = %v, want [d2 d3]", d.NeighborIDs)
	}
	if len(d.MemberIDs) != 2 {
		t.Errorf("members = %v, want 2 ids", d.MemberIDs)
	}
	if !d.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", d.CreatedAt, created)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out := bytesToVector(vectorToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, in[i], out[i])
		}
	}
}
