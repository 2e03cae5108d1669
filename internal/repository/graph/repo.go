// Package graph is the persistence layer for the corpus graph: node and
// container-unit records, the three vector indexes, domain membership and
// structural edges, all on a Redis 8+ store.
package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexshard/lexshard/internal/db"
	"github.com/lexshard/lexshard/internal/domain"
)

// assignBatchSize bounds one pipelined membership write.
const assignBatchSize = 1000

// Repo implements the graph repository contracts of the registry, worker,
// ingest and health use cases.
type Repo struct {
	store db.Store
	dims  Dims
	hnsw  HNSWConfig
}

// New creates a graph repository.
func New(store db.Store, dims Dims) *Repo {
	return &Repo{store: store, dims: dims}
}

// WithHNSW overrides vector index build parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.hnsw = cfg
	return r
}

// --- Nodes ---

// CreateNodes persists node records and marks them unassigned.
func (r *Repo) CreateNodes(ctx context.Context, nodes []domain.NodeRecord) error {
	if len(nodes) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(nodes))
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		items[i] = db.HashSetItem{Key: nodeKey(n.ID), Fields: nodeFields(&n)}
		ids[i] = n.ID
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("create nodes: %w", err)
	}
	if err := r.store.SAdd(ctx, unassignedKey, ids...); err != nil {
		return fmt.Errorf("mark unassigned: %w", err)
	}
	return nil
}

// UpsertUnits persists container-unit records.
func (r *Repo) UpsertUnits(ctx context.Context, units []domain.UnitRecord) error {
	if len(units) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(units))
	for i, u := range units {
		items[i] = db.HashSetItem{Key: unitKey(u.ID), Fields: map[string]string{
			"unit_number": u.UnitNumber,
			"title":       u.Title,
			"content":     u.Content,
			"path":        u.Path,
			"embedding":   vectorToBytes(u.Embedding),
		}}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert units: %w", err)
	}
	return nil
}

// AddEdges records structural relationships. Parent/child edges are written
// symmetrically; cross-references land in the outbound refs set used for
// neighbor-network counting.
func (r *Repo) AddEdges(ctx context.Context, edges []domain.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	byKey := make(map[string][]string)
	for _, e := range edges {
		switch e.Kind {
		case domain.EdgeParent:
			byKey[parentsKey(e.From)] = append(byKey[parentsKey(e.From)], e.To)
			byKey[childrenKey(e.To)] = append(byKey[childrenKey(e.To)], e.From)
		case domain.EdgeChild:
			byKey[childrenKey(e.From)] = append(byKey[childrenKey(e.From)], e.To)
			byKey[parentsKey(e.To)] = append(byKey[parentsKey(e.To)], e.From)
		case domain.EdgeImplements, domain.EdgeDerivedFrom, domain.EdgeCites:
			byKey[refsKey(e.From)] = append(byKey[refsKey(e.From)], e.To)
		}
	}

	items := make([]db.SetAddItem, 0, len(byKey))
	for key, members := range byKey {
		items = append(items, db.SetAddItem{Key: key, Members: members})
	}
	if err := r.store.SAddMulti(ctx, items); err != nil {
		return fmt.Errorf("add edges: %w", err)
	}
	return nil
}

// UnassignedNodes returns nodes awaiting domain assignment, with their
// routing-space embeddings.
func (r *Repo) UnassignedNodes(ctx context.Context) ([]domain.NodeRecord, error) {
	ids, err := r.store.SMembers(ctx, unassignedKey)
	if err != nil {
		return nil, fmt.Errorf("unassigned members: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = nodeKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("unassigned hashes: %w", err)
	}

	out := make([]domain.NodeRecord, 0, len(ids))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		out = append(out, parseNodeRecord(ids[i], m))
	}
	return out, nil
}

// FetchRoutingEmbeddings loads routing-space vectors for the given node ids.
func (r *Repo) FetchRoutingEmbeddings(ctx context.Context, nodeIDs []string) (map[string][]float32, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		keys[i] = nodeKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("routing embeddings: %w", err)
	}

	out := make(map[string][]float32, len(nodeIDs))
	for i, m := range hashes {
		if v := bytesToVector(m["routing_embedding"]); v != nil {
			out[nodeIDs[i]] = v
		}
	}
	return out, nil
}

// NodeCount returns the total indexed node count.
func (r *Repo) NodeCount(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, contentIndexName, "*")
	if err != nil {
		return 0, fmt.Errorf("node count: %w", err)
	}
	return n, nil
}

// --- Domains ---

// LoadDomains loads every persisted domain with membership and centroid.
func (r *Repo) LoadDomains(ctx context.Context) ([]domain.DomainRecord, error) {
	keys, err := r.store.Scan(ctx, domainKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan domains: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load domain hashes: %w", err)
	}

	records := make([]domain.DomainRecord, 0, len(keys))
	memberKeys := make([]string, 0, len(keys))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		id := keys[i][len(domainKeyPrefix):]
		records = append(records, parseDomainRecord(id, m))
		memberKeys = append(memberKeys, membersKey(id))
	}

	memberSets, err := r.store.SMembersMulti(ctx, memberKeys)
	if err != nil {
		return nil, fmt.Errorf("load domain members: %w", err)
	}
	for i := range records {
		records[i].MemberIDs = memberSets[i]
	}
	return records, nil
}

// UpsertDomain persists the domain record (metadata, centroid, neighbors).
// Membership is written separately through BatchAssignNodes.
func (r *Repo) UpsertDomain(ctx context.Context, rec domain.DomainRecord) error {
	fields := map[string]string{
		"name":       rec.Name,
		"slug":       rec.Slug,
		"centroid":   vectorToBytes(rec.Centroid),
		"neighbors":  strings.Join(rec.NeighborIDs, ","),
		"created_at": strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		"updated_at": strconv.FormatInt(rec.UpdatedAt.UnixMilli(), 10),
	}
	if err := r.store.HSet(ctx, domainKey(rec.ID), fields); err != nil {
		return fmt.Errorf("upsert domain %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteDomainCascade removes a domain, its membership set, and the domain
// marker on every member node.
func (r *Repo) DeleteDomainCascade(ctx context.Context, id string) error {
	members, err := r.store.SMembers(ctx, membersKey(id))
	if err != nil {
		return fmt.Errorf("cascade members %s: %w", id, err)
	}

	if len(members) > 0 {
		items := make([]db.HashSetItem, len(members))
		for i, nodeID := range members {
			items[i] = db.HashSetItem{
				Key:    nodeKey(nodeID),
				Fields: map[string]string{"domain": "", "domain_similarity": ""},
			}
		}
		if err := r.store.HSetMulti(ctx, items); err != nil {
			return fmt.Errorf("cascade clear nodes %s: %w", id, err)
		}
	}

	if err := r.store.DelMulti(ctx, []string{domainKey(id), membersKey(id)}); err != nil {
		return fmt.Errorf("cascade delete %s: %w", id, err)
	}
	return nil
}

// BatchAssignNodes records node membership in batches: node domain tag,
// centroid similarity, membership set, unassigned cleanup.
func (r *Repo) BatchAssignNodes(ctx context.Context, domainID string, nodeIDs []string, similarities []float64) error {
	for start := 0; start < len(nodeIDs); start += assignBatchSize {
		end := min(start+assignBatchSize, len(nodeIDs))
		batch := nodeIDs[start:end]

		items := make([]db.HashSetItem, len(batch))
		for i, nodeID := range batch {
			sim := 0.0
			if start+i < len(similarities) {
				sim = similarities[start+i]
			}
			items[i] = db.HashSetItem{Key: nodeKey(nodeID), Fields: map[string]string{
				"domain":            domainID,
				"domain_similarity": strconv.FormatFloat(sim, 'f', 4, 64),
			}}
		}
		if err := r.store.HSetMulti(ctx, items); err != nil {
			return fmt.Errorf("assign batch [%d:%d]: %w", start, end, err)
		}
		if err := r.store.SAdd(ctx, membersKey(domainID), batch...); err != nil {
			return fmt.Errorf("assign members [%d:%d]: %w", start, end, err)
		}
		if err := r.store.SRem(ctx, unassignedKey, batch...); err != nil {
			return fmt.Errorf("assign unassigned [%d:%d]: %w", start, end, err)
		}
		if err := r.tagParentUnits(ctx, domainID, batch); err != nil {
			return fmt.Errorf("assign units [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// tagParentUnits propagates the domain tag to container units holding the
// assigned nodes. A unit whose children span domains keeps the last writer;
// unit search tolerates that bias.
func (r *Repo) tagParentUnits(ctx context.Context, domainID string, nodeIDs []string) error {
	edgeKeys := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		edgeKeys[i] = parentsKey(id)
	}
	sets, err := r.store.SMembersMulti(ctx, edgeKeys)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	var unitIDs []string
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				unitIDs = append(unitIDs, id)
			}
		}
	}
	if len(unitIDs) == 0 {
		return nil
	}

	// Parents can be units or plain nodes; only existing unit hashes are tagged.
	keys := make([]string, len(unitIDs))
	for i, id := range unitIDs {
		keys[i] = unitKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return err
	}

	var items []db.HashSetItem
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		items = append(items, db.HashSetItem{
			Key:    keys[i],
			Fields: map[string]string{"domain": domainID},
		})
	}
	if len(items) == 0 {
		return nil
	}
	return r.store.HSetMulti(ctx, items)
}

// CrossReferenceCount counts implements/derived-from edges from the given
// member nodes into another domain's member set.
func (r *Repo) CrossReferenceCount(ctx context.Context, memberIDs []string, otherDomainID string) (int, error) {
	if len(memberIDs) == 0 {
		return 0, nil
	}

	pairs := make([][2]string, len(memberIDs))
	for i, id := range memberIDs {
		pairs[i] = [2]string{refsKey(id), membersKey(otherDomainID)}
	}
	counts, err := r.store.SInterCardMulti(ctx, pairs)
	if err != nil {
		return 0, fmt.Errorf("cross-reference count: %w", err)
	}

	total := 0
	for _, c := range counts {
		total += int(c)
	}
	return total, nil
}

// --- Retrieval ---

var nodeReturnFields = []string{"content", "path", "full_id", "__vector_score"}

// FindByUnitNumber returns a domain's member nodes carrying the given
// container unit number (exact structural identifier match).
func (r *Repo) FindByUnitNumber(ctx context.Context, domainID, unitNumber string) ([]domain.SearchResult, error) {
	query := db.And(db.TagFilter("domain", domainID), db.TagFilter("unit_number", unitNumber))
	sr, err := r.store.SearchList(ctx, contentIndexName, query, 0, 10, nodeReturnFields[:3])
	if err != nil {
		return nil, fmt.Errorf("find by unit number: %w", err)
	}

	out := make([]domain.SearchResult, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		res := entryToResult(e)
		res.Similarity = 1.0
		out = append(out, res)
	}
	return out, nil
}

// FindNearestByVector runs primary-space KNN restricted to a domain's members.
func (r *Repo) FindNearestByVector(ctx context.Context, domainID string, vector []float32, k int) ([]domain.SearchResult, error) {
	return r.knn(ctx, &db.KNNQuery{
		IndexName:    contentIndexName,
		Filter:       db.TagFilter("domain", domainID),
		Vector:       vector,
		VectorField:  "embedding",
		K:            k,
		ReturnFields: nodeReturnFields,
	})
}

// FindNearestByRelationshipVector runs relationship-space KNN restricted to a
// domain's members.
func (r *Repo) FindNearestByRelationshipVector(ctx context.Context, domainID string, vector []float32, k int) ([]domain.SearchResult, error) {
	return r.knn(ctx, &db.KNNQuery{
		IndexName:    relationIndexName,
		Filter:       db.TagFilter("domain", domainID),
		Vector:       vector,
		VectorField:  "rel_embedding",
		K:            k,
		ReturnFields: nodeReturnFields,
	})
}

// FindNearestUnits runs primary-space KNN over container units, excluding one
// structural path subtree.
func (r *Repo) FindNearestUnits(ctx context.Context, domainID string, vector []float32, k int, excludePath string) ([]domain.SearchResult, error) {
	filter := db.TagFilter("domain", domainID)
	if excludePath != "" {
		filter = db.And(filter, db.Not(db.TagFilter("path", excludePath)))
	}
	return r.knn(ctx, &db.KNNQuery{
		IndexName:    unitIndexName,
		Filter:       filter,
		Vector:       vector,
		VectorField:  "embedding",
		K:            k,
		ReturnFields: []string{"content", "path", "unit_number", "__vector_score"},
	})
}

func (r *Repo) knn(ctx context.Context, q *db.KNNQuery) ([]domain.SearchResult, error) {
	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knn %s: %w", q.IndexName, err)
	}
	out := make([]domain.SearchResult, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		res := entryToResult(e)
		res.Similarity = e.Score
		out = append(out, res)
	}
	return out, nil
}

// FindChildUnits returns the leaf nodes under a container unit, with their
// primary-space vectors for scoring.
func (r *Repo) FindChildUnits(ctx context.Context, unitID string, limit int) ([]domain.ChildNode, error) {
	ids, err := r.store.SMembers(ctx, childrenKey(unitID))
	if err != nil {
		return nil, fmt.Errorf("child units %s: %w", unitID, err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = nodeKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("child hashes %s: %w", unitID, err)
	}

	out := make([]domain.ChildNode, 0, len(ids))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		out = append(out, domain.ChildNode{
			ID:        ids[i],
			Content:   m["content"],
			Path:      m["path"],
			FullID:    m["full_id"],
			Embedding: bytesToVector(m["embedding"]),
		})
	}
	return out, nil
}

// TraverseRelated walks one hop of parent/child and cross-reference edges
// from the seed nodes and returns reached nodes with their structural-space
// vectors. Seeds themselves are excluded. The traversal is deliberately not
// restricted to any domain's member set.
func (r *Repo) TraverseRelated(ctx context.Context, seedIDs []string) ([]domain.RelatedNode, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	edgeKeys := make([]string, 0, len(seedIDs)*3)
	for _, id := range seedIDs {
		edgeKeys = append(edgeKeys, parentsKey(id), childrenKey(id), refsKey(id))
	}
	sets, err := r.store.SMembersMulti(ctx, edgeKeys)
	if err != nil {
		return nil, fmt.Errorf("traverse edges: %w", err)
	}

	seeds := make(map[string]struct{}, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = struct{}{}
	}
	reached := make(map[string]struct{})
	var ids []string
	for _, set := range sets {
		for _, id := range set {
			if _, isSeed := seeds[id]; isSeed {
				continue
			}
			if _, seen := reached[id]; seen {
				continue
			}
			reached[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = nodeKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("traverse hashes: %w", err)
	}

	out := make([]domain.RelatedNode, 0, len(ids))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		out = append(out, domain.RelatedNode{
			ID:                  ids[i],
			Content:             m["content"],
			Path:                m["path"],
			FullID:              m["full_id"],
			StructuralEmbedding: bytesToVector(m["structural_embedding"]),
		})
	}
	return out, nil
}

// FindParentTitledAncestor walks parent edges until it reaches a node with a
// title, returning document-level metadata for enrichment.
func (r *Repo) FindParentTitledAncestor(ctx context.Context, nodeID string) (domain.NodeMetadata, error) {
	const maxDepth = 5

	current := nodeID
	for depth := 0; depth < maxDepth; depth++ {
		parents, err := r.store.SMembers(ctx, parentsKey(current))
		if err != nil {
			return domain.NodeMetadata{}, fmt.Errorf("ancestor of %s: %w", nodeID, err)
		}
		if len(parents) == 0 {
			break
		}
		current = parents[0]

		// Parents are usually container units; fall back to the node hash
		// for titled intermediate nodes.
		hashes, err := r.store.HGetAllMulti(ctx, []string{unitKey(current), nodeKey(current)})
		if err != nil {
			return domain.NodeMetadata{}, fmt.Errorf("ancestor hash %s: %w", current, err)
		}
		for _, m := range hashes {
			if m["title"] != "" {
				return domain.NodeMetadata{
					SourceName: m["source_name"],
					SourceType: m["source_type"],
					UnitNumber: m["unit_number"],
					Title:      m["title"],
				}, nil
			}
		}
	}
	return domain.NodeMetadata{}, domain.ErrNodeNotFound
}

// NodeMetadataFor loads document-level metadata for the given nodes in one
// round-trip. Missing nodes are omitted.
func (r *Repo) NodeMetadataFor(ctx context.Context, nodeIDs []string) (map[string]domain.NodeMetadata, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		keys[i] = nodeKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("node metadata: %w", err)
	}

	out := make(map[string]domain.NodeMetadata, len(nodeIDs))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		out[nodeIDs[i]] = domain.NodeMetadata{
			SourceName: m["source_name"],
			SourceType: m["source_type"],
			UnitNumber: m["unit_number"],
			Title:      m["title"],
		}
	}
	return out, nil
}

// --- Hash codecs ---

func nodeFields(n *domain.NodeRecord) map[string]string {
	return map[string]string{
		"content":              n.Content,
		"path":                 n.Path,
		"full_id":              n.FullID,
		"unit_number":          n.UnitNumber,
		"title":                n.Title,
		"domain":               "",
		"source_name":          n.SourceName,
		"source_type":          n.SourceType,
		"embedding":            vectorToBytes(n.Embedding),
		"structural_embedding": vectorToBytes(n.StructuralEmbedding),
		"rel_embedding":        vectorToBytes(n.RelationshipEmbedding),
		"routing_embedding":    vectorToBytes(n.RoutingEmbedding),
	}
}

func parseNodeRecord(id string, m map[string]string) domain.NodeRecord {
	return domain.NodeRecord{
		Node: domain.Node{
			ID:         id,
			Content:    m["content"],
			Path:       m["path"],
			FullID:     m["full_id"],
			UnitNumber: m["unit_number"],
			Title:      m["title"],
			Embedding:  bytesToVector(m["embedding"]),
		},
		SourceName:            m["source_name"],
		SourceType:            m["source_type"],
		StructuralEmbedding:   bytesToVector(m["structural_embedding"]),
		RelationshipEmbedding: bytesToVector(m["rel_embedding"]),
		RoutingEmbedding:      bytesToVector(m["routing_embedding"]),
	}
}

func parseDomainRecord(id string, m map[string]string) domain.DomainRecord {
	rec := domain.DomainRecord{
		ID:       id,
		Name:     m["name"],
		Slug:     m["slug"],
		Centroid: bytesToVector(m["centroid"]),
	}
	if m["neighbors"] != "" {
		rec.NeighborIDs = strings.Split(m["neighbors"], ",")
	}
	if ms, err := strconv.ParseInt(m["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(m["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return rec
}

func entryToResult(e db.SearchEntry) domain.SearchResult {
	id := e.Key
	for _, prefix := range []string{nodeKeyPrefix, unitKeyPrefix} {
		if trimmed, ok := strings.CutPrefix(id, prefix); ok {
			id = trimmed
			break
		}
	}
	return domain.SearchResult{
		NodeID:  id,
		Content: e.Fields["content"],
		Path:    e.Fields["path"],
		FullID:  e.Fields["full_id"],
	}
}
