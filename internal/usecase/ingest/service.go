// Package ingest turns pre-extracted leaf units into persisted graph nodes:
// container grouping, pooled batch embedding across all four spaces, edge
// creation, and hand-off to the domain registry.
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/usecase/registry"
)

// Config holds ingestion tuning.
type Config struct {
	// PoolSize is the embedding worker pool size. Zero means NumCPU/2.
	PoolSize int
	// EmbedBatch is the number of texts per provider batch call.
	EmbedBatch int
	// MaxBatchSize caps leaf units per ingestion request.
	MaxBatchSize int
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU() / 2
		if c.PoolSize < 1 {
			c.PoolSize = 1
		}
	}
	if c.EmbedBatch <= 0 {
		c.EmbedBatch = 32
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	return c
}

// Request is one ingestion call: an ordered list of leaf units extracted
// from a single source document.
type Request struct {
	SourceName string
	SourceType string
	Units      []domain.LeafUnit
}

// Result reports what one ingestion call produced.
type Result struct {
	NodesCreated int
	UnitsCreated int
	EdgesCreated int
	Assigned     int
}

// Service is the ingestion pipeline.
type Service struct {
	repo         Repository
	structural   domain.BatchEmbedder
	primary      domain.BatchEmbedder
	relationship domain.BatchEmbedder
	routing      domain.BatchEmbedder
	assigner     Assigner
	pool         *ants.Pool
	cfg          Config
	logger       *zap.Logger
}

// New creates the ingestion service and its embedding worker pool.
func New(
	repo Repository,
	structural, primary, relationship, routing domain.BatchEmbedder,
	assigner Assigner,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	cfg = cfg.withDefaults()
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}
	return &Service{
		repo:         repo,
		structural:   structural,
		primary:      primary,
		relationship: relationship,
		routing:      routing,
		assigner:     assigner,
		pool:         pool,
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Release frees the worker pool. The service must not be used afterwards.
func (s *Service) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Ingest embeds and persists the request's leaf units, groups them into
// container units, wires parent/child edges, and hands the nodes to the
// registry for domain assignment. Graph-store write failures are logged and
// skipped so a persistence blip never loses the in-memory assignment.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if len(req.Units) == 0 {
		return Result{}, fmt.Errorf("empty ingestion request")
	}
	if len(req.Units) > s.cfg.MaxBatchSize {
		return Result{}, fmt.Errorf("ingestion batch of %d exceeds cap %d", len(req.Units), s.cfg.MaxBatchSize)
	}

	nodes := make([]domain.NodeRecord, len(req.Units))
	for i, u := range req.Units {
		nodes[i] = domain.NodeRecord{
			Node: domain.Node{
				ID:         uuid.NewString(),
				Content:    u.Content,
				Path:       u.Path,
				FullID:     u.FullID,
				UnitNumber: u.UnitNumber,
				Title:      u.Title,
			},
			SourceName: req.SourceName,
			SourceType: req.SourceType,
		}
	}

	if err := s.embedNodes(ctx, nodes); err != nil {
		return Result{}, err
	}

	units, edges := buildContainers(nodes)
	edges = append(edges, crossReferences(nodes)...)
	if err := s.embedUnits(ctx, units); err != nil {
		return Result{}, err
	}

	res := Result{NodesCreated: len(nodes), UnitsCreated: len(units), EdgesCreated: len(edges)}

	if err := s.repo.CreateNodes(ctx, nodes); err != nil {
		s.logger.Warn("node persistence failed, continuing in memory", zap.Error(err))
	}
	if err := s.repo.UpsertUnits(ctx, units); err != nil {
		s.logger.Warn("unit persistence failed, continuing in memory", zap.Error(err))
	}
	if err := s.repo.AddEdges(ctx, edges); err != nil {
		s.logger.Warn("edge persistence failed, continuing in memory", zap.Error(err))
	}

	candidates := make([]registry.Candidate, len(nodes))
	for i, n := range nodes {
		candidates[i] = registry.Candidate{
			ID:        n.ID,
			Content:   n.Content,
			Embedding: n.RoutingEmbedding,
		}
	}
	if err := s.assigner.AssignNodes(ctx, candidates); err != nil {
		return res, fmt.Errorf("domain assignment: %w", err)
	}
	res.Assigned = len(candidates)
	return res, nil
}

// embedNodes fills all four embedding spaces. The spaces see different text:
// structural embeds the identifier context, relationship and routing embed
// title-prefixed content, primary embeds the raw content.
func (s *Service) embedNodes(ctx context.Context, nodes []domain.NodeRecord) error {
	contents := make([]string, len(nodes))
	structuralTexts := make([]string, len(nodes))
	titledTexts := make([]string, len(nodes))
	for i, n := range nodes {
		contents[i] = n.Content
		structuralTexts[i] = structuralText(n)
		titledTexts[i] = titledText(n)
	}

	primaryVecs, err := s.embedSpace(ctx, s.primary, contents)
	if err != nil {
		return fmt.Errorf("primary embeddings: %w", err)
	}
	structuralVecs, err := s.embedSpace(ctx, s.structural, structuralTexts)
	if err != nil {
		return fmt.Errorf("structural embeddings: %w", err)
	}
	relationVecs, err := s.embedSpace(ctx, s.relationship, titledTexts)
	if err != nil {
		return fmt.Errorf("relationship embeddings: %w", err)
	}
	routingVecs, err := s.embedSpace(ctx, s.routing, titledTexts)
	if err != nil {
		return fmt.Errorf("routing embeddings: %w", err)
	}

	for i := range nodes {
		nodes[i].Embedding = primaryVecs[i]
		nodes[i].StructuralEmbedding = structuralVecs[i]
		nodes[i].RelationshipEmbedding = relationVecs[i]
		nodes[i].RoutingEmbedding = routingVecs[i]
	}
	return nil
}

func (s *Service) embedUnits(ctx context.Context, units []domain.UnitRecord) error {
	if len(units) == 0 {
		return nil
	}
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Title + "\n" + u.Content
	}
	vecs, err := s.embedSpace(ctx, s.primary, texts)
	if err != nil {
		return fmt.Errorf("unit embeddings: %w", err)
	}
	for i := range units {
		units[i].Embedding = vecs[i]
	}
	return nil
}

// embedSpace batches the texts through the worker pool and reassembles the
// vectors in input order.
func (s *Service) embedSpace(ctx context.Context, e domain.BatchEmbedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for start := 0; start < len(texts); start += s.cfg.EmbedBatch {
		end := min(start+s.cfg.EmbedBatch, len(texts))

		wg.Add(1)
		task := func() {
			defer wg.Done()
			res, err := e.BatchEmbed(ctx, texts[start:end])
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			for i, v := range res.Embeddings {
				out[start+i] = v
			}
		}
		if err := s.pool.Submit(task); err != nil {
			// Pool exhausted or released; run the chunk inline.
			task()
		}
	}
	wg.Wait()
	return out, firstErr
}

// buildContainers groups leaf nodes into container units keyed by parent
// path and unit number, and produces the parent/child edges.
func buildContainers(nodes []domain.NodeRecord) ([]domain.UnitRecord, []domain.Edge) {
	type group struct {
		unit    domain.UnitRecord
		content []string
		members []string
	}

	var order []string
	groups := make(map[string]*group)
	for _, n := range nodes {
		key := parentPath(n.Path) + "#" + n.UnitNumber
		g, ok := groups[key]
		if !ok {
			g = &group{unit: domain.UnitRecord{
				ID:         uuid.NewString(),
				UnitNumber: n.UnitNumber,
				Title:      n.Title,
				Path:       parentPath(n.Path),
			}}
			groups[key] = g
			order = append(order, key)
		}
		g.content = append(g.content, n.Content)
		g.members = append(g.members, n.ID)
	}

	units := make([]domain.UnitRecord, 0, len(order))
	var edges []domain.Edge
	for _, key := range order {
		g := groups[key]
		g.unit.Content = strings.Join(g.content, "\n")
		units = append(units, g.unit)
		for _, member := range g.members {
			edges = append(edges, domain.Edge{From: member, To: g.unit.ID, Kind: domain.EdgeParent})
		}
	}
	return units, edges
}

// citationPattern matches explicit statutory citations inside unit text,
// e.g. "Article 17", "sec. 5a", "§ 12.3".
var citationPattern = regexp.MustCompile(`(?i)(?:article|art\.?|section|sec\.?|§)\s*(\d+[a-z]?(?:\.\d+)*)`)

// crossReferences scans each node's text for citations of other units in the
// batch and emits outbound cite edges. These feed the refs sets that the
// neighbor network and graph expansion count. Citations of the node's own
// unit and unresolved citations are skipped.
func crossReferences(nodes []domain.NodeRecord) []domain.Edge {
	byUnit := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.UnitNumber != "" {
			num := strings.ToLower(n.UnitNumber)
			byUnit[num] = append(byUnit[num], n.ID)
		}
	}

	var edges []domain.Edge
	for _, n := range nodes {
		own := strings.ToLower(n.UnitNumber)
		seen := make(map[string]struct{})
		for _, m := range citationPattern.FindAllStringSubmatch(n.Content, -1) {
			num := strings.ToLower(m[1])
			if num == own {
				continue
			}
			for _, target := range byUnit[num] {
				if _, dup := seen[target]; dup {
					continue
				}
				seen[target] = struct{}{}
				edges = append(edges, domain.Edge{From: n.ID, To: target, Kind: domain.EdgeCites})
			}
		}
	}
	return edges
}

// parentPath drops the last path segment: "code/art-17/para-3" → "code/art-17".
func parentPath(path string) string {
	if i := strings.LastIndex(path, "/"); i > 0 {
		return path[:i]
	}
	return path
}

func structuralText(n domain.NodeRecord) string {
	parts := []string{n.FullID, n.Title, n.Path}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func titledText(n domain.NodeRecord) string {
	if n.Title == "" {
		return n.Content
	}
	return n.Title + "\n" + n.Content
}
