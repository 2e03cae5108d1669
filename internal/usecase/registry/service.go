// Package registry owns the domain table: initial clustering, incremental
// assignment, split/merge rebalancing and the cross-reference neighbor
// network. Structural mutations are serialized behind a single writer lock;
// reads work on snapshots.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/metrics"
)

// Config holds registry tuning. Zero values fall back to the defaults
// declared in the domain package.
type Config struct {
	MinDomainSize       int
	MaxDomainSize       int
	AssignThreshold     float64
	NeighborXRefMin     int
	ClusteringMinNodes  int
	KMeansMaxIterations int

	// Worker pipeline thresholds propagated into descriptors.
	VectorThreshold       float64
	RelationshipThreshold float64
	ExpansionThreshold    float64
}

func (c Config) withDefaults() Config {
	if c.MinDomainSize <= 0 {
		c.MinDomainSize = domain.MinDomainSize
	}
	if c.MaxDomainSize <= 0 {
		c.MaxDomainSize = domain.MaxDomainSize
	}
	if c.AssignThreshold <= 0 {
		c.AssignThreshold = domain.AssignSimilarityThreshold
	}
	if c.NeighborXRefMin <= 0 {
		c.NeighborXRefMin = domain.NeighborCrossRefThreshold
	}
	if c.ClusteringMinNodes <= 0 {
		c.ClusteringMinNodes = domain.InitialClusteringMinNodes
	}
	if c.KMeansMaxIterations <= 0 {
		c.KMeansMaxIterations = 50
	}
	return c
}

// Candidate is one node offered for domain assignment: its id, a content
// sample for LLM naming, and its routing-space embedding.
type Candidate struct {
	ID        string
	Content   string
	Embedding []float32
}

// Service is the domain registry.
type Service struct {
	repo   Repository
	namer  Namer // nil disables LLM naming
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	domains map[string]*domain.Domain
	seq     int // fallback-name counter
}

// New creates a domain registry.
func New(repo Repository, namer Namer, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		namer:   namer,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		domains: make(map[string]*domain.Domain),
	}
}

// Bootstrap loads persisted domains. When none exist but unassigned embedded
// nodes do, it runs initial clustering over them.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.repo.LoadDomains(ctx)
	if err != nil {
		return fmt.Errorf("load domains: %w", err)
	}

	for _, rec := range records {
		d := &domain.Domain{
			ID:          rec.ID,
			Name:        rec.Name,
			Slug:        rec.Slug,
			NodeIDs:     toSet(rec.MemberIDs),
			Centroid:    rec.Centroid,
			NeighborIDs: toSet(rec.NeighborIDs),
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		}
		s.domains[d.ID] = d
		s.seq++
	}

	// Embedded but unassigned nodes found at bootstrap are never left
	// behind: large sets go through initial clustering, small ones found a
	// single domain.
	if len(s.domains) == 0 {
		unassigned, err := s.repo.UnassignedNodes(ctx)
		if err != nil {
			s.logger.Warn("unassigned scan failed, starting empty", zap.Error(err))
		} else if len(unassigned) > 0 {
			candidates := make([]Candidate, 0, len(unassigned))
			for _, n := range unassigned {
				candidates = append(candidates, Candidate{
					ID:        n.ID,
					Content:   n.Content,
					Embedding: n.RoutingEmbedding,
				})
			}
			if len(candidates) > s.cfg.ClusteringMinNodes {
				s.initialClustering(ctx, candidates)
			} else {
				d := s.createDomain(ctx, candidates)
				s.persistDomain(ctx, d, idsOf(candidates), similaritiesTo(candidates, d.Centroid))
			}
		}
	}

	metrics.RegistryDomains.Set(float64(len(s.domains)))
	s.logger.Info("registry bootstrapped", zap.Int("domains", len(s.domains)))
	return nil
}

// AssignNodes distributes nodes to domains. With an empty registry and more
// than the clustering minimum, it runs initial clustering; otherwise each
// node goes to its nearest centroid at or above the assignment threshold, or
// founds a new singleton domain.
func (s *Service) AssignNodes(ctx context.Context, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.domains) == 0 && len(candidates) > s.cfg.ClusteringMinNodes {
		s.initialClustering(ctx, candidates)
		metrics.RegistryDomains.Set(float64(len(s.domains)))
		return nil
	}

	staged := make(map[string][]Candidate)
	for _, c := range candidates {
		if c.Embedding == nil {
			s.logger.Warn("candidate without routing embedding skipped", zap.String("node_id", c.ID))
			continue
		}

		bestID, bestSim := "", -2.0
		for id, d := range s.domains {
			if sim := domain.CosineSimilarity(c.Embedding, d.Centroid); sim > bestSim {
				bestSim = sim
				bestID = id
			}
		}

		if bestID != "" && bestSim >= s.cfg.AssignThreshold {
			staged[bestID] = append(staged[bestID], c)
			continue
		}

		// No centroid close enough: found a new singleton domain.
		d := s.createDomain(ctx, []Candidate{c})
		s.persistDomain(ctx, d, []string{c.ID}, []float64{1.0})
	}

	for id, group := range staged {
		s.addMembers(ctx, s.domains[id], group)
	}

	// Oversized domains split immediately after additions.
	for _, d := range s.snapshotLocked() {
		if live, ok := s.domains[d.ID]; ok && live.Size() > s.cfg.MaxDomainSize {
			if err := s.splitLocked(ctx, live); err != nil {
				s.logger.Error("post-assignment split failed",
					zap.String("domain_id", live.ID), zap.Error(err))
			}
		}
	}

	metrics.RegistryDomains.Set(float64(len(s.domains)))
	metrics.RegistryOperationsTotal.WithLabelValues("assign", "success").Inc()
	return nil
}

// SplitDomain splits an oversized domain into exactly two children and
// removes the original.
func (s *Service) SplitDomain(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return domain.ErrDomainNotFound
	}
	if err := s.splitLocked(ctx, d); err != nil {
		metrics.RegistryOperationsTotal.WithLabelValues("split", "error").Inc()
		return err
	}
	metrics.RegistryDomains.Set(float64(len(s.domains)))
	metrics.RegistryOperationsTotal.WithLabelValues("split", "success").Inc()
	return nil
}

// MergeDomains absorbs source into target and removes source.
func (s *Service) MergeDomains(ctx context.Context, targetID, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mergeLocked(ctx, targetID, sourceID); err != nil {
		metrics.RegistryOperationsTotal.WithLabelValues("merge", "error").Inc()
		return err
	}
	metrics.RegistryDomains.Set(float64(len(s.domains)))
	metrics.RegistryOperationsTotal.WithLabelValues("merge", "success").Inc()
	return nil
}

// Rebalance splits every oversized domain, then repeatedly merges the
// smallest undersized domain into its best legal candidate. It stops when no
// domain is undersized or the smallest one has no candidate whose post-merge
// size stays within bounds.
func (s *Service) Rebalance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		var oversized *domain.Domain
		for _, d := range s.domains {
			if d.Size() > s.cfg.MaxDomainSize {
				oversized = d
				break
			}
		}
		if oversized == nil {
			break
		}
		if err := s.splitLocked(ctx, oversized); err != nil {
			return fmt.Errorf("rebalance split %s: %w", oversized.ID, err)
		}
	}

	for {
		smallest := s.smallestUnder(s.cfg.MinDomainSize)
		if smallest == nil {
			break
		}

		target := s.bestMergeTarget(smallest)
		if target == nil {
			s.logger.Info("undersized domain has no legal merge candidate",
				zap.String("domain_id", smallest.ID), zap.Int("size", smallest.Size()))
			break
		}

		if err := s.mergeLocked(ctx, target.ID, smallest.ID); err != nil {
			return fmt.Errorf("rebalance merge %s into %s: %w", smallest.ID, target.ID, err)
		}
	}

	metrics.RegistryDomains.Set(float64(len(s.domains)))
	metrics.RegistryOperationsTotal.WithLabelValues("rebalance", "success").Inc()
	return nil
}

// RebuildNeighborNetwork recomputes the neighbor graph from cross-reference
// counts between member sets. Pairs with at least the configured count of
// implements/derived-from edges become mutual neighbors.
func (s *Service) RebuildNeighborNetwork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.domains))
	for id, d := range s.domains {
		d.NeighborIDs = make(map[string]struct{})
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := s.domains[ids[i]], s.domains[ids[j]]

			ab, err := s.repo.CrossReferenceCount(ctx, a.MemberIDs(), b.ID)
			if err != nil {
				s.logger.Warn("cross-reference count failed",
					zap.String("from", a.ID), zap.String("to", b.ID), zap.Error(err))
				continue
			}
			ba, err := s.repo.CrossReferenceCount(ctx, b.MemberIDs(), a.ID)
			if err != nil {
				s.logger.Warn("cross-reference count failed",
					zap.String("from", b.ID), zap.String("to", a.ID), zap.Error(err))
				continue
			}

			if ab+ba >= s.cfg.NeighborXRefMin {
				a.NeighborIDs[b.ID] = struct{}{}
				b.NeighborIDs[a.ID] = struct{}{}
			}
		}
	}

	now := time.Now().UTC()
	for _, d := range s.domains {
		d.UpdatedAt = now
		if err := s.repo.UpsertDomain(ctx, s.record(d)); err != nil {
			s.logger.Warn("neighbor persist failed, continuing in memory",
				zap.String("domain_id", d.ID), zap.Error(err))
		}
	}

	metrics.RegistryOperationsTotal.WithLabelValues("neighbors", "success").Inc()
	return nil
}

// Snapshot returns worker descriptors for every domain, sorted by name.
func (s *Service) Snapshot() []domain.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns a copy of one domain.
func (s *Service) Get(id string) (domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return domain.Domain{}, domain.ErrDomainNotFound
	}
	return s.copyDomain(d), nil
}

// List returns copies of all domains, sorted by name.
func (s *Service) List() []domain.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, s.copyDomain(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DescriptorBySlug resolves a worker slug to its descriptor. Workers use it
// to address neighbors during collaboration.
func (s *Service) DescriptorBySlug(slug string) (domain.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.domains {
		if d.Slug == slug {
			for _, desc := range s.snapshotLocked() {
				if desc.ID == d.ID {
					return desc, true
				}
			}
		}
	}
	return domain.Descriptor{}, false
}

// Count returns the number of registered domains.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.domains)
}

// --- Locked internals ---

// initialClustering partitions candidates into k domains by cosine k-means.
// Too few usable embeddings collapse to a single domain.
func (s *Service) initialClustering(ctx context.Context, candidates []Candidate) {
	usable := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Embedding != nil {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		s.logger.Warn("initial clustering skipped, no usable embeddings")
		return
	}

	vectors := make([][]float32, len(usable))
	for i, c := range usable {
		vectors[i] = c.Embedding
	}

	cl, err := chooseClustering(vectors, s.cfg.MinDomainSize, s.cfg.KMeansMaxIterations)
	if err != nil {
		s.logger.Warn("clustering fell back to a single domain", zap.Error(err))
		d := s.createDomain(ctx, usable)
		s.persistDomain(ctx, d, idsOf(usable), similaritiesTo(usable, d.Centroid))
		return
	}

	groups := make([][]Candidate, cl.k)
	for i, a := range cl.assignments {
		groups[a] = append(groups[a], usable[i])
	}

	created := 0
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		d := s.createDomain(ctx, group)
		s.persistDomain(ctx, d, idsOf(group), similaritiesTo(group, d.Centroid))
		created++
	}

	s.logger.Info("initial clustering complete",
		zap.Int("nodes", len(usable)), zap.Int("domains", created))
}

// createDomain builds a new in-memory domain from its founding members and
// registers it. Naming goes through the LLM when available.
func (s *Service) createDomain(ctx context.Context, members []Candidate) *domain.Domain {
	s.seq++
	return s.createDomainNamed(members, s.nameDomain(ctx, members))
}

// createDomainNamed founds a domain with a preset name, bypassing the namer.
// Used by splits, where member content is not at hand and the parent's name
// still describes the topic.
func (s *Service) createDomainNamed(members []Candidate, name string) *domain.Domain {
	vectors := make([][]float32, 0, len(members))
	for _, m := range members {
		if m.Embedding != nil {
			vectors = append(vectors, m.Embedding)
		}
	}

	now := time.Now().UTC()

	d := &domain.Domain{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slugify(name),
		NodeIDs:     make(map[string]struct{}, len(members)),
		Centroid:    domain.Centroid(vectors),
		NeighborIDs: make(map[string]struct{}),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, m := range members {
		d.NodeIDs[m.ID] = struct{}{}
	}

	s.domains[d.ID] = d
	return d
}

// addMembers extends a domain with new candidates and recomputes the
// centroid as the size-weighted mean.
func (s *Service) addMembers(ctx context.Context, d *domain.Domain, group []Candidate) {
	oldSize := d.Size()

	sims := make([]float64, len(group))
	for i, c := range group {
		sims[i] = domain.CosineSimilarity(c.Embedding, d.Centroid)
		d.NodeIDs[c.ID] = struct{}{}
	}

	// Weighted centroid update: old mass plus the new vectors.
	total := oldSize + len(group)
	if len(d.Centroid) > 0 && total > 0 {
		updated := make([]float32, len(d.Centroid))
		for i, v := range d.Centroid {
			updated[i] = v * float32(oldSize)
		}
		for _, c := range group {
			for i, v := range c.Embedding {
				if i < len(updated) {
					updated[i] += v
				}
			}
		}
		for i := range updated {
			updated[i] /= float32(total)
		}
		d.Centroid = updated
	}

	d.UpdatedAt = time.Now().UTC()
	s.persistDomain(ctx, d, idsOf(group), sims)
}

// splitLocked clusters a domain's members into exactly two groups, creates
// the children, and cascade-deletes the parent.
func (s *Service) splitLocked(ctx context.Context, d *domain.Domain) error {
	memberIDs := d.MemberIDs()
	embeddings, err := s.repo.FetchRoutingEmbeddings(ctx, memberIDs)
	if err != nil {
		return fmt.Errorf("fetch member embeddings: %w", err)
	}

	ids := make([]string, 0, len(embeddings))
	vectors := make([][]float32, 0, len(embeddings))
	for _, id := range memberIDs {
		if v, ok := embeddings[id]; ok {
			ids = append(ids, id)
			vectors = append(vectors, v)
		}
	}

	cl, err := kMeans(vectors, 2, s.cfg.KMeansMaxIterations)
	if err != nil {
		return fmt.Errorf("split clustering: %w", err)
	}

	groups := [2][]Candidate{}
	for i, a := range cl.assignments {
		groups[a] = append(groups[a], Candidate{ID: ids[i], Embedding: vectors[i]})
	}
	if len(groups[0]) == 0 || len(groups[1]) == 0 {
		return fmt.Errorf("split of %s produced an empty side: %w", d.ID, domain.ErrInsufficientSamples)
	}

	// Parent goes first so its membership markers are cleared before the
	// children claim the nodes.
	delete(s.domains, d.ID)
	if err := s.repo.DeleteDomainCascade(ctx, d.ID); err != nil {
		s.logger.Warn("parent cascade delete failed, continuing in memory",
			zap.String("domain_id", d.ID), zap.Error(err))
	}

	// Splitting rarely changes the topic, and the fetched members carry no
	// content to sample for naming, so children always inherit the parent's
	// name.
	for i, group := range groups {
		child := s.createDomainNamed(group, fmt.Sprintf("%s %s", d.Name, []string{"I", "II"}[i]))
		s.persistDomain(ctx, child, idsOf(group), similaritiesTo(group, child.Centroid))
	}

	s.logger.Info("domain split",
		zap.String("parent", d.ID), zap.Int("parent_size", len(ids)),
		zap.Int("left", len(groups[0])), zap.Int("right", len(groups[1])))
	return nil
}

func (s *Service) mergeLocked(ctx context.Context, targetID, sourceID string) error {
	target, ok := s.domains[targetID]
	if !ok {
		return fmt.Errorf("merge target %s: %w", targetID, domain.ErrDomainNotFound)
	}
	source, ok := s.domains[sourceID]
	if !ok {
		return fmt.Errorf("merge source %s: %w", sourceID, domain.ErrDomainNotFound)
	}

	sourceMembers := source.MemberIDs()
	embeddings, err := s.repo.FetchRoutingEmbeddings(ctx, sourceMembers)
	if err != nil {
		s.logger.Warn("merge embedding fetch failed, using centroid similarity",
			zap.String("source", sourceID), zap.Error(err))
		embeddings = nil
	}

	// Weighted centroid over both member sets.
	tSize, sSize := target.Size(), source.Size()
	if len(target.Centroid) > 0 && len(source.Centroid) == len(target.Centroid) {
		merged := make([]float32, len(target.Centroid))
		for i := range merged {
			merged[i] = (target.Centroid[i]*float32(tSize) + source.Centroid[i]*float32(sSize)) /
				float32(tSize+sSize)
		}
		target.Centroid = merged
	}

	for _, id := range sourceMembers {
		target.NodeIDs[id] = struct{}{}
	}
	target.UpdatedAt = time.Now().UTC()
	delete(s.domains, sourceID)

	if err := s.repo.DeleteDomainCascade(ctx, sourceID); err != nil {
		s.logger.Warn("source cascade delete failed, continuing in memory",
			zap.String("domain_id", sourceID), zap.Error(err))
	}

	sims := make([]float64, len(sourceMembers))
	fallback := domain.CosineSimilarity(source.Centroid, target.Centroid)
	for i, id := range sourceMembers {
		if v, ok := embeddings[id]; ok {
			sims[i] = domain.CosineSimilarity(v, target.Centroid)
		} else {
			sims[i] = fallback
		}
	}
	s.persistDomain(ctx, target, sourceMembers, sims)

	s.logger.Info("domains merged",
		zap.String("target", targetID), zap.String("source", sourceID),
		zap.Int("merged_size", target.Size()))
	return nil
}

// persistDomain writes the domain record and the membership batch. Store
// errors degrade to in-memory continuation.
func (s *Service) persistDomain(ctx context.Context, d *domain.Domain, nodeIDs []string, sims []float64) {
	if err := s.repo.UpsertDomain(ctx, s.record(d)); err != nil {
		s.logger.Warn("domain persist failed, continuing in memory",
			zap.String("domain_id", d.ID), zap.Error(err))
		return
	}
	if len(nodeIDs) == 0 {
		return
	}
	if err := s.repo.BatchAssignNodes(ctx, d.ID, nodeIDs, sims); err != nil {
		s.logger.Warn("membership persist failed, continuing in memory",
			zap.String("domain_id", d.ID), zap.Error(err))
	}
}

func (s *Service) smallestUnder(minSize int) *domain.Domain {
	var smallest *domain.Domain
	for _, d := range s.domains {
		if d.Size() >= minSize {
			continue
		}
		if smallest == nil || d.Size() < smallest.Size() ||
			(d.Size() == smallest.Size() && d.ID < smallest.ID) {
			smallest = d
		}
	}
	return smallest
}

func (s *Service) bestMergeTarget(source *domain.Domain) *domain.Domain {
	var best *domain.Domain
	bestSim := -2.0
	for _, d := range s.domains {
		if d.ID == source.ID || d.Size()+source.Size() > s.cfg.MaxDomainSize {
			continue
		}
		if sim := domain.CosineSimilarity(source.Centroid, d.Centroid); sim > bestSim {
			bestSim = sim
			best = d
		}
	}
	return best
}

func (s *Service) snapshotLocked() []domain.Descriptor {
	out := make([]domain.Descriptor, 0, len(s.domains))
	for _, d := range s.domains {
		desc := domain.Descriptor{
			ID:                    d.ID,
			Name:                  d.Name,
			Slug:                  d.Slug,
			MemberIDs:             d.MemberIDs(),
			Centroid:              append([]float32(nil), d.Centroid...),
			VectorThreshold:       s.cfg.VectorThreshold,
			RelationshipThreshold: s.cfg.RelationshipThreshold,
			ExpansionThreshold:    s.cfg.ExpansionThreshold,
		}
		for nid := range d.NeighborIDs {
			if n, ok := s.domains[nid]; ok {
				desc.NeighborSlugs = append(desc.NeighborSlugs, n.Slug)
			}
		}
		sort.Strings(desc.NeighborSlugs)
		out = append(out, desc.DefaultThresholds())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) copyDomain(d *domain.Domain) domain.Domain {
	return domain.Domain{
		ID:          d.ID,
		Name:        d.Name,
		Slug:        d.Slug,
		NodeIDs:     toSet(d.MemberIDs()),
		Centroid:    append([]float32(nil), d.Centroid...),
		NeighborIDs: copySet(d.NeighborIDs),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (s *Service) record(d *domain.Domain) domain.DomainRecord {
	neighbors := make([]string, 0, len(d.NeighborIDs))
	for id := range d.NeighborIDs {
		neighbors = append(neighbors, id)
	}
	sort.Strings(neighbors)

	return domain.DomainRecord{
		ID:          d.ID,
		Name:        d.Name,
		Slug:        d.Slug,
		Centroid:    d.Centroid,
		MemberIDs:   d.MemberIDs(),
		NeighborIDs: neighbors,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// nameDomain asks the LLM to title the cluster from a few member samples.
// Failures and missing namers fall back to a sequence name.
func (s *Service) nameDomain(ctx context.Context, members []Candidate) string {
	fallback := fmt.Sprintf("Domain %d", s.seq)
	if s.namer == nil {
		return fallback
	}

	var sb strings.Builder
	sampled := 0
	for _, m := range members {
		if sampled == 3 {
			break
		}
		content := m.Content
		if content == "" {
			continue
		}
		if len(content) > 300 {
			content = content[:300]
		}
		fmt.Fprintf(&sb, "- %s\n", content)
		sampled++
	}
	if sb.Len() == 0 {
		return fallback
	}

	const system = "You label clusters of statutory text. " +
		"Reply with a short topical title of at most five words, nothing else."
	name, err := s.namer.Complete(ctx, system,
		"Title the legal topic shared by these excerpts:\n"+sb.String())
	if err != nil {
		s.logger.Warn("domain naming failed, using fallback", zap.Error(err))
		return fallback
	}

	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" || len(name) > 80 {
		return fallback
	}
	return name
}

// slugify lowers a name to a worker slug: letters and digits kept, runs of
// anything else collapse into single hyphens.
func slugify(name string) string {
	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			sb.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func idsOf(group []Candidate) []string {
	ids := make([]string, len(group))
	for i, c := range group {
		ids[i] = c.ID
	}
	return ids
}

func similaritiesTo(group []Candidate, centroid []float32) []float64 {
	sims := make([]float64, len(group))
	for i, c := range group {
		sims[i] = domain.CosineSimilarity(c.Embedding, centroid)
	}
	return sims
}
