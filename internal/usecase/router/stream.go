package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexshard/lexshard/internal/domain"
	"github.com/lexshard/lexshard/internal/metrics"
)

// StreamEventType orders the progress events of a streaming search.
type StreamEventType string

const (
	EventStarted       StreamEventType = "started"
	EventDomainsRanked StreamEventType = "domains_ranked"
	EventSearching     StreamEventType = "searching"
	EventProcessing    StreamEventType = "processing"
	EventComplete      StreamEventType = "complete"
	EventError         StreamEventType = "error"
)

// StreamEvent is one push event of a streaming search.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Message  string          `json:"message,omitempty"`
	Domains  []string        `json:"domains,omitempty"`
	Domain   string          `json:"domain,omitempty"`
	Progress float64         `json:"progress,omitempty"`
	Outcome  *Outcome        `json:"outcome,omitempty"`
}

// StreamSearch runs the routed search with progress events. Unlike
// ExecuteSearch it queries every top-ranked domain directly and merges by
// raw score; per-domain failures are reported as progress and skipped.
// Events arrive in pipeline order: started, domains_ranked, one searching
// event per finished domain, processing, complete.
func (s *Service) StreamSearch(ctx context.Context, query string, limit int, emit func(StreamEvent)) error {
	start := time.Now()
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	var mu sync.Mutex
	send := func(ev StreamEvent) {
		mu.Lock()
		emit(ev)
		mu.Unlock()
	}

	send(StreamEvent{Type: EventStarted, Message: "routing query"})

	ranked, err := s.RouteTopDomains(ctx, query, s.cfg.FanoutDomains)
	if err != nil {
		send(StreamEvent{Type: EventError, Message: err.Error()})
		return err
	}

	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Descriptor.Name
	}
	send(StreamEvent{Type: EventDomainsRanked, Domains: names})

	var gathered []domain.SearchResult
	completed := 0
	total := len(ranked)

	g, gctx := errgroup.WithContext(ctx)
	for _, rd := range ranked {
		g.Go(func() error {
			branchCtx, cancel := context.WithTimeout(gctx, s.cfg.BranchTimeout)
			defer cancel()

			results, err := s.worker.Search(branchCtx, rd.Descriptor, query, limit)

			mu.Lock()
			completed++
			progress := float64(completed) / float64(total)
			mu.Unlock()

			if err != nil {
				metrics.FanoutBranchesTotal.WithLabelValues("error").Inc()
				s.logger.Warn("streaming branch failed",
					zap.String("domain", rd.Descriptor.Name), zap.Error(err))
				send(StreamEvent{Type: EventSearching, Domain: rd.Descriptor.Name, Progress: progress, Message: "failed"})
				return nil
			}

			metrics.FanoutBranchesTotal.WithLabelValues("ok").Inc()
			mu.Lock()
			for _, r := range stripLowValue(results) {
				r.SourceDomainName = rd.Descriptor.Name
				gathered = append(gathered, r)
			}
			mu.Unlock()
			send(StreamEvent{Type: EventSearching, Domain: rd.Descriptor.Name, Progress: progress})
			return nil
		})
	}
	_ = g.Wait() // branches never return errors

	send(StreamEvent{Type: EventProcessing, Message: "merging results"})

	results := mergeResults(nil, gathered)
	results = s.diversity.Rebalance(results, limit)
	if len(results) > limit {
		results = results[:limit]
	}

	primary := ranked[0]
	outcome := &Outcome{
		Results:        results,
		DomainID:       primary.Descriptor.ID,
		DomainName:     primary.Descriptor.Name,
		DomainsQueried: names,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Stats: Stats{
			TotalResults: len(results),
			ByStage:      countByStage(results),
			BySource:     countBySource(results, primary.Descriptor.Name),
		},
	}
	metrics.SearchResultsReturned.WithLabelValues("scatter").Observe(float64(len(results)))

	send(StreamEvent{Type: EventComplete, Outcome: outcome})
	return nil
}
