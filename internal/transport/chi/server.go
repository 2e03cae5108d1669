// Package chi implements the HTTP API on the chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/domain"
	logpkg "github.com/lexshard/lexshard/internal/logger"
	healthuc "github.com/lexshard/lexshard/internal/usecase/health"
	ingestuc "github.com/lexshard/lexshard/internal/usecase/ingest"
	routeruc "github.com/lexshard/lexshard/internal/usecase/router"
	usageuc "github.com/lexshard/lexshard/internal/usecase/usage"
)

// maxSearchLimit caps the per-request result page.
const maxSearchLimit = 50

// Error codes in API error payloads.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeNoDomains        = "no_domains_available"
	codeDomainNotFound   = "domain_not_found"
	codeProviderError    = "provider_error"
	codeInternalError    = "internal_error"
)

// SearchService is the routed search surface.
type SearchService interface {
	ExecuteSearch(ctx context.Context, query string, limit int, synthesize bool) (*routeruc.Outcome, error)
	SearchDomain(ctx context.Context, domainID, query string, limit int) (*routeruc.Outcome, error)
	StreamSearch(ctx context.Context, query string, limit int, emit func(routeruc.StreamEvent)) error
}

// DomainReader lists and resolves registered domains.
type DomainReader interface {
	List() []domain.Domain
	Get(id string) (domain.Domain, error)
}

// Ingestor consumes pre-extracted leaf units.
type Ingestor interface {
	Ingest(ctx context.Context, req ingestuc.Request) (ingestuc.Result, error)
}

// HealthService reports component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageService reports embedding token spend.
type UsageService interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server wires the API handlers.
type Server struct {
	search        SearchService
	domains       DomainReader
	ingest        Ingestor
	health        HealthService
	usage         UsageService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. usage may be nil when no token
// budgets are configured.
func NewServer(search SearchService, domains DomainReader, ingest Ingestor, health HealthService, usage UsageService, logger *zap.Logger) *Server {
	s := &Server{
		search:  search,
		domains: domains,
		ingest:  ingest,
		health:  health,
		usage:   usage,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNoDomains, http.StatusServiceUnavailable, codeNoDomains),
		sentinelHandler(domain.ErrDomainNotFound, http.StatusNotFound, codeDomainNotFound),
		sentinelHandler(domain.ErrNodeNotFound, http.StatusNotFound, codeDomainNotFound),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrLLMProviderError, http.StatusBadGateway, codeProviderError),
	}
	return s
}

// Routes registers all API routes on the router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/search/stream", s.handleStreamSearch)
		r.Get("/domains", s.handleListDomains)
		r.Get("/domains/{id}", s.handleGetDomain)
		r.Post("/domains/{id}/search", s.handleDomainSearch)
		r.Post("/ingest", s.handleIngest)
		r.Get("/usage", s.handleUsage)
	})
}

// --- Request/response DTOs ---

type searchRequest struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	Synthesize bool   `json:"synthesize"`
}

type resultMetadata struct {
	SourceName string `json:"sourceName,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
	UnitNumber string `json:"unitNumber,omitempty"`
	Title      string `json:"title,omitempty"`
}

type searchResultItem struct {
	NodeID           string          `json:"nodeId"`
	Content          string          `json:"content"`
	Path             string          `json:"path,omitempty"`
	FullID           string          `json:"fullId,omitempty"`
	Similarity       float64         `json:"similarity"`
	Stages           []string        `json:"stages,omitempty"`
	DomainID         string          `json:"domainId,omitempty"`
	SourceDomain     string          `json:"sourceDomain,omitempty"`
	ViaCollaboration bool            `json:"viaCollaboration,omitempty"`
	Metadata         *resultMetadata `json:"metadata,omitempty"`
}

type searchStats struct {
	TotalResults           int            `json:"totalResults"`
	ByStage                map[string]int `json:"byStage,omitempty"`
	BySource               map[string]int `json:"bySource,omitempty"`
	CollaborationTriggered bool           `json:"collaborationTriggered"`
	CollaborationResults   int            `json:"collaborationResults"`
	BranchErrors           int            `json:"branchErrors,omitempty"`
}

type searchResponse struct {
	Results           []searchResultItem `json:"results"`
	Stats             searchStats        `json:"stats"`
	DomainID          string             `json:"domainId"`
	DomainName        string             `json:"domainName"`
	DomainsQueried    []string           `json:"domainsQueried"`
	A2ADomains        []string           `json:"a2aDomains,omitempty"`
	ResponseTimeMs    int64              `json:"responseTimeMs"`
	SynthesizedAnswer string             `json:"synthesizedAnswer,omitempty"`
}

type domainSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	NodeCount     int       `json:"nodeCount"`
	NeighborCount int       `json:"neighborCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type domainDetail struct {
	domainSummary
	Neighbors []domainSummary `json:"neighbors"`
}

type ingestRequest struct {
	SourceName string            `json:"sourceName"`
	SourceType string            `json:"sourceType"`
	Units      []domain.LeafUnit `json:"units"`
}

type ingestResponse struct {
	NodesCreated int `json:"nodesCreated"`
	UnitsCreated int `json:"unitsCreated"`
	EdgesCreated int `json:"edgesCreated"`
	Assigned     int `json:"assigned"`
}

type healthResponse struct {
	Status        string                          `json:"status"`
	PersistenceOK bool                            `json:"persistenceOk"`
	RegistryOK    bool                            `json:"registryOk"`
	DomainCount   int                             `json:"domainCount"`
	NodeCount     int                             `json:"nodeCount"`
	Checks        map[string]healthuc.CheckResult `json:"checks,omitempty"`
}

type providerUsagePayload struct {
	Provider  string `json:"provider"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Exhausted bool   `json:"exhausted"`
}

type usageResponse struct {
	Period      string                 `json:"period"`
	WindowStart int64                  `json:"windowStart"`
	WindowEnd   int64                  `json:"windowEnd"`
	Providers   []providerUsagePayload `json:"providers"`
}

type streamEventPayload struct {
	Type     string          `json:"type"`
	Message  string          `json:"message,omitempty"`
	Domains  []string        `json:"domains,omitempty"`
	Domain   string          `json:"domain,omitempty"`
	Progress float64         `json:"progress,omitempty"`
	Result   *searchResponse `json:"result,omitempty"`
}

// --- Handlers ---

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}

	outcome, err := s.search.ExecuteSearch(r.Context(), req.Query, req.Limit, req.Synthesize)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeToResponse(outcome))
}

func (s *Server) handleDomainSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}

	outcome, err := s.search.SearchDomain(r.Context(), chi.URLParam(r, "id"), req.Query, req.Limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeToResponse(outcome))
}

func (s *Server) handleStreamSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Errors surface as error events inside the stream; the HTTP status is
	// already committed.
	_ = s.search.StreamSearch(r.Context(), req.Query, req.Limit, func(ev routeruc.StreamEvent) {
		payload := streamEventPayload{
			Type:     string(ev.Type),
			Message:  ev.Message,
			Domains:  ev.Domains,
			Domain:   ev.Domain,
			Progress: ev.Progress,
		}
		if ev.Outcome != nil {
			resp := outcomeToResponse(ev.Outcome)
			payload.Result = &resp
		}

		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal stream event", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", payload.Type, data)
		flusher.Flush()
	})
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	all := s.domains.List()
	out := make([]domainSummary, 0, len(all))
	for i := range all {
		out = append(out, domainToSummary(&all[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	d, err := s.domains.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	detail := domainDetail{domainSummary: domainToSummary(&d), Neighbors: []domainSummary{}}
	for id := range d.NeighborIDs {
		n, err := s.domains.Get(id)
		if err != nil {
			continue
		}
		detail.Neighbors = append(detail.Neighbors, domainToSummary(&n))
	}
	sort.Slice(detail.Neighbors, func(i, j int) bool {
		return detail.Neighbors[i].Name < detail.Neighbors[j].Name
	})
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Units) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "units are required")
		return
	}

	res, err := s.ingest.Ingest(r.Context(), ingestuc.Request{
		SourceName: req.SourceName,
		SourceType: req.SourceType,
		Units:      req.Units,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		NodesCreated: res.NodesCreated,
		UnitsCreated: res.UnitsCreated,
		EdgesCreated: res.EdgesCreated,
		Assigned:     res.Assigned,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{
		Status:        string(report.Status),
		PersistenceOK: report.PersistenceOK,
		RegistryOK:    report.RegistryOK,
		DomainCount:   report.DomainCount,
		NodeCount:     report.NodeCount,
		Checks:        report.Checks,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusOK, usageResponse{Period: string(usageuc.PeriodDay), Providers: []providerUsagePayload{}})
		return
	}

	period := usageuc.Period(r.URL.Query().Get("period"))
	report := s.usage.GetReport(r.Context(), period)

	resp := usageResponse{
		Period:      string(report.Period),
		WindowStart: report.WindowStart,
		WindowEnd:   report.WindowEnd,
		Providers:   make([]providerUsagePayload, 0, len(report.Providers)),
	}
	for _, p := range report.Providers {
		resp.Providers = append(resp.Providers, providerUsagePayload{
			Provider:  p.Provider,
			Limit:     p.Limit,
			Used:      p.Used,
			Remaining: p.Remaining,
			Exhausted: p.Exhausted,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// --- Helpers ---

func (s *Server) decodeSearchRequest(w http.ResponseWriter, r *http.Request) (searchRequest, bool) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return req, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return req, false
	}
	if req.Limit < 0 || req.Limit > maxSearchLimit {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("limit must be between 0 and %d", maxSearchLimit))
		return req, false
	}
	return req, true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	// Prefer the request-scoped logger so the error carries the request id.
	log := logpkg.FromContext(r.Context())
	if log.Core().Enabled(zap.ErrorLevel) {
		log.Error("unhandled domain error", zap.Error(err))
	} else {
		s.logger.Error("unhandled domain error", zap.Error(err))
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func outcomeToResponse(o *routeruc.Outcome) searchResponse {
	results := make([]searchResultItem, 0, len(o.Results))
	for i := range o.Results {
		results = append(results, resultToItem(&o.Results[i]))
	}
	return searchResponse{
		Results: results,
		Stats: searchStats{
			TotalResults:           o.Stats.TotalResults,
			ByStage:                o.Stats.ByStage,
			BySource:               o.Stats.BySource,
			CollaborationTriggered: o.Stats.CollaborationTriggered,
			CollaborationResults:   o.Stats.CollaborationResults,
			BranchErrors:           o.Stats.BranchErrors,
		},
		DomainID:          o.DomainID,
		DomainName:        o.DomainName,
		DomainsQueried:    o.DomainsQueried,
		A2ADomains:        o.A2ADomains,
		ResponseTimeMs:    o.ResponseTimeMs,
		SynthesizedAnswer: o.SynthesizedAnswer,
	}
}

func resultToItem(r *domain.SearchResult) searchResultItem {
	item := searchResultItem{
		NodeID:           r.NodeID,
		Content:          r.Content,
		Path:             r.Path,
		FullID:           r.FullID,
		Similarity:       r.Similarity,
		DomainID:         r.DomainID,
		SourceDomain:     r.SourceDomainName,
		ViaCollaboration: r.ViaCollaboration,
	}

	if len(r.Stages) > 0 {
		stages := make([]string, 0, len(r.Stages))
		for st := range r.Stages {
			stages = append(stages, string(st))
		}
		sort.Strings(stages)
		item.Stages = stages
	}

	if r.Metadata != nil {
		item.Metadata = &resultMetadata{
			SourceName: r.Metadata.SourceName,
			SourceType: r.Metadata.SourceType,
			UnitNumber: r.Metadata.UnitNumber,
			Title:      r.Metadata.Title,
		}
	}
	return item
}

func domainToSummary(d *domain.Domain) domainSummary {
	return domainSummary{
		ID:            d.ID,
		Name:          d.Name,
		Slug:          d.Slug,
		NodeCount:     d.Size(),
		NeighborCount: len(d.NeighborIDs),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
