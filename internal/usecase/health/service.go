package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results and registry state.
type Report struct {
	Status        Status
	PersistenceOK bool
	RegistryOK    bool
	DomainCount   int
	NodeCount     int
	Checks        map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	registry  RegistryReader
	nodes     NodeCounter
}

// New creates a Service. embedding and nodes can be nil.
func New(db DBPinger, embedding EmbeddingChecker, registry RegistryReader, nodes NodeCounter) *Service {
	return &Service{db: db, embedding: embedding, registry: registry, nodes: nodes}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	r := Report{}

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
		r.PersistenceOK = true
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.registry != nil {
		r.RegistryOK = true
		r.DomainCount = s.registry.Count()
		checks["registry"] = CheckOK
	} else {
		checks["registry"] = CheckError
	}

	if s.nodes != nil && r.PersistenceOK {
		if n, err := s.nodes.NodeCount(ctx); err == nil {
			r.NodeCount = n
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if !r.PersistenceOK && !r.RegistryOK {
		status = Unhealthy
	}

	r.Status = status
	r.Checks = checks
	return r
}
