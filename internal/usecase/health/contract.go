package health

import "context"

// DBPinger checks graph-store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegistryReader exposes the registry state used in the health report.
type RegistryReader interface {
	Count() int
}

// NodeCounter counts persisted corpus nodes.
type NodeCounter interface {
	NodeCount(ctx context.Context) (int, error)
}
