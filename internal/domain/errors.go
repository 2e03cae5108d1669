package domain

import "errors"

var (
	// ErrNoDomains signals that the registry has no domains to route to.
	ErrNoDomains = errors.New("no domains available")
	// ErrDomainNotFound signals a missing domain.
	ErrDomainNotFound = errors.New("domain not found")
	// ErrNodeNotFound signals a missing corpus node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInsufficientSamples signals too few embeddings for the requested cluster count.
	ErrInsufficientSamples = errors.New("insufficient samples for clustering")
	// ErrVectorDimMismatch signals a vector dimension mismatch between embedding spaces.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals the embedding token budget is exhausted.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrLLMProviderError signals an LLM provider failure.
	ErrLLMProviderError = errors.New("llm provider error")
	// ErrNoMergeCandidate signals that an undersized domain has no legal merge target.
	ErrNoMergeCandidate = errors.New("no legal merge candidate")
)
