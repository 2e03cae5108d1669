package lexshard

import "github.com/lexshard/lexshard/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNoDomains              = domain.ErrNoDomains
	ErrDomainNotFound         = domain.ErrDomainNotFound
	ErrNodeNotFound           = domain.ErrNodeNotFound
	ErrInsufficientSamples    = domain.ErrInsufficientSamples
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrEmbeddingQuotaExceeded = domain.ErrEmbeddingQuotaExceeded
	ErrLLMProviderError       = domain.ErrLLMProviderError
	ErrNoMergeCandidate       = domain.ErrNoMergeCandidate
)
