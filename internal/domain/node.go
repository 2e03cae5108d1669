package domain

// Node is a single leaf unit of the corpus: the smallest addressable text
// unit (e.g. one paragraph of one article). Nodes are created at ingestion
// and are immutable afterwards except for embedding backfill.
type Node struct {
	ID         string
	Content    string
	Path       string // structural path, e.g. "civil-code/book-2/article-17/para-3"
	FullID     string // full human identifier, e.g. "Civil Code Article 17 §3"
	UnitNumber string // container unit number, e.g. "17"
	Title      string

	// Embedding is the primary (content-space) vector, attached once computed.
	Embedding []float32
}

// LeafUnit is the ingestion collaborator contract: one pre-extracted text
// unit in document order. The core only consumes this shape.
type LeafUnit struct {
	UnitNumber string `json:"unitNumber"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Path       string `json:"path"`
	FullID     string `json:"fullId"`
}

// NodeMetadata is document-level enrichment attached to top search results.
type NodeMetadata struct {
	SourceName string
	SourceType string
	UnitNumber string
	Title      string
}
