package ai

import (
	"context"

	"github.com/poiesic/waypoint/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The vector must live in the same space as the catalog embedding matrix.
	// Transport failures are returned wrapped in core.ErrUpstreamService.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryExpander turns one free-text query into refined candidate queries
// using a generative text service.
// Implementations must be thread-safe for concurrent use.
type QueryExpander interface {
	// Expand returns up to the configured maximum of candidates, best first.
	// Each call is independent: one request, no conversation state.
	//
	// A response that cannot be parsed is not an error: Expand returns an
	// empty slice and a nil error. Only transport or service failures are
	// returned, wrapped in core.ErrUpstreamService.
	Expand(ctx context.Context, query string) ([]core.Candidate, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Embedder and QueryExpander instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// QueryExpander returns the query expansion service.
	// The returned QueryExpander is safe for concurrent use.
	QueryExpander() QueryExpander

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
