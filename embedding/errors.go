package embedding

import "errors"

var (
	// ErrCatalogRequired is returned when no catalog is supplied.
	ErrCatalogRequired = errors.New("catalog is required")

	// ErrEmbedderRequired is returned when no embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrModelRequired is returned when the model name used for cache keys
	// and the manifest is empty.
	ErrModelRequired = errors.New("embedding model name is required")
)
