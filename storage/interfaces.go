package storage

import (
	"context"

	"github.com/poiesic/waypoint/core"
)

// EmbeddingRepository caches text embeddings per model.
// Implementations must be thread-safe and support concurrent access.
type EmbeddingRepository interface {
	// GetEmbeddings returns the cached vectors for the given content IDs
	// under model. Missing IDs are simply absent from the result.
	GetEmbeddings(ctx context.Context, model string, ids ...core.ID) (map[core.ID]*core.CachedEmbedding, error)

	// PutEmbeddings stores embeddings, replacing any existing entry with the
	// same model and ID. CreatedAt is set if zero.
	PutEmbeddings(ctx context.Context, embeddings ...*core.CachedEmbedding) error

	// CountEmbeddings returns the number of cached vectors for model.
	CountEmbeddings(ctx context.Context, model string) (int, error)

	// PurgeModel removes every cached vector for model and returns how many
	// were removed.
	PurgeModel(ctx context.Context, model string) (int, error)

	// Close releases resources held by the repository.
	Close() error
}

// CheckpointRepository records the outcome of the last embedding build.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint, stamping UpdatedAt.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint with the given name.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)
}
