package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/storage"
)

// BatchStats counts where a batch's vectors came from.
type BatchStats struct {
	CacheHits int
	Embedded  int
}

// BatchProcessor embeds batches of catalog records, consulting the cache first.
type BatchProcessor struct {
	embedder       ai.Embedder
	cache          storage.EmbeddingRepository
	model          string
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor. cache may be nil.
// maxAttempts: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(embedder ai.Embedder, cache storage.EmbeddingRepository, model string, maxAttempts int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		embedder:       embedder,
		cache:          cache,
		model:          model,
		maxAttempts:    maxAttempts,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process returns one vector per record, in record order.
func (bp *BatchProcessor) Process(ctx context.Context, records []core.CatalogRecord) ([][]float32, BatchStats, error) {
	var stats BatchStats
	if len(records) == 0 {
		return nil, stats, nil
	}

	texts := make([]string, len(records))
	ids := make([]core.ID, len(records))
	for i := range records {
		texts[i] = records[i].Text()
		ids[i] = core.IDFromContent(texts[i])
	}

	vectors := make([][]float32, len(records))
	if bp.cache != nil {
		cached, err := bp.cache.GetEmbeddings(ctx, bp.model, ids...)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read embedding cache: %w", err)
		}
		for i, id := range ids {
			if e, ok := cached[id]; ok {
				vectors[i] = e.Vector
				stats.CacheHits++
			}
		}
	}

	// Collect misses
	var missIdx []int
	var missTexts []string
	for i := range vectors {
		if vectors[i] == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missIdx) == 0 {
		return vectors, stats, nil
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, missTexts)
		if errors.Is(err, core.ErrDimension) {
			return ai.Permanent(err)
		}
		return err
	}, bp.maxAttempts, bp.retryBaseDelay)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxAttempts, err)
	}
	if len(embeddings) != len(missTexts) {
		return nil, stats, fmt.Errorf("%w: expected %d embeddings, got %d", core.ErrUpstreamService, len(missTexts), len(embeddings))
	}

	fresh := make([]*core.CachedEmbedding, len(missIdx))
	for j, i := range missIdx {
		if err := core.ValidateVector(embeddings[j]); err != nil {
			return nil, stats, fmt.Errorf("record %d (%s): %w", records[i].Position, records[i].Name, err)
		}
		vectors[i] = embeddings[j]
		fresh[j] = &core.CachedEmbedding{Id: ids[i], Model: bp.model, Vector: embeddings[j]}
	}
	stats.Embedded = len(missIdx)

	if bp.cache != nil {
		if err := bp.cache.PutEmbeddings(ctx, fresh...); err != nil {
			return nil, stats, fmt.Errorf("failed to update embedding cache: %w", err)
		}
	}
	return vectors, stats, nil
}
