package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/storage"
)

// EmbeddingRepository implements storage.EmbeddingRepository for BadgerDB.
type EmbeddingRepository struct {
	backend *Backend
}

var _ storage.EmbeddingRepository = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository creates a new EmbeddingRepository.
//
// Returns storage.EmbeddingRepository interface to enforce abstraction.
func NewEmbeddingRepository(backend *Backend) (storage.EmbeddingRepository, error) {
	return newEmbeddingRepository(backend), nil
}

func newEmbeddingRepository(backend *Backend) *EmbeddingRepository {
	return &EmbeddingRepository{backend: backend}
}

// Close releases resources. The backend is owned by the caller.
func (r *EmbeddingRepository) Close() error {
	return nil
}

// GetEmbeddings returns the cached embeddings that exist for ids.
func (r *EmbeddingRepository) GetEmbeddings(ctx context.Context, model string, ids ...core.ID) (map[core.ID]*core.CachedEmbedding, error) {
	found := make(map[core.ID]*core.CachedEmbedding, len(ids))
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			item, err := tx.Get(makeEmbeddingKey(model, id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				e, err := storage.UnmarshalCachedEmbedding(val)
				if err != nil {
					return err
				}
				found[id] = e
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// PutEmbeddings stores embeddings in a single transaction.
func (r *EmbeddingRepository) PutEmbeddings(ctx context.Context, embeddings ...*core.CachedEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, e := range embeddings {
			if e.Model == "" {
				return storage.ErrInvalidQuery
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			if err := tx.Set(makeEmbeddingKey(e.Model, e.Id), storage.MarshalCachedEmbedding(e)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// CountEmbeddings returns the number of cached vectors for model.
func (r *EmbeddingRepository) CountEmbeddings(ctx context.Context, model string) (int, error) {
	return r.backend.countPrefix(ctx, makeModelPrefix(model))
}

// PurgeModel removes every cached vector for model.
func (r *EmbeddingRepository) PurgeModel(ctx context.Context, model string) (int, error) {
	count, err := r.backend.deletePrefix(ctx, makeModelPrefix(model))
	if err != nil {
		return 0, err
	}
	if count > 0 {
		r.backend.logger.Info("purged cached embeddings", "model", model, "count", count)
	}
	return count, nil
}
