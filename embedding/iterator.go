package embedding

import (
	"context"

	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
)

// RecordIterator iterates over catalog records in batches.
type RecordIterator struct {
	records   []core.CatalogRecord
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records per batch (must be > 0)
func NewRecordIterator(store *catalog.Store, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	return &RecordIterator{
		records:   store.Records(),
		batchSize: batchSize,
	}
}

// Batches returns the number of batches ForEach will produce.
func (it *RecordIterator) Batches() int {
	return (len(it.records) + it.batchSize - 1) / it.batchSize
}

// ForEach calls fn for each batch in position order. start is the position
// of the first record in the batch. Iteration stops on the first error from
// fn; context cancellation is checked between batches.
func (it *RecordIterator) ForEach(ctx context.Context, fn func(start int, records []core.CatalogRecord) error) error {
	for i := 0; i < len(it.records); i += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+it.batchSize, len(it.records))
		if err := fn(i, it.records[i:end]); err != nil {
			return err
		}
	}
	return nil
}
