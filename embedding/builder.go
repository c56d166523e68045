// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package embedding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
	"github.com/poiesic/waypoint/storage"
)

// Result describes a finished build.
type Result struct {
	Matrix    *index.Matrix
	Manifest  index.Manifest
	CacheHits int
	Embedded  int
	Elapsed   time.Duration
	// UpToDate is set by Write when the previous build already matches the
	// catalog and nothing was rebuilt. Matrix is nil in that case.
	UpToDate bool
}

// Builder embeds every record of a catalog.
type Builder struct {
	catalog     *catalog.Store
	embedder    ai.Embedder
	cache       storage.EmbeddingRepository
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	logger      *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithCache enables the embedding cache.
func WithCache(cache storage.EmbeddingRepository) Option {
	return func(b *Builder) {
		b.cache = cache
	}
}

// WithCheckpoints records each completed build and lets Write skip
// rebuilding an unchanged catalog.
func WithCheckpoints(checkpoints storage.CheckpointRepository) Option {
	return func(b *Builder) {
		b.checkpoints = checkpoints
	}
}

// WithProgress sets where progress output is written. Default is no output.
func WithProgress(w io.Writer) Option {
	return func(b *Builder) {
		b.progress = w
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a new catalog embedding builder.
func NewBuilder(store *catalog.Store, embedder ai.Embedder, config *Config, opts ...Option) (*Builder, error) {
	if store == nil {
		return nil, ErrCatalogRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Builder{
		catalog:  store,
		embedder: embedder,
		config:   config,
		progress: io.Discard,
		logger:   slog.Default().With("component", "embedding-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build embeds the whole catalog and returns the matrix. Batches run on an
// ants pool of Config.Concurrency workers; the first failing batch cancels
// the rest.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	total := b.catalog.Len()
	fingerprint := b.catalog.Fingerprint()
	if total == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", core.ErrLoad)
	}

	b.logger.Info("starting catalog embedding",
		"records", total, "model", b.config.Model,
		"batch_size", b.config.BatchSize, "concurrency", b.config.Concurrency)

	pool, err := ants.NewPool(b.config.Concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	processor := NewBatchProcessor(b.embedder, b.cache, b.config.Model, b.config.MaxAttempts, b.config.RetryDelay)
	iterator := NewRecordIterator(b.catalog, b.config.BatchSize)
	tracker := NewProgressTracker(b.progress, total, b.config.ReportInterval)
	tracker.Start()

	var (
		rows     = make([][]float32, total)
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		stats    BatchStats
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	iterErr := iterator.ForEach(ctx, func(start int, records []core.CatalogRecord) error {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			vectors, s, err := processor.Process(ctx, records)
			if err != nil {
				fail(fmt.Errorf("batch at record %d: %w", start, err))
				return
			}
			copy(rows[start:], vectors)

			mu.Lock()
			stats.CacheHits += s.CacheHits
			stats.Embedded += s.Embedded
			mu.Unlock()
			tracker.Add(len(records), s.CacheHits)
		})
		if submitErr != nil {
			wg.Done()
			return submitErr
		}
		return nil
	})
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if iterErr != nil {
		return nil, iterErr
	}
	tracker.Finish()

	matrix, err := index.NewMatrix(rows)
	if err != nil {
		return nil, fmt.Errorf("embedding service returned inconsistent vectors: %w", err)
	}

	elapsed := tracker.Elapsed()
	b.logger.Info("catalog embedding complete",
		"records", total, "dim", matrix.Dim,
		"cache_hits", stats.CacheHits, "embedded", stats.Embedded,
		"elapsed", elapsed.Round(time.Millisecond))

	return &Result{
		Matrix: matrix,
		Manifest: index.Manifest{
			CatalogFingerprint: fingerprint,
			ModelID:            b.config.Model,
			Rows:               matrix.Rows,
			Dim:                matrix.Dim,
		},
		CacheHits: stats.CacheHits,
		Embedded:  stats.Embedded,
		Elapsed:   elapsed,
	}, nil
}

// Write builds the matrix and writes it to dir as an index directory, then
// saves a checkpoint. When a checkpoint and the manifest already in dir both
// match the current catalog and model, nothing is rebuilt unless
// Config.Force is set.
func (b *Builder) Write(ctx context.Context, dir string) (*Result, error) {
	if !b.config.Force {
		upToDate, err := b.upToDate(ctx, dir)
		if err != nil {
			return nil, err
		}
		if upToDate {
			b.logger.Info("embeddings are up to date", "dir", dir)
			return &Result{UpToDate: true}, nil
		}
	}

	result, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := index.WriteF32(dir, result.Matrix, result.Manifest); err != nil {
		return nil, err
	}

	if b.checkpoints != nil {
		if err := b.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
			Name:        CheckpointName,
			Fingerprint: result.Manifest.CatalogFingerprint,
			Model:       b.config.Model,
			Rows:        result.Matrix.Rows,
			Dim:         result.Matrix.Dim,
		}); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
	}
	return result, nil
}

func (b *Builder) upToDate(ctx context.Context, dir string) (bool, error) {
	if b.checkpoints == nil {
		return false, nil
	}
	cp, err := b.checkpoints.LoadCheckpoint(ctx, CheckpointName)
	if err != nil {
		return false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	fingerprint := b.catalog.Fingerprint()
	if cp == nil || cp.Fingerprint != fingerprint || cp.Model != b.config.Model {
		return false, nil
	}

	// The checkpoint only proves a build happened; the output must still be there.
	_, manifest, err := index.LoadF32(dir)
	if err != nil {
		b.logger.Debug("previous output unreadable, rebuilding", "dir", dir, "err", err)
		return false, nil
	}
	return manifest.CatalogFingerprint == fingerprint && manifest.ModelID == b.config.Model, nil
}
