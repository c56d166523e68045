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


// Package waypoint recommends catalog places for free-text travel queries.
//
// An Engine owns everything a query needs: the catalog, the similarity
// index built over the catalog embedding matrix, the AI provider used for
// query expansion and embedding, and the fuser that combines them. It is
// constructed once with Open and shared by every request.
package waypoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/ai/gemini"
	"github.com/poiesic/waypoint/ai/openai"
	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
	"github.com/poiesic/waypoint/index/qdrant"
	"github.com/poiesic/waypoint/search"
)

// Default input locations, relative to the working directory.
const (
	DefaultCatalogPath    = "data/catalog.csv"
	DefaultEmbeddingsPath = "data/embeddings.npy"
)

var (
	// ErrCatalogPathRequired is returned when no catalog path is configured.
	ErrCatalogPathRequired = errors.New("catalog path is required")
	// ErrEmbeddingsPathRequired is returned when no embedding matrix path is configured.
	ErrEmbeddingsPathRequired = errors.New("embeddings path is required")
)

// Engine owns the loaded catalog, index, AI provider and fuser for one
// process. It is safe for concurrent searches.
type Engine struct {
	catalog  *catalog.Store
	matrix   *index.Matrix
	manifest *index.Manifest
	index    index.Searcher
	remote   *qdrant.Index
	provider ai.AIProvider
	fuser    *search.Fuser
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	catalogPath    string
	embeddingsPath string
	metric         core.Metric
	aiConfig       *ai.Config
	provider       ai.AIProvider
	qdrantAddr     string
	qdrantName     string
	fuserOpts      []search.Option
	logger         *slog.Logger
}

// WithCatalogPath sets the catalog CSV file.
func WithCatalogPath(path string) Option {
	return func(o *options) {
		o.catalogPath = path
	}
}

// WithEmbeddingsPath sets the embedding matrix: a .npy file, a .f32 file or
// a directory holding index_manifest.json.
func WithEmbeddingsPath(path string) Option {
	return func(o *options) {
		o.embeddingsPath = path
	}
}

// WithMetric selects the similarity metric. Default is cosine.
func WithMetric(metric core.Metric) Option {
	return func(o *options) {
		o.metric = metric
	}
}

// WithAIConfig sets the configuration used to construct the AI provider.
func WithAIConfig(config *ai.Config) Option {
	return func(o *options) {
		o.aiConfig = config
	}
}

// WithProvider injects a ready-made provider instead of building one from
// the AI config. Once Open has wired it into the engine, Close closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithQdrant searches a qdrant collection instead of the in-process index.
// The collection is synced from the embedding matrix on Open.
func WithQdrant(addr, collection string) Option {
	return func(o *options) {
		o.qdrantAddr = addr
		o.qdrantName = collection
	}
}

// WithFuserOptions passes options through to the search fuser.
func WithFuserOptions(opts ...search.Option) Option {
	return func(o *options) {
		o.fuserOpts = append(o.fuserOpts, opts...)
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open builds an engine. Any failure while loading the catalog, loading the
// matrix or connecting services is returned and nothing is left open.
func Open(ctx context.Context, opts ...Option) (*Engine, error) {
	o := &options{
		catalogPath:    DefaultCatalogPath,
		embeddingsPath: DefaultEmbeddingsPath,
		metric:         core.MetricCosine,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.catalogPath == "" {
		return nil, ErrCatalogPathRequired
	}
	if o.embeddingsPath == "" {
		return nil, ErrEmbeddingsPathRequired
	}

	store, err := catalog.Load(o.catalogPath)
	if err != nil {
		return nil, err
	}

	matrix, manifest, err := index.LoadMatrix(o.embeddingsPath)
	if err != nil {
		return nil, err
	}
	if matrix.Rows != store.Len() {
		return nil, fmt.Errorf("%w: catalog has %d rows, embedding matrix has %d",
			core.ErrDimension, store.Len(), matrix.Rows)
	}
	if manifest != nil && manifest.CatalogFingerprint != "" && manifest.CatalogFingerprint != store.Fingerprint() {
		o.logger.Warn("embedding matrix was built from a different catalog",
			"manifest", manifest.CatalogFingerprint, "catalog", store.Fingerprint())
	}

	e := &Engine{
		catalog:  store,
		matrix:   matrix,
		manifest: manifest,
		logger:   o.logger,
	}

	if err := e.buildIndex(ctx, o); err != nil {
		e.Close()
		return nil, err
	}

	if o.provider != nil {
		e.provider = o.provider
	} else {
		e.provider, err = NewProvider(ctx, o.aiConfig)
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	if manifest != nil && o.aiConfig != nil && manifest.ModelID != "" && manifest.ModelID != o.aiConfig.EmbeddingModel {
		o.logger.Warn("embedding model differs from the one that built the matrix",
			"manifest", manifest.ModelID, "configured", o.aiConfig.EmbeddingModel)
	}

	fuserOpts := append([]search.Option{search.WithLogger(o.logger)}, o.fuserOpts...)
	e.fuser, err = search.NewFuser(e.provider.QueryExpander(), e.provider.Embedder(), e.index, store, fuserOpts...)
	if err != nil {
		e.Close()
		return nil, err
	}

	o.logger.Info("engine ready",
		"records", store.Len(), "dim", matrix.Dim, "metric", o.metric.String())
	return e, nil
}

func (e *Engine) buildIndex(ctx context.Context, o *options) error {
	if o.qdrantAddr == "" {
		flat, err := index.Build(e.matrix, o.metric)
		if err != nil {
			return err
		}
		e.index = flat
		return nil
	}

	remote, err := qdrant.New(o.qdrantAddr, o.qdrantName, o.metric)
	if err != nil {
		return err
	}
	e.remote = remote
	if err := remote.Sync(ctx, e.matrix); err != nil {
		return fmt.Errorf("syncing qdrant collection %q: %w", o.qdrantName, err)
	}
	e.index = remote
	return nil
}

// NewProvider builds the provider selected by config.Backend. A nil config
// means ai.DefaultConfig().
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	if config == nil {
		config = ai.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Backend {
	case ai.BackendGemini:
		return gemini.NewProvider(ctx, config)
	default:
		return openai.NewProvider(config)
	}
}

// Search answers a free-text query with ranked catalog records.
func (e *Engine) Search(ctx context.Context, query string) ([]core.ScoredResult, error) {
	return e.fuser.Search(ctx, query)
}

// SearchWithMonitor is Search with an extra per-call monitor.
func (e *Engine) SearchWithMonitor(ctx context.Context, query string, monitor search.SearchMonitor) ([]core.ScoredResult, error) {
	return e.fuser.SearchWithMonitor(ctx, query, monitor)
}

// Catalog returns the loaded catalog.
func (e *Engine) Catalog() *catalog.Store {
	return e.catalog
}

// Matrix returns the loaded embedding matrix.
func (e *Engine) Matrix() *index.Matrix {
	return e.matrix
}

// Manifest returns the matrix manifest, or nil for numpy input.
func (e *Engine) Manifest() *index.Manifest {
	return e.manifest
}

// Close releases the search pool, the AI provider and any Qdrant connection.
func (e *Engine) Close() error {
	if e.fuser != nil {
		e.fuser.Release()
	}

	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.remote != nil {
		if err := e.remote.Close(); err != nil {
			e.logger.Error("error closing qdrant client", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
