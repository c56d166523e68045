package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
)

const (
	// DefaultTopK is the number of nearest rows fetched per candidate.
	DefaultTopK = 5

	// DefaultDecayScale is the rank scale of ExponentialDecay.
	DefaultDecayScale = 20.0
)

// DecayFunc returns the score multiplier for hits of the candidate at rank.
type DecayFunc func(rank int) float64

// ExponentialDecay is the default decay, exp(-rank/20).
func ExponentialDecay(rank int) float64 {
	return math.Exp(-float64(rank) / DefaultDecayScale)
}

// Fuser runs expansion, per-candidate retrieval and rank-decay fusion.
// It is safe for concurrent use.
type Fuser struct {
	expander ai.QueryExpander
	embedder ai.Embedder
	index    index.Searcher
	catalog  *catalog.Store
	topK     int
	decay    DecayFunc
	pool     *ants.Pool
	cache    *embeddingCache
	monitor  SearchMonitor
	logger   *slog.Logger
}

// Option configures a Fuser.
type Option func(*Fuser) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fuser) error {
		if logger == nil {
			logger = slog.Default()
		}
		f.logger = logger
		return nil
	}
}

// WithTopK sets how many catalog rows are fetched per candidate.
func WithTopK(k int) Option {
	return func(f *Fuser) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		f.topK = k
		return nil
	}
}

// WithDecay replaces the rank decay function.
func WithDecay(decay DecayFunc) Option {
	return func(f *Fuser) error {
		if decay == nil {
			decay = ExponentialDecay
		}
		f.decay = decay
		return nil
	}
}

// WithConcurrency searches up to n candidates in parallel on an ants pool.
// Default is 1, which searches candidates sequentially in rank order.
func WithConcurrency(n int) Option {
	return func(f *Fuser) error {
		if f.pool != nil {
			f.pool.Release()
			f.pool = nil
		}
		if n <= 1 {
			return nil
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		f.pool = pool
		return nil
	}
}

// WithEmbeddingCache memoises up to size candidate embeddings in an LRU.
// Identical candidate texts across queries then cost one embedding call.
func WithEmbeddingCache(size int) Option {
	return func(f *Fuser) error {
		if size <= 0 {
			f.cache = nil
			return nil
		}
		cache, err := newEmbeddingCache(size)
		if err != nil {
			return err
		}
		f.cache = cache
		return nil
	}
}

// WithMonitor sets the default monitor used by Search.
func WithMonitor(monitor SearchMonitor) Option {
	return func(f *Fuser) error {
		f.monitor = monitor
		return nil
	}
}

// NewFuser creates a new fuser. The index must have one row per catalog record.
func NewFuser(
	expander ai.QueryExpander,
	embedder ai.Embedder,
	idx index.Searcher,
	store *catalog.Store,
	opts ...Option,
) (*Fuser, error) {
	if expander == nil {
		return nil, ErrExpanderRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if store == nil {
		return nil, ErrCatalogRequired
	}
	if idx.Len() != store.Len() {
		return nil, fmt.Errorf("%w: %w: index has %d rows, catalog has %d",
			core.ErrDimension, ErrIndexCatalogMismatch, idx.Len(), store.Len())
	}

	f := &Fuser{
		expander: expander,
		embedder: embedder,
		index:    idx,
		catalog:  store,
		topK:     DefaultTopK,
		decay:    ExponentialDecay,
		monitor:  &noopMonitor{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			f.Release()
			return nil, err
		}
	}
	if f.monitor == nil {
		f.monitor = &noopMonitor{}
	}

	return f, nil
}

// Release frees the worker pool. The fuser should not be used afterwards.
func (f *Fuser) Release() {
	if f.pool != nil {
		f.pool.Release()
	}
}

// Search answers a free-text query with the fuser's default monitor.
func (f *Fuser) Search(ctx context.Context, query string) ([]core.ScoredResult, error) {
	return f.SearchWithMonitor(ctx, query, nil)
}

// SearchWithMonitor answers a free-text query. The monitor receives callbacks
// at each stage in addition to the fuser's default monitor.
//
// An expansion that yields no candidates returns an empty, non-nil slice.
// Any failure while searching a candidate fails the whole query.
func (f *Fuser) SearchWithMonitor(ctx context.Context, query string, monitor SearchMonitor) ([]core.ScoredResult, error) {
	mon := f.monitor
	if monitor != nil {
		mon = Monitors{f.monitor, monitor}
	}

	results, err := f.search(ctx, query, mon)
	if err != nil {
		mon.Failed(err)
		return nil, err
	}
	mon.Finish(results)
	return results, nil
}

func (f *Fuser) search(ctx context.Context, query string, mon SearchMonitor) ([]core.ScoredResult, error) {
	mon.Start(query)
	if err := core.ValidateQuery(query); err != nil {
		return nil, err
	}

	candidates, err := f.expander.Expand(ctx, query)
	if err != nil {
		f.logger.Error("error expanding query", "query", query, "err", err)
		return nil, err
	}
	mon.AfterExpansion(candidates)
	f.logger.Debug("expanded query", "query", query, "candidates", len(candidates))

	if len(candidates) == 0 {
		return []core.ScoredResult{}, nil
	}

	var slots [][]core.ScoredResult
	if f.pool == nil || len(candidates) == 1 {
		slots, err = f.searchSequential(ctx, candidates, mon)
	} else {
		slots, err = f.searchConcurrent(ctx, candidates, mon)
	}
	if err != nil {
		return nil, err
	}

	total := 0
	for _, s := range slots {
		total += len(s)
	}
	results := make([]core.ScoredResult, 0, total)
	for _, s := range slots {
		results = append(results, s...)
	}
	return results, nil
}

func (f *Fuser) searchSequential(ctx context.Context, candidates []core.Candidate, mon SearchMonitor) ([][]core.ScoredResult, error) {
	slots := make([][]core.ScoredResult, len(candidates))
	for rank, c := range candidates {
		results, err := f.searchCandidate(ctx, rank, c, mon)
		if err != nil {
			return nil, err
		}
		slots[rank] = results
	}
	return slots, nil
}

// searchConcurrent fills one slot per rank from the pool. The first failure
// cancels the remaining candidates. The error reported is that of the
// lowest-ranked candidate that failed for a reason other than cancellation.
func (f *Fuser) searchConcurrent(ctx context.Context, candidates []core.Candidate, mon SearchMonitor) ([][]core.ScoredResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([][]core.ScoredResult, len(candidates))
	errs := make([]error, len(candidates))
	var wg sync.WaitGroup

	for rank, c := range candidates {
		wg.Add(1)
		err := f.pool.Submit(func() {
			defer wg.Done()
			results, err := f.searchCandidate(ctx, rank, c, mon)
			if err != nil {
				errs[rank] = err
				cancel()
				return
			}
			slots[rank] = results
		})
		if err != nil {
			wg.Done()
			errs[rank] = err
			cancel()
			break
		}
	}
	wg.Wait()

	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if cancelled == nil {
			cancelled = err
		}
	}
	if cancelled != nil {
		return nil, cancelled
	}
	return slots, nil
}

func (f *Fuser) searchCandidate(ctx context.Context, rank int, c core.Candidate, mon SearchMonitor) ([]core.ScoredResult, error) {
	text := c.Query()

	vector, err := f.embed(ctx, text, mon)
	if err != nil {
		f.logger.Error("error embedding candidate", "rank", rank, "candidate", text, "err", err)
		return nil, err
	}

	matches, err := f.index.Search(ctx, vector, f.topK)
	if err != nil {
		f.logger.Error("error searching index", "rank", rank, "err", err)
		return nil, err
	}
	mon.AfterCandidateSearch(rank, c, matches)

	positions := make([]core.Position, len(matches))
	for i, m := range matches {
		positions[i] = m.Position
	}
	records, err := f.catalog.Get(positions...)
	if err != nil {
		return nil, err
	}

	factor := f.decay(rank)
	results := make([]core.ScoredResult, len(matches))
	for i, m := range matches {
		results[i] = core.ScoredResult{
			Record: records[i],
			Score:  float64(m.Score) * factor,
			Rank:   rank,
		}
	}
	return results, nil
}

func (f *Fuser) embed(ctx context.Context, text string, mon SearchMonitor) ([]float32, error) {
	if f.cache == nil {
		return f.embedder.EmbedText(ctx, text)
	}
	vector, hit, err := f.cache.get(ctx, text, f.embedder.EmbedText)
	if err != nil {
		return nil, err
	}
	mon.EmbeddingCacheLookup(hit)
	return vector, nil
}
