package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/poiesic/waypoint/ai/mock"
	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 16

type fixture struct {
	store    *catalog.Store
	index    *index.Flat
	embedder *mock.MockEmbedder
}

// newFixture builds a catalog of n records whose rows are the mock
// embeddings of "Place i, reason i", so a candidate with that location and
// reason matches row i exactly.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	records := make([]core.CatalogRecord, n)
	rows := make([][]float32, n)
	for i := range records {
		records[i] = core.CatalogRecord{
			Name: fmt.Sprintf("Place %d", i),
			URL:  fmt.Sprintf("https://example.ie/%d", i),
			Tags: "test",
		}
		rows[i] = mock.Vector(candidate(i).Query(), testDim)
	}
	matrix, err := index.NewMatrix(rows)
	require.NoError(t, err)
	idx, err := index.Build(matrix, core.MetricCosine)
	require.NoError(t, err)

	return &fixture{
		store:    catalog.New(records),
		index:    idx,
		embedder: mock.NewMockEmbedder().WithDimension(testDim),
	}
}

func candidate(i int) core.Candidate {
	return core.Candidate{Location: fmt.Sprintf("Place %d", i), Reason: fmt.Sprintf("reason %d", i)}
}

func (fx *fixture) fuser(t *testing.T, expander *mock.MockQueryExpander, opts ...Option) *Fuser {
	t.Helper()
	f, err := NewFuser(expander, fx.embedder, fx.index, fx.store, opts...)
	require.NoError(t, err)
	t.Cleanup(f.Release)
	return f
}

type recordingMonitor struct {
	mu         sync.Mutex
	started    string
	candidates []core.Candidate
	searched   map[int]int
	lookups    []bool
	finished   []core.ScoredResult
	failed     error
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{searched: map[int]int{}}
}

func (m *recordingMonitor) Start(query string) { m.started = query }

func (m *recordingMonitor) AfterExpansion(candidates []core.Candidate) { m.candidates = candidates }

func (m *recordingMonitor) EmbeddingCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, hit)
}

func (m *recordingMonitor) AfterCandidateSearch(rank int, _ core.Candidate, matches []core.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched[rank] = len(matches)
}

func (m *recordingMonitor) Finish(results []core.ScoredResult) { m.finished = results }

func (m *recordingMonitor) Failed(err error) { m.failed = err }

func TestFuser_ConcatenatesByRank(t *testing.T) {
	fx := newFixture(t, 10)
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(7), candidate(2), candidate(4)))

	results, err := f.Search(context.Background(), "somewhere quiet")
	require.NoError(t, err)
	require.Len(t, results, 15)

	for i, r := range results {
		assert.Equal(t, i/DefaultTopK, r.Rank, "result %d", i)
	}

	// Each block opens with the exact match for its candidate.
	assert.Equal(t, "Place 7", results[0].Record.Name)
	assert.Equal(t, "Place 2", results[5].Record.Name)
	assert.Equal(t, "Place 4", results[10].Record.Name)
	assert.Equal(t, core.Position(7), results[0].Record.Position)

	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.InDelta(t, 0.951229, results[5].Score, 1e-5)
	assert.InDelta(t, 0.904837, results[10].Score, 1e-5)

	// Within a block scores are non-increasing; across blocks no re-sort.
	for b := 0; b < 3; b++ {
		block := results[b*5 : (b+1)*5]
		for i := 1; i < len(block); i++ {
			assert.GreaterOrEqual(t, block[i-1].Score, block[i].Score)
		}
	}
}

func TestFuser_KeepsDuplicates(t *testing.T) {
	fx := newFixture(t, 6)
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(1), candidate(1)))

	results, err := f.Search(context.Background(), "twice")
	require.NoError(t, err)
	require.Len(t, results, 10)
	assert.Equal(t, results[0].Record, results[5].Record)
	assert.Greater(t, results[0].Score, results[5].Score)
}

func TestFuser_EmptyExpansion(t *testing.T) {
	fx := newFixture(t, 4)
	f := fx.fuser(t, mock.NewScriptedExpander())

	results, err := f.Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, fx.embedder.CallCount())
}

func TestFuser_EmptyQuery(t *testing.T) {
	fx := newFixture(t, 4)
	expander := mock.NewMockQueryExpander()
	f := fx.fuser(t, expander)

	_, err := f.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, core.ErrEmptyQuery)
	assert.Equal(t, 0, expander.CallCount())
}

func TestFuser_SmallCatalog(t *testing.T) {
	fx := newFixture(t, 3)
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(0), candidate(1)))

	results, err := f.Search(context.Background(), "few")
	require.NoError(t, err)
	assert.Len(t, results, 6)
}

func TestFuser_ExpansionError(t *testing.T) {
	fx := newFixture(t, 4)
	expander := mock.NewMockQueryExpander()
	expander.ExpandFunc = func(context.Context, string) ([]core.Candidate, error) {
		return nil, fmt.Errorf("%w: model offline", core.ErrUpstreamService)
	}
	f := fx.fuser(t, expander)

	_, err := f.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, core.ErrUpstreamService)
}

func TestFuser_AbortsOnCandidateFailure(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			fx := newFixture(t, 8)
			failing := candidate(3).Query()
			fx.embedder.WithEmbedTextFunc(func(_ context.Context, text string) ([]float32, error) {
				if text == failing {
					return nil, fmt.Errorf("%w: embedding timed out", core.ErrUpstreamService)
				}
				return mock.Vector(text, testDim), nil
			})
			monitor := newRecordingMonitor()
			f := fx.fuser(t,
				mock.NewScriptedExpander(candidate(0), candidate(3), candidate(5)),
				WithConcurrency(concurrency),
			)

			results, err := f.SearchWithMonitor(context.Background(), "coast", monitor)
			require.Error(t, err)
			assert.Nil(t, results)
			assert.ErrorIs(t, err, core.ErrUpstreamService)
			assert.ErrorIs(t, monitor.failed, core.ErrUpstreamService)
			assert.Nil(t, monitor.finished)
		})
	}
}

func TestFuser_DimensionMismatch(t *testing.T) {
	fx := newFixture(t, 4)
	fx.embedder.WithDimension(testDim + 1)
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(0)))

	_, err := f.Search(context.Background(), "mismatch")
	assert.ErrorIs(t, err, core.ErrDimension)
}

func TestFuser_ConcurrentMatchesSequential(t *testing.T) {
	fx := newFixture(t, 20)
	cands := []core.Candidate{candidate(11), candidate(0), candidate(19), candidate(5), candidate(8)}

	sequential := fx.fuser(t, mock.NewScriptedExpander(cands...))
	concurrent := fx.fuser(t, mock.NewScriptedExpander(cands...), WithConcurrency(3))

	want, err := sequential.Search(context.Background(), "anywhere")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		got, err := concurrent.Search(context.Background(), "anywhere")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFuser_Options(t *testing.T) {
	fx := newFixture(t, 10)
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(0), candidate(1)),
		WithTopK(2),
		WithDecay(func(rank int) float64 { return 1 / float64(rank+1) }),
	)

	results, err := f.Search(context.Background(), "custom")
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.InDelta(t, 0.5, results[2].Score, 1e-5)

	_, err = NewFuser(mock.NewMockQueryExpander(), fx.embedder, fx.index, fx.store, WithTopK(0))
	assert.Error(t, err)
}

func TestFuser_EmbeddingCache(t *testing.T) {
	fx := newFixture(t, 6)
	monitor := newRecordingMonitor()
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(1), candidate(2)),
		WithEmbeddingCache(16),
		WithMonitor(monitor),
	)

	first, err := f.Search(context.Background(), "again")
	require.NoError(t, err)
	second, err := f.Search(context.Background(), "again")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, fx.embedder.CallCount())
	assert.Equal(t, []bool{false, false, true, true}, monitor.lookups)
	assert.Equal(t, 2, f.cache.len())
}

func TestFuser_MonitorHooks(t *testing.T) {
	fx := newFixture(t, 6)
	monitor := newRecordingMonitor()
	f := fx.fuser(t, mock.NewScriptedExpander(candidate(0), candidate(1), candidate(2)))

	results, err := f.SearchWithMonitor(context.Background(), "watch me", monitor)
	require.NoError(t, err)

	assert.Equal(t, "watch me", monitor.started)
	assert.Len(t, monitor.candidates, 3)
	assert.Equal(t, map[int]int{0: 5, 1: 5, 2: 5}, monitor.searched)
	assert.Equal(t, results, monitor.finished)
	assert.NoError(t, monitor.failed)
}

func TestFuser_CancelledContext(t *testing.T) {
	fx := newFixture(t, 6)
	var calls atomic.Int32
	expander := mock.NewMockQueryExpander()
	expander.ExpandFunc = func(ctx context.Context, _ string) ([]core.Candidate, error) {
		calls.Add(1)
		return []core.Candidate{candidate(0)}, nil
	}
	f := fx.fuser(t, expander)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Search(ctx, "late")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewFuser_Validation(t *testing.T) {
	fx := newFixture(t, 4)
	expander := mock.NewMockQueryExpander()

	_, err := NewFuser(nil, fx.embedder, fx.index, fx.store)
	assert.ErrorIs(t, err, ErrExpanderRequired)
	_, err = NewFuser(expander, nil, fx.index, fx.store)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewFuser(expander, fx.embedder, nil, fx.store)
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = NewFuser(expander, fx.embedder, fx.index, nil)
	assert.ErrorIs(t, err, ErrCatalogRequired)

	short := newFixture(t, 3)
	_, err = NewFuser(expander, fx.embedder, fx.index, short.store)
	assert.ErrorIs(t, err, ErrIndexCatalogMismatch)
	assert.ErrorIs(t, err, core.ErrDimension)
}

func TestExponentialDecay(t *testing.T) {
	assert.Equal(t, 1.0, ExponentialDecay(0))
	assert.InDelta(t, math.Exp(-0.05), ExponentialDecay(1), 1e-12)
	assert.InDelta(t, 0.904837, ExponentialDecay(2), 1e-6)
}
