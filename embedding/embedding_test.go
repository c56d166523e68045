package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/waypoint/ai/mock"
	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
	"github.com/poiesic/waypoint/storage"
	"github.com/poiesic/waypoint/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(n int) *catalog.Store {
	records := make([]core.CatalogRecord, n)
	for i := range records {
		records[i] = core.CatalogRecord{
			Name:    fmt.Sprintf("Place %d", i),
			Address: fmt.Sprintf("%d Main Street", i),
			Tags:    "castle, history",
		}
	}
	return catalog.New(records)
}

func testConfig() *Config {
	return &Config{
		Model:          "test-model",
		BatchSize:      3,
		Concurrency:    2,
		ReportInterval: 3,
		MaxAttempts:    3,
		RetryDelay:     time.Millisecond,
	}
}

func memoryRepos(t *testing.T) (storage.EmbeddingRepository, storage.CheckpointRepository) {
	t.Helper()
	embeddings, checkpoints, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return embeddings, checkpoints
}

func TestBuilder_Build(t *testing.T) {
	store := testCatalog(10)
	embedder := mock.NewMockEmbedder().WithDimension(8)
	var progress bytes.Buffer

	b, err := NewBuilder(store, embedder, testConfig(), WithProgress(&progress))
	require.NoError(t, err)

	result, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, result.Matrix.Rows)
	assert.Equal(t, 8, result.Matrix.Dim)
	assert.Equal(t, 10, result.Embedded)
	assert.Zero(t, result.CacheHits)

	// row i is the embedding of record i, regardless of batch scheduling
	for i, rec := range store.Records() {
		assert.Equal(t, mock.Vector(rec.Text(), 8), result.Matrix.Row(i), "row %d", i)
	}
	assert.Equal(t, store.Fingerprint(), result.Manifest.CatalogFingerprint)
	assert.Equal(t, "test-model", result.Manifest.ModelID)
	assert.Contains(t, progress.String(), "10/10")
}

func TestBuilder_CacheAvoidsReembedding(t *testing.T) {
	cache, _ := memoryRepos(t)
	embedder := mock.NewMockEmbedder().WithDimension(4)
	var embedded atomic.Int64
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		embedded.Add(int64(len(texts)))
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, 4)
		}
		return out, nil
	}

	b, err := NewBuilder(testCatalog(7), embedder, testConfig(), WithCache(cache))
	require.NoError(t, err)
	first, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, first.Embedded)

	// edit one record and add another
	records := testCatalog(7).Records()
	records[2].Tags = "castle, history, gardens"
	records = append(records, core.CatalogRecord{Name: "New Place"})
	b, err = NewBuilder(catalog.New(records), embedder, testConfig(), WithCache(cache))
	require.NoError(t, err)

	second, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, second.CacheHits)
	assert.Equal(t, 2, second.Embedded)
	assert.Equal(t, int64(9), embedded.Load())
	assert.Equal(t, first.Matrix.Row(0), second.Matrix.Row(0))
}

func TestBuilder_RetriesTransientFailures(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	var calls atomic.Int64
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, core.ErrUpstreamService
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 2}
		}
		return out, nil
	}

	cfg := testConfig()
	cfg.Concurrency = 1
	b, err := NewBuilder(testCatalog(2), embedder, cfg)
	require.NoError(t, err)

	result, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matrix.Rows)
	assert.Equal(t, int64(2), calls.Load())
}

func TestBuilder_FailureAbortsBuild(t *testing.T) {
	boom := errors.New("quota exceeded")
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, boom
	}

	cfg := testConfig()
	cfg.MaxAttempts = 1
	b, err := NewBuilder(testCatalog(9), embedder, cfg)
	require.NoError(t, err)

	_, err = b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBuilder_RejectsBadVectors(t *testing.T) {
	t.Run("inconsistent dimensions", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = make([]float32, 2+len(text)%3)
				out[i][0] = 1
			}
			return out, nil
		}
		cfg := testConfig()
		cfg.BatchSize = 20
		b, err := NewBuilder(catalog.New([]core.CatalogRecord{{Name: "a"}, {Name: "bb"}}), embedder, cfg)
		require.NoError(t, err)

		_, err = b.Build(context.Background())
		assert.ErrorIs(t, err, core.ErrDimension)
	})

	t.Run("count mismatch", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}
		cfg := testConfig()
		cfg.MaxAttempts = 1
		b, err := NewBuilder(testCatalog(3), embedder, cfg)
		require.NoError(t, err)

		_, err = b.Build(context.Background())
		assert.ErrorIs(t, err, core.ErrUpstreamService)
	})

	t.Run("dimension errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			calls.Add(1)
			return nil, fmt.Errorf("%w: embedding has 3 values, want 4", core.ErrDimension)
		}
		cfg := testConfig()
		cfg.Concurrency = 1
		b, err := NewBuilder(testCatalog(2), embedder, cfg)
		require.NoError(t, err)

		_, err = b.Build(context.Background())
		assert.ErrorIs(t, err, core.ErrDimension)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestBuilder_WriteAndCheckpoint(t *testing.T) {
	cache, checkpoints := memoryRepos(t)
	dir := t.TempDir()
	store := testCatalog(5)
	embedder := mock.NewMockEmbedder().WithDimension(6)

	b, err := NewBuilder(store, embedder, testConfig(), WithCache(cache), WithCheckpoints(checkpoints))
	require.NoError(t, err)

	result, err := b.Write(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, result.UpToDate)

	m, manifest, err := index.LoadF32(dir)
	require.NoError(t, err)
	assert.Equal(t, result.Matrix.Data, m.Data)
	assert.Equal(t, store.Fingerprint(), manifest.CatalogFingerprint)

	cp, err := checkpoints.LoadCheckpoint(context.Background(), CheckpointName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 5, cp.Rows)
	assert.Equal(t, 6, cp.Dim)

	calls := embedder.CallCount()
	again, err := b.Write(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, again.UpToDate)
	assert.Equal(t, calls, embedder.CallCount())

	// a different output directory has no manifest, so it is rebuilt from cache
	other, err := b.Write(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, other.UpToDate)
	assert.Equal(t, 5, other.CacheHits)
}

func TestNewBuilder_Validation(t *testing.T) {
	_, err := NewBuilder(nil, mock.NewMockEmbedder(), testConfig())
	assert.ErrorIs(t, err, ErrCatalogRequired)

	_, err = NewBuilder(testCatalog(1), nil, testConfig())
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewBuilder(testCatalog(1), mock.NewMockEmbedder(), DefaultConfig())
	assert.ErrorIs(t, err, ErrModelRequired)

	cfg := testConfig()
	cfg.Concurrency = 0
	_, err = NewBuilder(testCatalog(1), mock.NewMockEmbedder(), cfg)
	assert.Error(t, err)
}

func TestBuilder_EmptyCatalog(t *testing.T) {
	b, err := NewBuilder(catalog.New(nil), mock.NewMockEmbedder(), testConfig())
	require.NoError(t, err)
	_, err = b.Build(context.Background())
	assert.ErrorIs(t, err, core.ErrLoad)
}

func TestRecordIterator(t *testing.T) {
	it := NewRecordIterator(testCatalog(7), 3)
	assert.Equal(t, 3, it.Batches())

	var starts, sizes []int
	err := it.ForEach(context.Background(), func(start int, records []core.CatalogRecord) error {
		starts = append(starts, start)
		sizes = append(sizes, len(records))
		assert.Equal(t, core.Position(start), records[0].Position)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 6}, starts)
	assert.Equal(t, []int{3, 3, 1}, sizes)

	stop := errors.New("stop")
	calls := 0
	err = it.ForEach(context.Background(), func(int, []core.CatalogRecord) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = it.ForEach(ctx, func(int, []core.CatalogRecord) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Add(5, 0) // not started
	assert.Empty(t, buf.String())

	tracker.Start()
	tracker.Add(25, 20)
	tracker.Add(150, 0)
	assert.Contains(t, buf.String(), "100/100")
	assert.Contains(t, buf.String(), "20 cached")

	tracker.Finish()
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 0, 10)
	tracker.Start()
	tracker.Finish()
	assert.Contains(t, buf.String(), "0/0")
}
