package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	cache, err := newEmbeddingCache(8)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var loads atomic.Int32
	load := func(ctx context.Context, text string) ([]float32, error) {
		if loads.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []float32{1, 0}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := cache.get(ctxA, "Cobh, harbour town", load)
		errA <- err
	}()
	<-started

	type result struct {
		vec []float32
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, _, err := cache.get(context.Background(), "Cobh, harbour town", load)
		resB <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, []float32{1, 0}, r.vec)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller did not return")
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, 1, cache.len())
}

func TestEmbeddingCache_LoadTimeout(t *testing.T) {
	cache, err := newEmbeddingCache(8)
	require.NoError(t, err)
	cache.loadTimeout = 10 * time.Millisecond

	_, _, err = cache.get(context.Background(), "Kinsale, food", func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, cache.len())
}

func TestEmbeddingCache_ErrorsAreNotCached(t *testing.T) {
	cache, err := newEmbeddingCache(8)
	require.NoError(t, err)

	boom := errors.New("embedding service down")
	_, _, err = cache.get(context.Background(), "Dingle, dolphins", func(context.Context, string) ([]float32, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, hit, err := cache.get(context.Background(), "Dingle, dolphins", func(context.Context, string) ([]float32, error) {
		return []float32{0, 1}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []float32{0, 1}, v)
}
