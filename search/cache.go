package search

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// sharedLoadTimeout bounds an embedding request shared by several queries.
// The request outlives any single caller's cancellation.
const sharedLoadTimeout = 60 * time.Second

// embeddingCache memoises candidate embeddings. Concurrent misses for the
// same text share one embedding request.
type embeddingCache struct {
	lru         *lru.Cache[string, []float32]
	group       singleflight.Group
	loadTimeout time.Duration
}

func newEmbeddingCache(maxEntries int) (*embeddingCache, error) {
	c, err := lru.New[string, []float32](maxEntries)
	if err != nil {
		return nil, err
	}
	return &embeddingCache{lru: c, loadTimeout: sharedLoadTimeout}, nil
}

// get returns the vector for text, loading it on a miss. hit reports
// whether the value was already cached. Cached vectors are shared and must
// not be modified.
//
// The shared load runs detached from ctx so that one caller giving up does
// not fail the others waiting on the same text; each caller still returns
// as soon as its own ctx is done.
func (c *embeddingCache) get(ctx context.Context, text string, load func(context.Context, string) ([]float32, error)) ([]float32, bool, error) {
	if v, ok := c.lru.Get(text); ok {
		return v, true, nil
	}

	ch := c.group.DoChan(text, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		loaded, err := load(loadCtx, text)
		if err != nil {
			return nil, err
		}
		c.lru.Add(text, loaded)
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]float32), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *embeddingCache) len() int {
	return c.lru.Len()
}
