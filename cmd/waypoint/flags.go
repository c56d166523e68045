package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/waypoint"
	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/search"
)

// aiFlags configure the embedding and expansion backend.
func aiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "AI backend (openai, gemini)",
			Value:   string(ai.BackendOpenAI),
			EnvVars: []string{"WAYPOINT_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "host",
			Usage:   "Base URL of an OpenAI-compatible server for both services",
			Value:   "http://localhost:11434/v1",
			EnvVars: []string{"WAYPOINT_AI_HOST"},
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL (defaults to --host)",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name; must match the catalog matrix (backend default if empty)",
		},
		&cli.StringFlag{
			Name:  "generator-model",
			Usage: "Text generation model for query expansion (backend default if empty)",
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "API key for hosted backends",
			EnvVars: []string{"LLM_API_KEY"},
		},
		&cli.StringFlag{
			Name:  "region",
			Usage: "Region candidates are restricted to",
			Value: "Ireland",
		},
		&cli.IntFlag{
			Name:  "max-candidates",
			Usage: "Maximum expansion candidates per query",
			Value: 3,
		},
		&cli.DurationFlag{
			Name:  "request-timeout",
			Usage: "Timeout for each upstream request",
			Value: 30 * time.Second,
		},
		&cli.IntFlag{
			Name:  "max-attempts",
			Usage: "Attempts per upstream request",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Base delay for exponential backoff",
			Value: 500 * time.Millisecond,
		},
	}
}

// engineFlags locate the catalog and matrix and tune retrieval.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "catalog",
			Aliases: []string{"c"},
			Usage:   "Catalog CSV file",
			Value:   waypoint.DefaultCatalogPath,
			EnvVars: []string{"WAYPOINT_CATALOG"},
		},
		&cli.StringFlag{
			Name:    "embeddings",
			Aliases: []string{"e"},
			Usage:   "Embedding matrix (.npy file or index directory)",
			Value:   waypoint.DefaultEmbeddingsPath,
			EnvVars: []string{"WAYPOINT_EMBEDDINGS"},
		},
		&cli.StringFlag{
			Name:  "metric",
			Usage: "Similarity metric (cosine, euclidean)",
			Value: "cosine",
		},
		&cli.IntFlag{
			Name:  "top-k",
			Usage: "Catalog matches per candidate",
			Value: search.DefaultTopK,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Candidates searched in parallel",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "cache-size",
			Usage: "Candidate embeddings kept in memory (0 disables)",
			Value: 0,
		},
		&cli.StringFlag{
			Name:    "qdrant",
			Usage:   "Qdrant gRPC address; searches a synced collection instead of the in-process index",
			EnvVars: []string{"WAYPOINT_QDRANT"},
		},
		&cli.StringFlag{
			Name:  "qdrant-collection",
			Usage: "Qdrant collection name",
			Value: "waypoint",
		},
	}
}

func aiConfigFromFlags(c *cli.Context) (*ai.Config, error) {
	backend := ai.Backend(c.String("backend"))
	opts := []ai.ConfigOption{
		ai.WithBackend(backend),
		ai.WithHost(c.String("host")),
		ai.WithAPIKey(c.String("api-key")),
		ai.WithRegion(c.String("region")),
		ai.WithMaxCandidates(c.Int("max-candidates")),
		ai.WithRequestTimeout(c.Duration("request-timeout")),
		ai.WithRetry(c.Int("max-attempts"), c.Duration("retry-delay")),
	}
	if host := c.String("embedding-host"); host != "" {
		opts = append(opts, ai.WithEmbeddingHost(host))
	}
	if model := c.String("embedding-model"); model != "" {
		opts = append(opts, ai.WithEmbeddingModel(model))
	}
	if model := c.String("generator-model"); model != "" {
		opts = append(opts, ai.WithGeneratorModel(model))
	}

	cfg := ai.NewConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	return cfg, nil
}

func openEngine(ctx context.Context, c *cli.Context) (*waypoint.Engine, error) {
	metric, err := core.ParseMetric(c.String("metric"))
	if err != nil {
		return nil, err
	}
	aiConfig, err := aiConfigFromFlags(c)
	if err != nil {
		return nil, err
	}

	opts := []waypoint.Option{
		waypoint.WithCatalogPath(c.String("catalog")),
		waypoint.WithEmbeddingsPath(c.String("embeddings")),
		waypoint.WithMetric(metric),
		waypoint.WithAIConfig(aiConfig),
		waypoint.WithFuserOptions(
			search.WithTopK(c.Int("top-k")),
			search.WithConcurrency(c.Int("concurrency")),
			search.WithEmbeddingCache(c.Int("cache-size")),
		),
	}
	if addr := c.String("qdrant"); addr != "" {
		opts = append(opts, waypoint.WithQdrant(addr, c.String("qdrant-collection")))
	}

	engine, err := waypoint.Open(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func concat(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
