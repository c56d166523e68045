package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/poiesic/waypoint"
	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/catalog"
	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/embedding"
	"github.com/poiesic/waypoint/events"
	"github.com/poiesic/waypoint/index"
	"github.com/poiesic/waypoint/metrics"
	"github.com/poiesic/waypoint/server"
	"github.com/poiesic/waypoint/storage/badger"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve recommendations over HTTP",
		Action: serveAction,
		Flags: concat(engineFlags(), aiFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address",
				Value:   ":8000",
				EnvVars: []string{"WAYPOINT_ADDR"},
			},
			&cli.StringFlag{
				Name:  "cors-origin",
				Usage: "Allowed CORS origin",
				Value: "*",
			},
			&cli.DurationFlag{
				Name:  "search-timeout",
				Usage: "Timeout for one search request",
				Value: 90 * time.Second,
			},
			&cli.StringFlag{
				Name:    "google-api-key",
				Usage:   "Google Custom Search API key for image lookups",
				EnvVars: []string{"GOOGLE_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "google-cx",
				Usage:   "Google Custom Search engine id",
				EnvVars: []string{"GOOGLE_CX"},
			},
			&cli.Float64Flag{
				Name:  "image-rate",
				Usage: "Image lookups per second",
				Value: 5,
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "Publish search events to this NATS server",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:  "nats-subject",
				Usage: "Subject for search events",
				Value: events.DefaultSubject,
			},
		}),
	}
}

func serveAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	burst := int(c.Float64("image-rate"))
	if burst < 1 {
		burst = 1
	}
	opts := []server.Option{
		server.WithCORSOrigin(c.String("cors-origin")),
		server.WithSearchTimeout(c.Duration("search-timeout")),
		server.WithMetrics(metrics.New()),
		server.WithImageSearcher(server.NewImageSearcher(
			c.String("google-api-key"),
			c.String("google-cx"),
			server.WithImageRateLimit(rate.Limit(c.Float64("image-rate")), burst),
		)),
	}

	if url := c.String("nats-url"); url != "" {
		nc, err := nats.Connect(url, nats.Name("waypoint"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		opts = append(opts, server.WithEvents(events.NewPublisher(nc,
			events.WithSubject(c.String("nats-subject")),
			events.WithOutcome(metrics.Outcome),
		)))
	}

	return server.New(engine, opts...).Run(ctx, c.String("addr"))
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run one query and print the ranked results",
		ArgsUsage: "<query>",
		Action:    searchAction,
		Flags: concat(engineFlags(), aiFlags(), []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		}),
	}
}

func searchAction(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("query is required")
	}

	ctx := context.Background()
	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if c.Bool("json") {
		return printJSON(c.App.Writer, results)
	}
	return printTable(c.App.Writer, results)
}

type jsonResult struct {
	Rank      int      `json:"rank"`
	Name      string   `json:"name"`
	Url       string   `json:"url"`
	Telephone string   `json:"telephone"`
	Address   string   `json:"address"`
	Tags      []string `json:"tags"`
	Score     *float64 `json:"score"`
}

func printJSON(w io.Writer, results []core.ScoredResult) error {
	out := make([]jsonResult, len(results))
	for i, r := range results {
		out[i] = jsonResult{
			Rank:      r.Rank,
			Name:      r.Record.Name,
			Url:       r.Record.URL,
			Telephone: r.Record.Telephone,
			Address:   r.Record.Address,
			Tags:      r.Record.TagList(),
		}
		if s := r.Score; !math.IsNaN(s) && !math.IsInf(s, 0) {
			out[i].Score = &s
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printTable(w io.Writer, results []core.ScoredResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No results")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRANK\tSCORE\tNAME\tADDRESS")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%s\t%s\n", i+1, r.Rank, r.Score, r.Record.Name, r.Record.Address)
	}
	return tw.Flush()
}

func embedCommand() *cli.Command {
	return &cli.Command{
		Name:   "embed",
		Usage:  "Embed every catalog record and write an index directory",
		Action: embedAction,
		Flags: concat(aiFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "catalog",
				Aliases:  []string{"c"},
				Usage:    "Catalog CSV file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Output index directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "cache",
				Aliases: []string{"d"},
				Usage:   "BadgerDB directory caching embeddings between runs (in-memory if empty)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of records per embedding request",
				Value: 32,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Batches embedded in parallel",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N records",
				Value: 100,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Rebuild even if the output is up to date",
			},
			&cli.BoolFlag{
				Name:  "purge",
				Usage: "Drop cached embeddings for the model before building",
			},
		}),
	}
}

func embedAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Load(c.String("catalog"))
	if err != nil {
		return err
	}

	aiConfig, err := aiConfigFromFlags(c)
	if err != nil {
		return err
	}
	// The builder retries whole batches with --max-attempts, so the provider
	// makes a single attempt per call.
	providerConfig := *aiConfig
	providerConfig.MaxAttempts = 1
	provider, err := newProvider(ctx, &providerConfig)
	if err != nil {
		return fmt.Errorf("failed to create AI provider: %w", err)
	}
	defer provider.Close()

	cachePath := c.String("cache")
	backend, err := badger.OpenBackend(cachePath, cachePath == "")
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer backend.Close()

	cache, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create cache repository: %w", err)
	}
	defer cache.Close()

	if c.Bool("purge") {
		n, err := cache.PurgeModel(ctx, aiConfig.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("failed to purge cache: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Purged %d cached embeddings\n", n)
	}

	config := embedding.DefaultConfig()
	config.Model = aiConfig.EmbeddingModel
	config.BatchSize = c.Int("batch-size")
	config.Concurrency = c.Int("workers")
	config.ReportInterval = c.Int("report-interval")
	config.MaxAttempts = c.Int("max-attempts")
	config.RetryDelay = c.Duration("retry-delay")
	config.Force = c.Bool("force")

	builder, err := embedding.NewBuilder(store, provider.Embedder(), config,
		embedding.WithCache(cache),
		embedding.WithCheckpoints(badger.NewCheckpointRepository(backend)),
		embedding.WithProgress(os.Stderr),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Catalog: %s (%d records)\n", c.String("catalog"), store.Len())
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", config.Model)
	fmt.Fprintf(os.Stderr, "Output: %s\n", c.String("out"))
	fmt.Fprintln(os.Stderr)

	result, err := builder.Write(ctx, c.String("out"))
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if result.UpToDate {
		fmt.Fprintln(c.App.Writer, "Embeddings are up to date")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "Wrote %d x %d matrix (%d embedded, %d cached) in %s\n",
		result.Matrix.Rows, result.Matrix.Dim, result.Embedded, result.CacheHits, result.Elapsed.Round(time.Millisecond))
	return nil
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:   "inspect",
		Usage:  "Print catalog and embedding matrix shapes and check they align",
		Action: inspectAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog",
				Aliases: []string{"c"},
				Usage:   "Catalog CSV file",
				Value:   waypoint.DefaultCatalogPath,
			},
			&cli.StringFlag{
				Name:    "embeddings",
				Aliases: []string{"e"},
				Usage:   "Embedding matrix (.npy file or index directory)",
				Value:   waypoint.DefaultEmbeddingsPath,
			},
		},
	}
}

// errMisaligned is returned by inspect when the catalog and matrix differ in rows.
var errMisaligned = errors.New("catalog and embedding matrix are not aligned")

func inspectAction(c *cli.Context) error {
	store, err := catalog.Load(c.String("catalog"))
	if err != nil {
		return err
	}
	matrix, manifest, err := index.LoadMatrix(c.String("embeddings"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Catalog:     %s\n", c.String("catalog"))
	fmt.Fprintf(w, "  records:   %d\n", store.Len())
	fmt.Fprintf(w, "  hash:      %s\n", store.Fingerprint())
	fmt.Fprintf(w, "Embeddings:  %s\n", c.String("embeddings"))
	fmt.Fprintf(w, "  shape:     %d x %d\n", matrix.Rows, matrix.Dim)
	if manifest != nil {
		fmt.Fprintf(w, "  model:     %s\n", manifest.ModelID)
		fmt.Fprintf(w, "  created:   %s\n", manifest.CreatedAt)
		if manifest.CatalogFingerprint != "" && manifest.CatalogFingerprint != store.Fingerprint() {
			fmt.Fprintln(w, "  warning:   built from a different catalog")
		}
	}

	if matrix.Rows != store.Len() {
		return fmt.Errorf("%w: %d records, %d rows: %w", errMisaligned, store.Len(), matrix.Rows, core.ErrDimension)
	}
	fmt.Fprintln(w, "Aligned:     yes")
	return nil
}

// newProvider is swapped in tests.
var newProvider = func(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	return waypoint.NewProvider(ctx, config)
}
