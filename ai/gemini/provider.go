package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/core"
	"google.golang.org/genai"
)

var (
	// ErrNoEmbeddingInResponse is returned when the API response carries fewer embeddings than inputs.
	ErrNoEmbeddingInResponse = errors.New("gemini: no embedding in response")
)

// Provider implements ai.AIProvider on top of one shared genai client.
type Provider struct {
	client   *genai.Client
	config   *ai.Config
	embedder *Embedder
	expander *QueryExpander
	logger   *slog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*genai.ClientConfig)

// WithBaseURL overrides the API endpoint, e.g. to target a proxy.
func WithBaseURL(url string) ProviderOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// NewProvider creates a Gemini-backed provider.
//
// Returns ai.AIProvider interface to enforce abstraction.
func NewProvider(ctx context.Context, config *ai.Config, opts ...ProviderOption) (ai.AIProvider, error) {
	return newProvider(ctx, config, opts...)
}

func newProvider(ctx context.Context, config *ai.Config, opts ...ProviderOption) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Backend != ai.BackendGemini {
		return nil, fmt.Errorf("gemini provider: config backend is %q", config.Backend)
	}
	if config.EmbeddingDimensions > math.MaxInt32 {
		return nil, errors.New("gemini provider: EmbeddingDimensions out of range")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	p := &Provider{
		client: client,
		config: config,
		logger: slog.Default().With("component", "gemini-provider"),
	}
	p.embedder = &Embedder{
		models: client.Models,
		config: config,
		logger: slog.Default().With("component", "gemini-embedder"),
	}
	p.expander = &QueryExpander{
		models: client.Models,
		config: config,
		logger: slog.Default().With("component", "gemini-expander"),
	}
	return p, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// QueryExpander returns the query expansion service.
func (p *Provider) QueryExpander() ai.QueryExpander {
	return p.expander
}

// Close releases resources held by the provider.
func (p *Provider) Close() error {
	p.logger.Debug("closing Gemini provider")
	return nil
}

// Embedder implements ai.Embedder with the Gemini embedding models.
type Embedder struct {
	models *genai.Models
	config *ai.Config
	logger *slog.Logger
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(strings.TrimSpace(text), genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if e.config.EmbeddingDimensions > 0 {
		//nolint:gosec // bounded by math.MaxInt32 in newProvider
		dim := int32(e.config.EmbeddingDimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	vectors, err := ai.Call(ctx, e.config, func(ctx context.Context) ([][]float32, error) {
		resp, err := e.models.EmbedContent(ctx, e.config.EmbeddingModel, contents, cfg)
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d for %d texts", ErrNoEmbeddingInResponse, len(resp.Embeddings), len(texts))
		}
		out := make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			out[i] = append([]float32(nil), emb.Values...)
		}
		return out, nil
	})
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}

	for i, v := range vectors {
		if err := core.ValidateVector(v); err != nil {
			return nil, fmt.Errorf("%w: text %d: %w", core.ErrUpstreamService, i, err)
		}
		if e.config.EmbeddingDimensions > 0 && len(v) != e.config.EmbeddingDimensions {
			return nil, fmt.Errorf("%w: embedding has %d values, want %d", core.ErrDimension, len(v), e.config.EmbeddingDimensions)
		}
	}
	return vectors, nil
}

// QueryExpander implements ai.QueryExpander with Gemini text generation.
type QueryExpander struct {
	models *genai.Models
	config *ai.Config
	logger *slog.Logger
}

// Expand asks the model for refined candidate queries.
func (q *QueryExpander) Expand(ctx context.Context, query string) ([]core.Candidate, error) {
	return ai.Expand(ctx, q.config, q.complete, query, q.logger)
}

func (q *QueryExpander) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := q.models.GenerateContent(ctx, q.config.GeneratorModel, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	// A blocked or empty candidate yields "", which fails parsing downstream
	// and is recovered as zero candidates.
	return resp.Text(), nil
}
