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


package ai

import (
	"errors"
	"strings"
	"time"
)

// Backend names the family of services a provider talks to.
type Backend string

const (
	// BackendOpenAI targets OpenAI-compatible servers (Ollama, vLLM, LocalAI).
	BackendOpenAI Backend = "openai"
	// BackendGemini targets the Google Gemini API.
	BackendGemini Backend = "gemini"
)

const (
	defaultHost                 = "http://localhost:11434/v1"
	defaultOpenAIEmbeddingModel = "all-minilm"
	defaultOpenAIGeneratorModel = "qwen2.5:3b"
	defaultGeminiEmbeddingModel = "gemini-embedding-001"
	defaultGeminiGeneratorModel = "gemini-2.5-flash"
	defaultRegion               = "Ireland"
	defaultMaxCandidates        = 3
	defaultRequestTimeout       = 30 * time.Second
	defaultRetryDelay           = 500 * time.Millisecond
	maxCandidatesUpperBound     = 10
)

// Config holds configuration for AI service providers.
type Config struct {
	// Backend selects the provider implementation.
	Backend Backend

	// EmbeddingHost is the base URL for the embedding service API.
	// Only used by the openai backend.
	// Example: "http://localhost:11434/v1" for a local OpenAI-compatible server
	EmbeddingHost string

	// GeneratorHost is the base URL for the text generation service API.
	// Only used by the openai backend.
	GeneratorHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// It must be the model that produced the catalog embedding matrix.
	// Example: "all-minilm", "gemini-embedding-001"
	EmbeddingModel string

	// GeneratorModel is the model identifier used for query expansion.
	// Example: "qwen2.5:3b", "gemini-2.5-flash"
	GeneratorModel string

	// APIKey authenticates against hosted services. Local OpenAI-compatible
	// servers accept any value.
	APIKey string

	// Region restricts expansion candidates to one geographic area.
	// Default: "Ireland"
	Region string

	// MaxCandidates caps the number of expansion candidates (1-10).
	// Default: 3
	MaxCandidates int

	// EmbeddingDimensions requests a specific output dimensionality where the
	// backend supports it. Zero keeps the model default.
	EmbeddingDimensions int

	// RequestTimeout bounds every single upstream request. Zero disables it.
	// Default: 30s
	RequestTimeout time.Duration

	// MaxAttempts is the number of tries per upstream request.
	// Default: 1 (no retries)
	MaxAttempts int

	// RetryDelay is the base backoff between attempts; it doubles per retry.
	RetryDelay time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithBackend selects the backend and resets both model names to that
// backend's defaults. Apply it before any model option.
func WithBackend(backend Backend) ConfigOption {
	return func(c *Config) {
		c.Backend = backend
		switch backend {
		case BackendGemini:
			c.EmbeddingModel = defaultGeminiEmbeddingModel
			c.GeneratorModel = defaultGeminiGeneratorModel
		case BackendOpenAI:
			c.EmbeddingModel = defaultOpenAIEmbeddingModel
			c.GeneratorModel = defaultOpenAIGeneratorModel
		}
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGeneratorHost sets the generation service host URL.
func WithGeneratorHost(host string) ConfigOption {
	return func(c *Config) {
		c.GeneratorHost = host
	}
}

// WithHost sets both embedding and generator hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GeneratorHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithGeneratorModel sets the generation model identifier.
func WithGeneratorModel(model string) ConfigOption {
	return func(c *Config) {
		c.GeneratorModel = model
	}
}

// WithAPIKey sets the API key for hosted services.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithRegion sets the region expansion candidates must belong to.
func WithRegion(region string) ConfigOption {
	return func(c *Config) {
		c.Region = region
	}
}

// WithMaxCandidates sets the maximum number of expansion candidates.
func WithMaxCandidates(n int) ConfigOption {
	return func(c *Config) {
		c.MaxCandidates = n
	}
}

// WithEmbeddingDimensions requests a specific embedding dimensionality.
func WithEmbeddingDimensions(dim int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingDimensions = dim
	}
}

// WithRequestTimeout bounds each upstream request.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithRetry sets the attempt count and base delay for upstream requests.
func WithRetry(maxAttempts int, baseDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryDelay = baseDelay
	}
}

// DefaultConfig returns a Config targeting a local OpenAI-compatible server.
// Both embedding and generation use the same host.
func DefaultConfig() *Config {
	return &Config{
		Backend:        BackendOpenAI,
		EmbeddingHost:  defaultHost,
		GeneratorHost:  defaultHost,
		EmbeddingModel: defaultOpenAIEmbeddingModel,
		GeneratorModel: defaultOpenAIGeneratorModel,
		Region:         defaultRegion,
		MaxCandidates:  defaultMaxCandidates,
		RequestTimeout: defaultRequestTimeout,
		MaxAttempts:    1,
		RetryDelay:     defaultRetryDelay,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithBackend(BackendGemini),
//	    WithAPIKey(os.Getenv("LLM_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// For the openai backend it adds the /v1 suffix to hosts if missing.
func (c *Config) Normalize() {
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	c.Region = strings.TrimSpace(c.Region)
	if c.Backend != BackendOpenAI {
		return
	}
	c.EmbeddingHost = withV1(c.EmbeddingHost)
	c.GeneratorHost = withV1(c.GeneratorHost)
}

func withV1(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Backend {
	case BackendOpenAI:
		if c.EmbeddingHost == "" {
			return errors.New("ai config: EmbeddingHost is required")
		}
		if c.GeneratorHost == "" {
			return errors.New("ai config: GeneratorHost is required")
		}
	case BackendGemini:
		if c.APIKey == "" {
			return errors.New("ai config: APIKey is required for the gemini backend")
		}
	default:
		return errors.New("ai config: unknown backend " + string(c.Backend))
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.GeneratorModel == "" {
		return errors.New("ai config: GeneratorModel is required")
	}
	if c.Region == "" {
		return errors.New("ai config: Region is required")
	}
	if c.MaxCandidates < 1 || c.MaxCandidates > maxCandidatesUpperBound {
		return errors.New("ai config: MaxCandidates must be between 1 and 10")
	}
	if c.EmbeddingDimensions < 0 {
		return errors.New("ai config: EmbeddingDimensions cannot be negative")
	}
	if c.RequestTimeout < 0 {
		return errors.New("ai config: RequestTimeout cannot be negative")
	}
	if c.MaxAttempts < 1 {
		return errors.New("ai config: MaxAttempts must be at least 1")
	}
	return nil
}
