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


package embedding

import (
	"fmt"
	"time"
)

// CheckpointName is the checkpoint key used for catalog builds.
const CheckpointName = "catalog"

// Config holds configuration for an embedding build.
type Config struct {
	// Model names the embedding model. It keys the cache and is recorded in
	// the manifest.
	Model string

	// BatchSize is the number of records sent per embedding request
	BatchSize int

	// Concurrency is the number of batches embedded in parallel
	Concurrency int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxAttempts is the maximum number of attempts per batch. Attempts
	// multiply with the embedder's own retries, so pair it with a provider
	// configured for a single attempt.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Force rebuilds even when the last checkpoint matches the catalog.
	Force bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      32,
		Concurrency:    1,
		ReportInterval: 100,
		MaxAttempts:    3,
		RetryDelay:     1 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Model == "" {
		return ErrModelRequired
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("embedding config: BatchSize must be positive, got %d", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("embedding config: Concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("embedding config: MaxAttempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}
