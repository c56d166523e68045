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


// Package storage provides the storage abstraction for the catalog
// embedding cache.
//
// Embedding the whole catalog is the slowest and most expensive step of
// preparing a deployment, so the embedding builder caches every vector it
// obtains, keyed by model and a content hash of the embedded text. A re-run
// after editing a few catalog rows only calls the embedding service for the
// rows that changed.
//
// The cache is build-time tooling. The similarity index itself is always
// rebuilt in memory from the exported matrix at startup.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces to keep callers decoupled from
// BadgerDB:
//
//	repo, err := badger.NewEmbeddingRepository(backend) // storage.EmbeddingRepository
//
// Internal constructors may return concrete types.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/cache", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
// Use in tests with in-memory storage:
//
//	embeddings, checkpoints, backend, err := badger.NewMemoryRepositories()
//
// # Thread Safety
//
// All repository implementations must be safe for concurrent use.
package storage
