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


// Package ai provides abstractions for the AI services used by waypoint.
//
// Two capabilities are consumed by the search pipeline:
//
//   - Embedder: maps text into the vector space of the catalog embeddings
//   - QueryExpander: asks a generative model for refined candidate queries
//
// AIProvider bundles both so callers can construct and close them together.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible servers through langchaingo
//   - ai/gemini: the Google Gemini API through the genai SDK
//   - ai/mock: scripted test doubles
//
// Public constructors in the implementation packages return interface types.
// Mock constructors return concrete types so tests can script behavior and
// inspect call counts.
//
// # Query Expansion Contract
//
// Every expander sends ExpansionPrompt(region, max) followed by the raw
// query and hands the completion to ParseCandidates. A completion that
// does not parse yields zero candidates rather than an error, so a query
// the model cannot answer degrades to an empty result list. Transport
// failures are wrapped in core.ErrUpstreamService and returned.
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	candidates, err := provider.QueryExpander().Expand(ctx, "castles by the sea")
package ai
