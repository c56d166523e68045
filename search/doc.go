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


// Package search fuses generative query expansion with exact vector search.
//
// A Fuser answers one free-text query in three steps:
//   - expand the query into ranked candidates with an ai.QueryExpander
//   - embed each candidate and fetch its nearest catalog rows from the index
//   - scale every hit by a decay of its candidate's rank and concatenate
//
// Results keep candidate order: all hits of candidate 0 come first, then
// those of candidate 1, and so on. Within a candidate they are ordered by
// similarity. The same catalog record may appear under several candidates;
// duplicates are kept and the list is never re-sorted across candidates.
//
// Any failure while searching a candidate fails the whole query.
package search
