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


package core

import "errors"

// Pipeline errors
var (
	// ErrLoad indicates the catalog or embedding source is missing or malformed.
	ErrLoad = errors.New("load failed")

	// ErrDimension indicates a vector or matrix has the wrong shape, or the
	// catalog and embedding matrix disagree on row count.
	ErrDimension = errors.New("dimension mismatch")

	// ErrExpansionParse indicates the generative service returned text that
	// does not match the candidate schema. Expanders recover from it.
	ErrExpansionParse = errors.New("unparseable expansion response")

	// ErrUpstreamService indicates the generative or embedding service failed.
	ErrUpstreamService = errors.New("upstream service failed")
)

// Domain validation errors
var (
	// ErrEmptyQuery indicates a blank search query.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidCandidate indicates a Candidate failed validation.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrInvalidVector indicates an empty vector or one with NaN/Inf entries.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrUnknownMetric indicates an unsupported similarity metric name.
	ErrUnknownMetric = errors.New("unknown metric")
)
