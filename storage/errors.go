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


package storage

import "errors"

var (
	// ErrStorageClosed is returned by every operation after Close.
	ErrStorageClosed = errors.New("embedding cache is closed")

	// ErrInvalidQuery is returned for malformed cache requests, such as an
	// entry without a model or vector.
	ErrInvalidQuery = errors.New("invalid cache request")

	// ErrSerializationFailed wraps encode and decode failures of cached values.
	ErrSerializationFailed = errors.New("cache value serialization failed")

	// ErrTruncatedData is returned when a cached value ends early.
	ErrTruncatedData = errors.New("truncated cache value")
)
