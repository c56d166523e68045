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

import (
	"fmt"
	"math"
	"strings"
)

// ValidateQuery rejects blank queries with ErrEmptyQuery.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// ValidateCandidate requires a non-blank location and reason.
func ValidateCandidate(c *Candidate) error {
	if c == nil {
		return fmt.Errorf("%w: candidate is nil", ErrInvalidCandidate)
	}
	if strings.TrimSpace(c.Location) == "" {
		return fmt.Errorf("%w: location is empty", ErrInvalidCandidate)
	}
	if strings.TrimSpace(c.Reason) == "" {
		return fmt.Errorf("%w: reason is empty", ErrInvalidCandidate)
	}
	return nil
}

// ValidateVector requires a non-empty vector of finite values.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: vector is empty", ErrInvalidVector)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrInvalidVector, i)
		}
	}
	return nil
}
